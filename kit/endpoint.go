// Package kit is the transport-agnostic endpoint layer shared by the control
// surfaces. An operation is written once as an Endpoint and exposed over MCP
// or HTTP by thin adapters.
package kit

import "context"

// Endpoint handles one decoded request.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Text is a response sent verbatim instead of being JSON-encoded.
type Text string
