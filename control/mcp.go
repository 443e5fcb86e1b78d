package control

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sable-inc/sable-smart-links-sub000/kit"
)

// RegisterMCP registers the tour tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	tourID := map[string]any{"type": "string", "description": "Registered tour id (see tour_list)"}
	stepID := map[string]any{"type": "string", "description": "Step id to start from; unknown ids start at the first step"}
	skip := map[string]any{"type": "boolean", "description": "Show the first step without waiting for its trigger"}
	startSchema := inputSchema(map[string]any{
		"tour_id":      tourID,
		"step_id":      stepID,
		"skip_trigger": skip,
	}, []string{"tour_id"})
	none := inputSchema(map[string]any{}, nil)

	s.tool(srv, &mcp.Tool{
		Name:        "tour_list",
		Description: "List registered tours with their variant and step ids.",
		InputSchema: none,
	}, s.listEndpoint, kit.DecodeArgs[emptyRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_status",
		Description: "Describe the running tour and the content on screen. Markdown by default, or the raw status with format=json.",
		InputSchema: inputSchema(map[string]any{
			"format": map[string]any{"type": "string", "enum": []any{"markdown", "json"}, "description": "Output format (default markdown)"},
		}, nil),
	}, s.statusEndpoint, kit.DecodeArgs[statusRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_start",
		Description: "Start a tour. Any running tour ends first.",
		InputSchema: startSchema,
	}, s.startEndpoint, kit.DecodeArgs[startRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_restart",
		Description: "Restart a tour from its first step or from step_id.",
		InputSchema: startSchema,
	}, s.restartEndpoint, kit.DecodeArgs[startRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_next",
		Description: "Advance the running tour to its next step, or complete it after the last.",
		InputSchema: none,
	}, s.nextEndpoint, kit.DecodeArgs[emptyRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_previous",
		Description: "Go back one step in the running tour.",
		InputSchema: none,
	}, s.previousEndpoint, kit.DecodeArgs[emptyRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_end",
		Description: "End the running tour. Does nothing when no tour runs.",
		InputSchema: none,
	}, s.endEndpoint, kit.DecodeArgs[emptyRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_goto",
		Description: "Jump to a step of the running branching tour.",
		InputSchema: inputSchema(map[string]any{
			"step_id": map[string]any{"type": "string", "description": "Target step id"},
		}, []string{"step_id"}),
	}, s.gotoEndpoint, kit.DecodeArgs[gotoRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_signal",
		Description: "Emit a restart signal for an agent tour, as a page component would.",
		InputSchema: inputSchema(map[string]any{
			"agent_id":     map[string]any{"type": "string", "description": "Tour id the signal targets"},
			"step_id":      stepID,
			"skip_trigger": skip,
		}, []string{"agent_id"}),
	}, s.signalEndpoint, kit.DecodeArgs[signalRequest])

	limit := map[string]any{"type": "integer", "description": "Maximum rows (default 100)"}
	s.tool(srv, &mcp.Tool{
		Name:        "tour_funnel",
		Description: "Summarise how many runs of a tour started, completed or ended early, and how often each step was shown.",
		InputSchema: inputSchema(map[string]any{"tour_id": tourID}, []string{"tour_id"}),
	}, s.funnelEndpoint, kit.DecodeArgs[funnelRequest])

	s.tool(srv, &mcp.Tool{
		Name:        "tour_events",
		Description: "List recorded tour events, oldest first. All filters are optional.",
		InputSchema: inputSchema(map[string]any{
			"tour_id":     tourID,
			"instance_id": map[string]any{"type": "string", "description": "Run instance id (see tour_status)"},
			"type": map[string]any{"type": "string", "description": "Event type",
				"enum": []any{"tour_started", "step_shown", "step_skipped", "step_failed", "final_shown", "tour_completed", "tour_ended"}},
			"limit": limit,
		}, nil),
	}, s.eventsEndpoint, kit.DecodeArgs[eventsRequest])
}

func (s *Service) tool(srv *mcp.Server, t *mcp.Tool, ep kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	kit.RegisterMCPTool(srv, t, s.wrap(ep), decode)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
