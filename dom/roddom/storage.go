package roddom

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/sable-inc/sable-smart-links-sub000/storage"
)

// LocalStorage is a storage.Store over the page origin's localStorage, so
// snapshots and auto-start flags live in the browser profile.
type LocalStorage struct {
	page *rod.Page
}

var _ storage.Store = (*LocalStorage)(nil)

// NewLocalStorage returns a store over page.
func NewLocalStorage(page *rod.Page) *LocalStorage {
	return &LocalStorage{page: page}
}

// Get implements storage.Store.
func (s *LocalStorage) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := s.page.Context(ctx).Eval(`(k) => {
		const v = window.localStorage.getItem(k);
		return v === null ? {found: false} : {found: true, value: v};
	}`, key)
	if err != nil {
		return "", false, fmt.Errorf("%w: localStorage get %q: %v", storage.ErrUnavailable, key, err)
	}
	if !res.Value.Get("found").Bool() {
		return "", false, nil
	}
	return res.Value.Get("value").Str(), true, nil
}

// Set implements storage.Store.
func (s *LocalStorage) Set(ctx context.Context, key, value string) error {
	if _, err := s.page.Context(ctx).Eval(`(k, v) => window.localStorage.setItem(k, v)`, key, value); err != nil {
		return fmt.Errorf("%w: localStorage set %q: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}

// Delete implements storage.Store.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.page.Context(ctx).Eval(`(k) => window.localStorage.removeItem(k)`, key); err != nil {
		return fmt.Errorf("%w: localStorage delete %q: %v", storage.ErrUnavailable, key, err)
	}
	return nil
}
