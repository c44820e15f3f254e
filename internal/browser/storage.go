package browser

import (
	"context"
	"fmt"

	"github.com/ashureev/intent-sensor/internal/identity"
	"github.com/go-rod/rod"
)

// SessionStorage is the tab's window.sessionStorage.
type SessionStorage struct {
	page *rod.Page
}

var _ identity.Storage = (*SessionStorage)(nil)

// NewSessionStorage wraps the sessionStorage of page.
func NewSessionStorage(page *rod.Page) *SessionStorage {
	return &SessionStorage{page: page}
}

// Get reads key from sessionStorage.
func (s *SessionStorage) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      storageGetJS,
		JSArgs:  []interface{}{key},
		ByValue: true,
	})
	if err != nil {
		return "", false, fmt.Errorf("read sessionStorage %s: %w", key, err)
	}
	if res.Value.Nil() {
		return "", false, nil
	}
	return res.Value.Str(), true, nil
}

// Set writes key to sessionStorage.
func (s *SessionStorage) Set(ctx context.Context, key, value string) error {
	_, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      storageSetJS,
		JSArgs:  []interface{}{key, value},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("write sessionStorage %s: %w", key, err)
	}
	return nil
}
