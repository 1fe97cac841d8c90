// Package testutil provides shared mocks and fixtures for console tests.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/mock"

	"github.com/wamanager/console/internal/adminapi"
	"github.com/wamanager/console/internal/notify"
)

// MockAuthenticator is a mock implementation of session.Authenticator.
type MockAuthenticator struct {
	mock.Mock
}

// Login mocks the Login method.
func (m *MockAuthenticator) Login(ctx context.Context, req adminapi.LoginRequest) (*adminapi.LoginResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*adminapi.LoginResult), args.Error(1)
}

// Refresh mocks the Refresh method.
func (m *MockAuthenticator) Refresh(ctx context.Context, refreshToken string) (*adminapi.TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*adminapi.TokenPair), args.Error(1)
}

// Logout mocks the Logout method.
func (m *MockAuthenticator) Logout(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// NewMockAuthenticator creates a mock authenticator whose Logout succeeds.
func NewMockAuthenticator(t *testing.T) *MockAuthenticator {
	t.Helper()
	m := new(MockAuthenticator)

	// Default behavior: server logout succeeds
	m.On("Logout", mock.Anything).Return(nil).Maybe()

	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// CreateTestLoginResult creates a login result with default values.
func CreateTestLoginResult(t *testing.T, overrides map[string]interface{}) *adminapi.LoginResult {
	t.Helper()

	res := &adminapi.LoginResult{
		TokenPair: adminapi.TokenPair{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresIn:    3600,
			TokenType:    "Bearer",
		},
		User: adminapi.Profile{
			ID:       "op-1",
			Username: "operator",
			Nickname: "Operator",
			Roles:    []string{"admin"},
		},
	}

	if token, ok := overrides["access_token"].(string); ok {
		res.AccessToken = token
	}
	if token, ok := overrides["refresh_token"].(string); ok {
		res.RefreshToken = token
	}
	if username, ok := overrides["username"].(string); ok {
		res.User.Username = username
	}

	return res
}

// Frame encodes a server envelope the way the platform sends it.
func Frame(t *testing.T, msgType string, data interface{}) []byte {
	t.Helper()

	frame, err := sonic.Marshal(map[string]interface{}{
		"type":      msgType,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return frame
}

// MessageFrame creates a message_monitor frame for message n.
func MessageFrame(t *testing.T, n int, sensitive bool) []byte {
	t.Helper()

	return Frame(t, "message_monitor", map[string]interface{}{
		"id":          fmt.Sprintf("m%d", n),
		"accountId":   "acc-1",
		"sender":      "+15550001",
		"content":     fmt.Sprintf("message %d", n),
		"direction":   "inbound",
		"isSensitive": sensitive,
	})
}

// AlertFrame creates an alert frame at the given level.
func AlertFrame(t *testing.T, id, level string) []byte {
	t.Helper()

	return Frame(t, "alert", map[string]interface{}{
		"id":       id,
		"level":    level,
		"category": "risk",
		"title":    "Alert " + id,
		"message":  "Something happened",
	})
}

// AssertNotice fails unless notices contains one with the given level and title.
func AssertNotice(t *testing.T, notices []notify.Notice, level notify.Level, title string) {
	t.Helper()

	for _, n := range notices {
		if n.Level == level && n.Title == title {
			return
		}
	}
	t.Fatalf("no %s notice titled %q in %d notices", level, title, len(notices))
}
