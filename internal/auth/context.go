package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxIdentity ctxKey = iota

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

// IdentityFrom returns the verified caller; ok is false on unauthenticated requests.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxIdentity).(Identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	if id, _ := IdentityFrom(ctx); id.UserID != "" {
		return id.UserID, nil
	}
	return "", errors.New("user_id not in context")
}

func WorkspaceID(ctx context.Context) (string, error) {
	if id, _ := IdentityFrom(ctx); id.WorkspaceID != "" {
		return id.WorkspaceID, nil
	}
	return "", errors.New("workspace_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if id, _ := IdentityFrom(ctx); id.Role != "" {
		return id.Role, nil
	}
	return "", errors.New("role not in context")
}

// AgentID returns the agent the caller operates as, if any.
func AgentID(ctx context.Context) (string, error) {
	if id, _ := IdentityFrom(ctx); id.AgentID != "" {
		return id.AgentID, nil
	}
	return "", errors.New("agent_id not in context")
}
