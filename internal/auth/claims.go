package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// roleAgent mirrors rbac.RoleAgent; rbac imports this package.
const roleAgent = "agent"

var (
	ErrWrongTokenType = errors.New("auth: wrong token type")
	ErrMissingClaim   = errors.New("auth: required claim missing")
)

// Claims is the token body. Both token types carry the workspace; the role and agent
// binding ride on the refresh token too, so a refresh needs no user directory.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	Role        string    `json:"role"`
	AgentID     string    `json:"agent_id,omitempty"`
	TokenType   TokenType `json:"token_type"`
}

// Identity is the verified caller.
type Identity struct {
	UserID      string
	WorkspaceID string
	Role        string
	AgentID     string
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, WorkspaceID: c.WorkspaceID, Role: c.Role, AgentID: c.AgentID}
}

// check enforces the claims every token of the expected type must carry. Agents only
// ever act as one agent record, so their tokens must name it.
func (c Claims) check(expected TokenType) error {
	if c.TokenType != expected {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongTokenType, c.TokenType, expected)
	}
	return Identity{UserID: c.UserID, WorkspaceID: c.WorkspaceID, Role: c.Role, AgentID: c.AgentID}.check()
}

func (id Identity) check() error {
	switch {
	case id.UserID == "":
		return fmt.Errorf("%w: user_id", ErrMissingClaim)
	case id.WorkspaceID == "":
		return fmt.Errorf("%w: workspace_id", ErrMissingClaim)
	case id.Role == "":
		return fmt.Errorf("%w: role", ErrMissingClaim)
	case id.Role == roleAgent && id.AgentID == "":
		return fmt.Errorf("%w: agent_id", ErrMissingClaim)
	}
	return nil
}
