// Package auth mints and verifies the bearer tokens that identify
// agents to the dispatcher (spec §4.D). Tokens are opaque random hex
// strings; the coordinator never derives an agent's identity from
// anything other than an exact token match.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/model"
	"github.com/fleetmcp/coordinator/internal/store"
)

// Service mints and verifies agent tokens against the store.
type Service struct {
	store      *store.Store
	tokenBytes int
	adminToken string
}

// New builds a Service. adminToken is the secret VerifyAdmin compares
// admin-gated calls against; when it is empty, every VerifyAdmin call
// fails.
func New(s *store.Store, tokenBytes int, adminToken string) *Service {
	if tokenBytes <= 0 {
		tokenBytes = 16
	}
	return &Service{store: s, tokenBytes: tokenBytes, adminToken: adminToken}
}

// GenerateToken mints a new random hex token, the way the teacher's
// secrets package generates its master key: crypto/rand filled into a
// fixed-size buffer, hex-encoded for transport.
func (s *Service) GenerateToken() (string, error) {
	buf := make([]byte, s.tokenBytes)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// VerifyToken resolves a bearer token to its agent, returning an
// Authorization error if the token is unknown (spec §4.D).
func (s *Service) VerifyToken(ctx context.Context, token string) (*model.Agent, error) {
	if token == "" {
		return nil, apierr.Authorization("missing bearer token")
	}
	agent, err := store.GetAgentByToken(ctx, s.store.Reader(), token)
	if err == store.ErrNotFound {
		return nil, apierr.Authorization("unknown token")
	}
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return agent, nil
}

// AgentIDFor is a convenience wrapper returning just the agent_id for a
// verified token, used by handlers that only need identity.
func (s *Service) AgentIDFor(ctx context.Context, token string) (string, error) {
	agent, err := s.VerifyToken(ctx, token)
	if err != nil {
		return "", err
	}
	return agent.AgentID, nil
}

// RequireCapability returns an Authorization error unless agent declares
// tag, used to gate operator-only and background-only tools.
func RequireCapability(agent *model.Agent, tag string) error {
	if agent == nil || !agent.HasCapability(tag) {
		return apierr.Authorization("requires capability %q", tag)
	}
	return nil
}

// AdminTokenOverride reports the configured fixed admin token, if any.
func (s *Service) AdminTokenOverride() string { return s.adminToken }

// VerifyAdmin checks token against the configured admin secret (spec
// §4.D/§4.E: admin_token is a shared secret, not an agent bearer token).
func (s *Service) VerifyAdmin(token string) error {
	if token == "" || token != s.adminToken {
		return apierr.Authorization("invalid admin token")
	}
	return nil
}
