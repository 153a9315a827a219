// Package tmux wraps the tmux CLI as the coordinator's multiplexer
// adapter (spec §4.C, §9): one tmux session per live agent, with a
// two-phase send (type the line, wait, press Enter) so the target CLI
// tool's own input handling never races a pasted command.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fleetmcp/coordinator/internal/common/apierr"
	"github.com/fleetmcp/coordinator/internal/common/logger"
)

// Config mirrors internal/common/config.TmuxConfig, kept as a narrow
// struct here so this package doesn't import the config package.
type Config struct {
	BinaryPath         string
	PromptPhaseDelay   time.Duration
	SetupPhaseDelay    time.Duration
	LaunchDelay        time.Duration
	DefaultCLIAgent    string
	McpServerURL       string
}

// Adapter shells out to the tmux binary. All state lives in tmux itself;
// this struct only holds configuration and serializes the mutating calls
// the way the teacher's process.Manager guards Start/Stop with a mutex.
type Adapter struct {
	cfg    Config
	log    *logger.Logger
	mu     sync.Mutex
}

// New builds an Adapter. It does not probe tmux's availability; call
// Available to do that once at boot.
func New(cfg Config, log *logger.Logger) *Adapter {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "tmux"
	}
	return &Adapter{cfg: cfg, log: log.WithFields()}
}

// Available reports whether the configured tmux binary runs at all.
func (a *Adapter) Available(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, "-V")
	return cmd.Run() == nil
}

var sessionNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// SanitizeSessionName maps an arbitrary agent id into a tmux-safe
// session name: tmux session names may not contain ':' or '.' and get
// confusing with spaces, so everything outside [a-zA-Z0-9_-] collapses
// to '_' (spec §9). An id with no character from that set becomes "agent".
func SanitizeSessionName(agentID string) string {
	if sessionNameSanitizer.ReplaceAllString(agentID, "") == "" {
		return "agent"
	}
	return sessionNameSanitizer.ReplaceAllString(agentID, "_")
}

// GenerateAgentSessionName builds the session name spec §4.C requires:
// `<agent_id>-<lowercase-last-4-chars-of-admin-token>`. The suffix lets
// audit_agent_sessions scope its reconciliation to sessions created by
// the admin token in use, without the coordinator tracking which admin
// created which session anywhere else.
func GenerateAgentSessionName(agentID, adminToken string) string {
	suffix := strings.ToLower(adminToken)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	if suffix == "" {
		suffix = "0000"
	}
	return SanitizeSessionName(agentID) + "-" + suffix
}

// SessionExists reports whether a tmux session with the given name exists.
func (a *Adapter) SessionExists(ctx context.Context, session string) (bool, error) {
	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, "has-session", "-t", session)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if isExitError(err, &exitErr) {
			return false, nil
		}
		return false, apierr.External(err, "tmux has-session failed")
	}
	return true, nil
}

// CreateSession starts a new detached tmux session named session,
// rooted at workingDir, then launches the configured CLI agent inside
// it pointed at the coordinator's own MCP endpoint (spec §4.C, §9). The
// caller computes session via GenerateAgentSessionName so the naming
// convention stays in one place even though the admin token it depends
// on is a dispatcher-level concern this package knows nothing about.
func (a *Adapter) CreateSession(ctx context.Context, session, agentID, workingDir string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	exists, err := a.SessionExists(ctx, session)
	if err != nil {
		return "", err
	}
	if exists {
		return "", apierr.Invariant("tmux session %q already exists", session)
	}

	args := []string{"new-session", "-d", "-s", session}
	if workingDir != "" {
		args = append(args, "-c", workingDir)
	}
	if err := a.run(ctx, args...); err != nil {
		return "", apierr.External(err, "tmux new-session failed")
	}

	time.Sleep(a.cfg.SetupPhaseDelay)

	if a.cfg.McpServerURL != "" {
		if err := a.sendLine(ctx, session, fmt.Sprintf("export COORDINATOR_MCP_URL=%s", a.cfg.McpServerURL)); err != nil {
			a.log.WithError(err).Warn("failed to export mcp url into session")
		}
	}

	time.Sleep(a.cfg.LaunchDelay)

	agentCmd := a.cfg.DefaultCLIAgent
	if agentCmd == "" {
		agentCmd = "claude"
	}
	if err := a.SendPrompt(ctx, session, agentCmd); err != nil {
		return "", err
	}

	return session, nil
}

// SendCommand types a line into the session and presses Enter without
// the launch-phase delays CreateSession uses — for steady-state traffic
// once the target CLI tool is already running.
func (a *Adapter) SendCommand(ctx context.Context, session, command string) error {
	return a.sendLine(ctx, session, command)
}

// SendPrompt performs the two-phase send spec §9 requires: type the
// text, wait PromptPhaseDelay for the target tool's input buffer to
// settle, then send Enter as a separate tmux send-keys call. Sending
// text and Enter in one call races interactive CLIs that debounce
// keystrokes before accepting a submit.
func (a *Adapter) SendPrompt(ctx context.Context, session, text string) error {
	if err := a.run(ctx, "send-keys", "-t", session, "-l", text); err != nil {
		return apierr.External(err, "tmux send-keys (text) failed")
	}
	time.Sleep(a.cfg.PromptPhaseDelay)
	if err := a.run(ctx, "send-keys", "-t", session, "Enter"); err != nil {
		return apierr.External(err, "tmux send-keys (enter) failed")
	}
	return nil
}

func (a *Adapter) sendLine(ctx context.Context, session, line string) error {
	return a.SendPrompt(ctx, session, line)
}

// ListSessions returns the names of every live tmux session, used by the
// agent manager's audit pass to reconcile against the agent table.
func (a *Adapter) ListSessions(ctx context.Context) ([]string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, "list-sessions", "-F", "#{session_name}")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if isExitError(err, &exitErr) {
			return nil, nil // no server running yet
		}
		return nil, apierr.External(err, "tmux list-sessions failed")
	}
	var names []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// CapturePane returns the visible content of the session's active pane,
// used by the agent manager's audit pass to detect a hung CLI tool.
func (a *Adapter) CapturePane(ctx context.Context, session string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, "capture-pane", "-t", session, "-p")
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", apierr.External(err, "tmux capture-pane failed")
	}
	return out.String(), nil
}

// KillSession tears down an agent's tmux session. Killing a session that
// no longer exists is not an error (spec §4.E's terminate path must be
// idempotent against a CLI tool that already exited and took the
// session with it).
func (a *Adapter) KillSession(ctx context.Context, session string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	exists, err := a.SessionExists(ctx, session)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := a.run(ctx, "kill-session", "-t", session); err != nil {
		return apierr.External(err, "tmux kill-session failed")
	}
	return nil
}

func (a *Adapter) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, a.cfg.BinaryPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func isExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
