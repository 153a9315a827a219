// Command coordinator runs the multi-agent coordination server: it
// opens the store, wires every business-logic package, registers the
// tool surface behind the capability gate, and serves it over the
// SSE and Streamable HTTP transports mcp-go provides (spec §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/fleetmcp/coordinator/internal/agentmgr"
	"github.com/fleetmcp/coordinator/internal/auth"
	"github.com/fleetmcp/coordinator/internal/capability"
	"github.com/fleetmcp/coordinator/internal/common/config"
	"github.com/fleetmcp/coordinator/internal/common/logger"
	"github.com/fleetmcp/coordinator/internal/dispatcher"
	"github.com/fleetmcp/coordinator/internal/eventbus"
	"github.com/fleetmcp/coordinator/internal/filelock"
	"github.com/fleetmcp/coordinator/internal/messagebus"
	"github.com/fleetmcp/coordinator/internal/rag"
	"github.com/fleetmcp/coordinator/internal/session"
	"github.com/fleetmcp/coordinator/internal/store"
	"github.com/fleetmcp/coordinator/internal/taskengine"
	"github.com/fleetmcp/coordinator/internal/tmux"
	"github.com/fleetmcp/coordinator/internal/vectorindex"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	logger.SetDefault(log)
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close() //nolint:errcheck

	adminToken := cfg.Auth.AdminToken
	if adminToken == "" {
		authSvc := auth.New(st, cfg.Auth.TokenBytes, "")
		adminToken, err = authSvc.GenerateToken()
		if err != nil {
			return fmt.Errorf("mint admin token: %w", err)
		}
		log.Info("generated admin token for this run; persist it if you need to reconnect",
			zap.String("admin_token", adminToken))
	}
	authSvc := auth.New(st, cfg.Auth.TokenBytes, adminToken)

	currentDim, hasVecTable, err := vectorindex.CurrentDimension(ctx, st.Writer())
	if err != nil {
		return fmt.Errorf("inspect vector table: %w", err)
	}
	if hasVecTable && currentDim != cfg.RAG.EmbeddingDimension {
		log.Info("embedding dimension changed, migrating",
			zap.Int("from", currentDim), zap.Int("to", cfg.RAG.EmbeddingDimension))
		if err := vectorindex.MigrateDimension(ctx, st, cfg.RAG.EmbeddingDimension); err != nil {
			return fmt.Errorf("migrate vector dimension: %w", err)
		}
	}
	vec, err := vectorindex.Open(ctx, st.Writer(), cfg.RAG.EmbeddingDimension, log)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}

	tmuxAdapter := tmux.New(tmux.Config{
		BinaryPath:       cfg.Tmux.BinaryPath,
		PromptPhaseDelay: time.Duration(cfg.Tmux.PromptPhaseDelayMs) * time.Millisecond,
		SetupPhaseDelay:  time.Duration(cfg.Tmux.SetupPhaseDelayMs) * time.Millisecond,
		LaunchDelay:      time.Duration(cfg.Tmux.LaunchDelayMs) * time.Millisecond,
		DefaultCLIAgent:  cfg.Tmux.DefaultCLIAgent,
		McpServerURL:     cfg.Tmux.McpServerURL,
	}, log)

	locks := filelock.New(st, log)
	agents := agentmgr.New(st, authSvc, tmuxAdapter, locks, log)
	tasks := taskengine.New(st, log)

	events, err := eventbus.Provide(eventbus.NATSConfig{
		URL:           cfg.NATS.URL,
		ClientID:      cfg.NATS.ClientID,
		MaxReconnects: cfg.NATS.MaxReconnects,
	}, log)
	if err != nil {
		return fmt.Errorf("provide event bus: %w", err)
	}
	messages := messagebus.New(st, tmuxAdapter, agents, events, log)

	embedder := buildEmbedder(cfg.RAG)
	query := rag.NewQueryEngine(st, vec, embedder, cfg.RAG.TopK, log)
	indexer := rag.New(st, vec, embedder, cfg.RAG, log)

	sessions := session.New(st, cfg.Session.GracePeriod(), log)

	gate := capability.FromConfig(cfg.Categories)
	for _, w := range gate.Warnings() {
		log.Warn("capability dependency warning", zap.String("category", w.Category), zap.String("requires", w.Requires))
	}

	mcpServer := server.NewMCPServer("coordinator", "1.0.0", server.WithToolCapabilities(true))
	dispatcher.Register(mcpServer, &dispatcher.Deps{
		Store:    st,
		Gate:     gate,
		Auth:     authSvc,
		Agents:   agents,
		Tasks:    tasks,
		Locks:    locks,
		Messages: messages,
		Query:    query,
		Indexer:  indexer,
		Vec:      vec,
		Sessions: sessions,
		Tmux:     tmuxAdapter,
		Log:      log,
	})

	sseServer := server.NewSSEServer(mcpServer)
	streamableServer := server.NewStreamableHTTPServer(mcpServer, server.WithEndpointPath("/mcp"))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	mux.Handle("/mcp", streamableServer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	go runIndexerLoop(ctx, indexer, log)
	go runSessionSweepLoop(ctx, sessions, log)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("coordinator listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if err := sseServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("sse server shutdown error", zap.Error(err))
	}
	if err := streamableServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("streamable http server shutdown error", zap.Error(err))
	}
	return nil
}

// buildEmbedder picks the configured embedding provider (spec §4.I
// step 3's out-of-scope collaborator); an empty provider id falls back
// to a deterministic hash embedder so the indexer and query path run
// end to end without a network dependency.
func buildEmbedder(cfg config.RAGConfig) rag.Embedder {
	if cfg.EmbeddingProvider == "" {
		return rag.NewHashEmbedder(cfg.EmbeddingDimension)
	}
	return rag.NewHTTPEmbedder(cfg.EmbeddingProvider, cfg.EmbeddingDimension)
}

// runIndexerLoop drives the background RAG indexer (spec §4.I step 1).
func runIndexerLoop(ctx context.Context, indexer *rag.Indexer, log *logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := indexer.RunOnce(ctx); err != nil {
				log.WithError(err).Warn("rag indexer pass failed")
			}
		}
	}
}

// runSessionSweepLoop evicts expired session_state rows (spec §4.K).
func runSessionSweepLoop(ctx context.Context, sessions *session.Manager, log *logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := sessions.SweepExpired(ctx); err != nil {
				log.WithError(err).Warn("session sweep failed")
			} else if n > 0 {
				log.Info("swept expired sessions", zap.Int("count", n))
			}
		}
	}
}
