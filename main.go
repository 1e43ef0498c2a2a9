package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Billy-Davies-2/draft-copilot/internal/advisor"
	"github.com/Billy-Davies-2/draft-copilot/internal/analytics"
	"github.com/Billy-Davies-2/draft-copilot/internal/auth"
	"github.com/Billy-Davies-2/draft-copilot/internal/catalog"
	"github.com/Billy-Davies-2/draft-copilot/internal/config"
	"github.com/Billy-Davies-2/draft-copilot/internal/draft"
	"github.com/Billy-Davies-2/draft-copilot/internal/handlers"
	"github.com/Billy-Davies-2/draft-copilot/internal/logger"
	"github.com/Billy-Davies-2/draft-copilot/internal/pubsub"
	"github.com/Billy-Davies-2/draft-copilot/internal/reconcile"
	"github.com/Billy-Davies-2/draft-copilot/internal/store"
)

func main() {
	logger.Init()

	cfg, err := config.New()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Snapshot persistence. Memory for throwaway runs, SQLite for a single
	// box, Postgres when running more than one instance.
	var snapshots store.SnapshotStore
	switch cfg.Storage.Driver {
	case "sqlite":
		snapshots, err = store.NewSQLiteStore(cfg.Storage.SQLiteFile)
		if err != nil {
			logger.Error("Failed to open SQLite store", "error", err)
			os.Exit(1)
		}
		logger.Info("Using SQLite snapshot store", "file", cfg.Storage.SQLiteFile)
	case "postgres":
		snapshots, err = store.NewPostgresStore(cfg.Storage.DatabaseURL)
		if err != nil {
			logger.Error("Failed to open Postgres store", "error", err)
			os.Exit(1)
		}
		logger.Info("Using Postgres snapshot store")
	default:
		snapshots = store.NewMemoryStore()
		logger.Info("Using in-memory snapshot store")
	}
	defer snapshots.Close()

	// Event fan-out. Production bridges through an external NATS server so
	// every instance sees the same stream; development embeds one.
	var ps *pubsub.PubSub
	if cfg.Server.Environment == "production" {
		upstream, err := pubsub.NewNATSPubSub(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err, "url", cfg.NATS.URL)
			os.Exit(1)
		}
		defer upstream.Close()
		ps = pubsub.NewWithUpstream(upstream)
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	} else {
		embedded, err := pubsub.NewEmbeddedNATS(pubsub.EmbeddedNATSOptions{
			Subject: cfg.NATS.Subject,
		})
		if err != nil {
			logger.Warn("Embedded NATS unavailable, falling back to local pubsub", "error", err)
			ps = pubsub.New()
		} else {
			defer embedded.Close()
			ps = pubsub.NewWithUpstream(embedded)
			logger.Info("Embedded NATS started", "url", embedded.ServerURL())
		}
	}

	draftStore, err := draft.NewStore(snapshots, func(eventType string, payload map[string]any) {
		ps.Publish(pubsub.Event{Type: eventType, Payload: payload})
	})
	if err != nil {
		logger.Error("Failed to restore draft state", "error", err)
		os.Exit(1)
	}

	advisorClient := advisor.NewClient(cfg.Advisor)
	catalogClient := catalog.NewClient(cfg.Catalog)

	// Authentication. Production requires the OAuth2 flow; everything else
	// runs as a fixed dev user.
	var authProvider auth.Provider
	if cfg.Server.Environment == "production" && cfg.Auth.ClientID != "" {
		authProvider = auth.NewOAuth2Auth(cfg.Auth)
		logger.Info("OAuth2 authentication enabled", "issuer", cfg.Auth.BaseURL)
	} else {
		authProvider = auth.NewMockAuth()
		logger.Info("Mock authentication enabled")
	}

	reconciler := reconcile.New(draftStore, advisorClient, func() string {
		// Queue entries sync on behalf of whoever owns this instance.
		return "anonymous"
	})

	// Optional telemetry sink; a nil sink drops events.
	var sink *analytics.Sink
	if cfg.Analytics.ClickHouseAddr != "" {
		sink, err = analytics.NewSink(cfg.Analytics)
		if err != nil {
			logger.Warn("ClickHouse unavailable, telemetry disabled", "error", err)
			sink = nil
		} else {
			defer sink.Close()
			logger.Info("ClickHouse telemetry enabled", "addr", cfg.Analytics.ClickHouseAddr)
		}
	}
	if sink != nil {
		go drainAnalytics(ps, sink)
	}

	// Warm the player catalog in the background; failures surface through
	// the aggregate's players error state, not a crashed process.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = catalogClient.Refresh(ctx, draftStore)
	}()

	api := handlers.NewAPIHandlers(draftStore, advisorClient, reconciler, catalogClient, ps)

	mux := http.NewServeMux()

	mux.HandleFunc("/auth/login", authProvider.LoginHandler)
	mux.HandleFunc("/auth/callback", authProvider.CallbackHandler)
	mux.HandleFunc("/auth/logout", authProvider.LogoutHandler)

	mux.HandleFunc("/api/state", authProvider.Middleware(api.GetState))
	mux.HandleFunc("/api/draft/configure", authProvider.Middleware(api.Configure))
	mux.HandleFunc("/api/draft/pick", authProvider.Middleware(api.DraftPick))
	mux.HandleFunc("/api/draft/taken", authProvider.Middleware(api.MarkTaken))
	mux.HandleFunc("/api/draft/undo", authProvider.Middleware(api.Undo))
	mux.HandleFunc("/api/draft/reset", authProvider.Middleware(api.ResetDraft))

	mux.HandleFunc("/api/players", authProvider.Middleware(api.ListPlayers))
	mux.HandleFunc("/api/players/star", authProvider.Middleware(api.ToggleStar))
	mux.HandleFunc("/api/players/refresh", authProvider.Middleware(api.RefreshPlayers))

	mux.HandleFunc("/api/offline", authProvider.Middleware(api.SetOffline))

	mux.HandleFunc("/api/queue", authProvider.Middleware(api.GetQueue))
	mux.HandleFunc("/api/queue/process", authProvider.Middleware(api.ProcessQueue))
	mux.HandleFunc("/api/queue/retry", authProvider.Middleware(api.RetryFailed))
	mux.HandleFunc("/api/queue/remove", authProvider.Middleware(api.RemoveFromQueue))
	mux.HandleFunc("/api/queue/conflict/ack", authProvider.Middleware(api.AcknowledgeConflict))
	mux.HandleFunc("/api/queue/clear", authProvider.Middleware(api.ClearQueue))

	mux.HandleFunc("/api/conversation", authProvider.Middleware(api.GetConversation))
	mux.HandleFunc("/api/conversation/ask", authProvider.Middleware(api.Ask))
	mux.HandleFunc("/api/conversation/abort", authProvider.Middleware(api.AbortStream))

	mux.HandleFunc("/api/events", authProvider.Middleware(api.EventsSSE))

	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: mux,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// drainAnalytics forwards every published event to the telemetry sink.
func drainAnalytics(ps *pubsub.PubSub, sink *analytics.Sink) {
	ch := ps.Subscribe()
	for event := range ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sink.RecordEvent(ctx, event.Type, event.Payload); err != nil {
			logger.Warn("Failed to record telemetry event", "error", err, "type", event.Type)
		}
		cancel()
	}
}
