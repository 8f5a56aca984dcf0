package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/api"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/crypto"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/events"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/provider"
	"github.com/vdavid/mailsync/internal/reconcile"
	"github.com/vdavid/mailsync/internal/token"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.ClosePool(pool)

	log.Printf("Successfully connected to database")

	app, err := NewApp(cfg, pool)
	if err != nil {
		log.Fatalf("Failed to set up server: %v", err)
	}
	defer app.Close()

	go app.Scheduler.Run(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown failed: %v", err)
		}
	}()

	log.Printf("mailsync server starting on %s (environment: %s)", server.Addr, cfg.Environment)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed to start: %v", err)
	}
	log.Printf("mailsync server stopped")
}

// App is the wired server: HTTP routes plus the background incremental sync scheduler.
type App struct {
	Handler   http.Handler
	Scheduler *mailsync.Scheduler

	wsHandler *api.WebSocketHandler
	publisher *events.Publisher
}

// NewApp wires every component from the config. Sync events go to the WebSocket hub and,
// when MAILSYNC_NATS_URL is set, to NATS JetStream.
func NewApp(cfg *config.Config, pool *pgxpool.Pool) (*App, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	store := db.NewStore(pool, encryptor)
	client := provider.NewClient(cfg.ProviderAPIURL, cfg.ProviderHTTPTimeout)
	refresher := token.NewOAuthRefresher(cfg.ProviderClientID, cfg.ProviderClientSecret, cfg.ProviderTokenURL, cfg.ProviderHTTPTimeout)
	tokens := token.NewManager(store, refresher)
	hub := ws.NewHub(10)

	app := &App{}
	notifiers := mailsync.MultiNotifier{hub}
	if cfg.NATSURL != "" {
		publisher, err := events.NewPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		if err := publisher.EnsureStream(); err != nil {
			publisher.Close()
			return nil, err
		}
		app.publisher = publisher
		notifiers = append(notifiers, publisher)
		log.Printf("Publishing sync events to NATS stream %s", events.StreamName)
	}

	engine := mailsync.NewEngine(store, client, reconcile.New(store), notifiers, mailsync.EngineConfig{
		DaysWithin:   cfg.SyncDaysWithin,
		PollInterval: cfg.FullSyncPollInterval,
		PollTimeout:  cfg.FullSyncPollTimeout,
	})
	service := mailsync.NewService(store, tokens, engine, client)
	app.Scheduler = mailsync.NewScheduler(store, service, mailsync.SchedulerConfig{
		Interval:    cfg.IncrementalSyncInterval,
		MaxWorkers:  cfg.SyncMaxWorkers,
		PassTimeout: cfg.SyncPassTimeout,
	})

	syncHandler := api.NewSyncHandler(store, store, service)
	messagesHandler := api.NewMessagesHandler(store, service)
	statusHandler := api.NewStatusHandler(store, store, store)
	threadHandler := api.NewThreadHandler(store, store, store)
	app.wsHandler = api.NewWebSocketHandler(store, store, service, hub)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.Handle("POST /api/v1/connections/{id}/sync/initial", auth.RequireAuth(http.HandlerFunc(syncHandler.InitialSync)))
	mux.Handle("POST /api/v1/connections/{id}/sync", auth.RequireAuth(http.HandlerFunc(syncHandler.IncrementalSync)))
	mux.Handle("GET /api/v1/connections/{id}/sync/status", auth.RequireAuth(http.HandlerFunc(statusHandler.Status)))
	mux.Handle("POST /api/v1/connections/{id}/messages", auth.RequireAuth(http.HandlerFunc(messagesHandler.Send)))
	mux.Handle("GET /api/v1/connections/{id}/threads/{threadId}", auth.RequireAuth(http.HandlerFunc(threadHandler.GetThread)))
	// The WebSocket handler authenticates via query parameter, since browsers can't set
	// headers on WebSocket connections.
	mux.HandleFunc("GET /api/v1/ws", app.wsHandler.Handle)

	app.Handler = mux
	return app, nil
}

// Close waits for catch-up syncs and releases the NATS connection.
func (a *App) Close() {
	a.wsHandler.Wait()
	if a.publisher != nil {
		a.publisher.Close()
	}
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "mailsync API is running")
}
