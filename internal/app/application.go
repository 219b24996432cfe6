// Package app wires every pairbridge component into a single runnable
// process: a composition root with a strict dependency order, a Start
// that boots background loops before accepting connections, and a Stop
// that tears down in reverse order.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pairbridge/internal/api"
	"pairbridge/internal/config"
	"pairbridge/internal/connsup"
	"pairbridge/internal/fleet"
	"pairbridge/internal/hub"
	"pairbridge/internal/pairing"
	"pairbridge/internal/queue"
	"pairbridge/internal/ratelimit"
	"pairbridge/internal/sessionmgr"
	"pairbridge/internal/signaling"
	"pairbridge/internal/socketreg"
	"pairbridge/pkg/collaborators"
	"pairbridge/pkg/interfaces"
	"pairbridge/pkg/store"
	"pairbridge/pkg/types"
)

// Application coordinates every system component: the Shared Store,
// the fleet coordinator, the matching and session pipelines, the
// collaborator repositories, and the HTTP/WebSocket surfaces.
type Application struct {
	config *config.Config

	sharedStore interfaces.SharedStore
	collab      *collaborators.Store

	fleet      *fleet.Coordinator
	sockets    *socketreg.Registry
	queueMgr   *queue.Manager
	sessionMgr *sessionmgr.Manager
	pairingEng *pairing.Engine
	signalRelay *signaling.Relay
	hub        *hub.Hub
	supervisor *connsup.Supervisor
	apiServer  *api.Server

	httpServer *http.Server

	bgStop chan struct{}
	bgWG   sync.WaitGroup
}

// NewApplication builds every component in dependency order:
// SharedStore → Fleet → SocketRegistry → QueueManager → SessionManager
// → Collaborators → PairingEngine → SignalingRelay → Hub →
// ConnectionSupervisor → API → HTTP.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Shared Store (foundation layer every other component reads
	// and writes through).
	sharedStore, err := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize shared store: %w", err)
	}

	// STEP 2: Fleet coordinator (its Start, called from Application.Start,
	// registers this instance and begins sampling load for ShouldAccept).
	fc := fleet.New(sharedStore, cfg.HTTP.Host, cfg.HTTP.Port, cfg.Timing.InstanceTTL, cfg.Timing.HeartbeatInterval)

	// STEP 3: Socket registry for local + cross-instance connection
	// tracking.
	sockets := socketreg.New(sharedStore, fc.InstanceID(), cfg.Timing.SessionTTL)

	// STEP 4: Queue manager (per-modality FIFO over the shared store).
	queueMgr := queue.New(sharedStore, nil, cfg.Timing.QueueTimeout, cfg.Timing.PairLockTTL)

	// STEP 5: Session manager (pair records and their lifecycle).
	sessionMgr := sessionmgr.New(sharedStore, nil, cfg.Timing.SessionTTL, cfg.Timing.MaxSessionDuration, cfg.Timing.SessionLockTTL)

	// STEP 6: Collaborator repositories (SQLite-backed users/friends/
	// reports, external to the matching core).
	collab, err := collaborators.NewStore(&collaborators.Config{
		Path:            cfg.SQLite.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.SQLite.Timeout,
		ConnMaxIdleTime: cfg.SQLite.Timeout / 3,
	})
	if err != nil {
		sharedStore.Close()
		return nil, fmt.Errorf("failed to initialize collaborator store: %w", err)
	}

	auth := collaborators.NewJWTAuth([]byte(cfg.Auth.JWTSecret))

	// STEP 7: Pairing engine (ties queue + session + registry together
	// and runs the background matcher).
	pairingEng := pairing.New(sharedStore, queueMgr, sessionMgr, sockets, collab, nil, cfg.Timing.MatchInterval)

	// STEP 8: Signaling relay (chat/typing/call/skip message relay over
	// an active session).
	signalRelay := signaling.New(sessionMgr, sockets)

	// STEP 9: Hub (dispatch table wiring inbound envelopes to the
	// pairing engine, the signaling relay and the collaborator
	// repositories).
	h := hub.New(pairingEng, signalRelay, collab, collab, sockets, nil)

	// STEP 10: Connection supervisor (WebSocket upgrade, auth, admission,
	// registration, heartbeat, per-socket read loop).
	limiters := &ratelimit.Limiters{
		Connect:   ratelimit.NewPerMinute(cfg.RateLimit.ConnectPerMinutePerIP, 10*time.Minute),
		Message:   ratelimit.New(rate.Limit(cfg.RateLimit.MessagesPerSecond), cfg.RateLimit.MessagesPerSecond, time.Minute),
		QueueJoin: ratelimit.NewPerSeconds(cfg.RateLimit.QueueJoinBurst, cfg.RateLimit.QueueJoinWindow, 5*time.Minute),
	}
	supervisor := connsup.New(auth, collab, fc, sockets, queueMgr, sessionMgr, signalRelay, h, limiters, nil)

	// STEP 11: Admin API server (health, stats, instance listing).
	apiServer := api.NewServer(sharedStore, fc, sockets, queueMgr)

	// STEP 12: HTTP server multiplexing the admin surface and the
	// WebSocket endpoint.
	mux := http.NewServeMux()
	mux.Handle("/health", apiServer)
	mux.Handle("/api/", apiServer)
	mux.HandleFunc("/ws", supervisor.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		sharedStore: sharedStore,
		collab:      collab,
		fleet:       fc,
		sockets:     sockets,
		queueMgr:    queueMgr,
		sessionMgr:  sessionMgr,
		pairingEng:  pairingEng,
		signalRelay: signalRelay,
		hub:         h,
		supervisor:  supervisor,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// Start boots background loops before accepting connections: fleet
// heartbeats, socket registry delivery, the pairing engine's matcher and
// relay, then the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting pairbridge on %s", app.httpServer.Addr)

	if err := app.fleet.Start(ctx); err != nil {
		return fmt.Errorf("failed to start fleet coordinator: %w", err)
	}
	if err := app.sockets.Start(ctx); err != nil {
		app.fleet.Stop()
		return fmt.Errorf("failed to start socket registry: %w", err)
	}
	if err := app.pairingEng.Start(ctx); err != nil {
		app.sockets.Stop()
		app.fleet.Stop()
		return fmt.Errorf("failed to start pairing engine: %w", err)
	}

	app.startBackgroundLoops(ctx)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopBackgroundLoops()
		app.pairingEng.Stop()
		app.sockets.Stop()
		app.fleet.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("pairbridge started successfully")
		return nil
	case <-ctx.Done():
		app.stopBackgroundLoops()
		app.pairingEng.Stop()
		app.sockets.Stop()
		app.fleet.Stop()
		return ctx.Err()
	}
}

// startBackgroundLoops launches the maintenance tickers: stale queue entry
// sweeping, session record reconciliation, fleet dead-instance reaping and
// the periodic connected-user-count broadcast.
func (app *Application) startBackgroundLoops(ctx context.Context) {
	app.bgStop = make(chan struct{})
	app.bgWG.Add(4)
	go app.runQueueSweep(ctx)
	go app.runSessionCleanup(ctx)
	go app.runFleetReap(ctx)
	go app.runUserCountBroadcast(ctx)
}

func (app *Application) stopBackgroundLoops() {
	if app.bgStop == nil {
		return
	}
	close(app.bgStop)
	app.bgWG.Wait()
	app.bgStop = nil
}

func (app *Application) runQueueSweep(ctx context.Context) {
	defer app.bgWG.Done()
	ticker := time.NewTicker(app.config.Timing.QueueCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-app.bgStop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := app.queueMgr.SweepStale(ctx); err != nil {
				log.Printf("app: queue sweep: %v", err)
			} else if n > 0 {
				log.Printf("app: queue sweep removed %d stale entries", n)
			}
		}
	}
}

func (app *Application) runSessionCleanup(ctx context.Context) {
	defer app.bgWG.Done()
	ticker := time.NewTicker(app.config.Timing.SessionCleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-app.bgStop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.sessionMgr.CleanupSweep(ctx); err != nil {
				log.Printf("app: session cleanup sweep: %v", err)
			}
		}
	}
}

func (app *Application) runFleetReap(ctx context.Context) {
	defer app.bgWG.Done()
	ticker := time.NewTicker(app.config.Timing.InstanceTTL)
	defer ticker.Stop()
	for {
		select {
		case <-app.bgStop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.fleet.ReapDead(ctx); err != nil {
				log.Printf("app: fleet reap: %v", err)
			}
		}
	}
}

func (app *Application) runUserCountBroadcast(ctx context.Context) {
	defer app.bgWG.Done()
	ticker := time.NewTicker(app.config.Timing.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-app.bgStop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.broadcastUserCount(ctx)
		}
	}
}

// broadcastUserCount reports the fleet-wide connected-user count to every
// socket held on this instance; each instance broadcasts independently
// since the Socket Registry only fans messages out to local sockets.
func (app *Application) broadcastUserCount(ctx context.Context) {
	instances, err := app.fleet.GetHealthyInstances(ctx)
	if err != nil {
		log.Printf("app: user count: list instances: %v", err)
		return
	}
	total := 0
	for _, inst := range instances {
		total += inst.ActiveConnections
	}
	env, err := types.Outbound(types.OutUserCount, types.UserCountPayload{Count: total})
	if err != nil {
		log.Printf("app: user count: build envelope: %v", err)
		return
	}
	app.sockets.BroadcastLocal(env, false)
}

// Stop shuts down in reverse dependency order: background loops stop first,
// every active session is notified of the shutdown, then the HTTP listener
// closes so no new connections arrive, then the matching pipeline, then the
// collaborator store and shared store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down pairbridge")

	app.stopBackgroundLoops()
	app.notifyShutdown(ctx)

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.pairingEng.Stop()
	app.sockets.Stop()
	app.fleet.Stop()

	if err := app.collab.Close(); err != nil {
		log.Printf("collaborator store shutdown error: %v", err)
	}
	if err := app.sharedStore.Close(); err != nil {
		log.Printf("shared store shutdown error: %v", err)
	}

	log.Printf("pairbridge shutdown complete")
	return nil
}

// notifyShutdown walks every active session and tells both members the
// match is ending, so a paired client sees a clean disconnect instead of a
// dropped socket when this instance goes down.
func (app *Application) notifyShutdown(ctx context.Context) {
	sessions, err := app.sessionMgr.ListActive(ctx)
	if err != nil {
		log.Printf("app: list active sessions for shutdown: %v", err)
		return
	}
	if len(sessions) == 0 {
		return
	}
	env, err := types.Outbound(types.OutMatchDisconnected, types.MatchDisconnectedPayload{Reason: "shutdown"})
	if err != nil {
		log.Printf("app: build shutdown envelope: %v", err)
		return
	}
	for _, session := range sessions {
		if err := app.sockets.EmitToUser(ctx, session.UserA, env, true); err != nil {
			log.Printf("app: notify shutdown to %s: %v", session.UserA, err)
		}
		if err := app.sockets.EmitToUser(ctx, session.UserB, env, true); err != nil {
			log.Printf("app: notify shutdown to %s: %v", session.UserB, err)
		}
	}
}

// GetAddr returns the HTTP server's listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
