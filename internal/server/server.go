// Package server assembles the stores, managers, and handlers into the HTTP
// surface. main owns the process lifecycle; everything long-running is
// reachable through accessors here.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tuckborough/burrow/internal/auth"
	"github.com/tuckborough/burrow/internal/backup"
	"github.com/tuckborough/burrow/internal/bus"
	"github.com/tuckborough/burrow/internal/handler"
	"github.com/tuckborough/burrow/internal/membership"
	"github.com/tuckborough/burrow/internal/metrics"
	"github.com/tuckborough/burrow/internal/middleware"
	"github.com/tuckborough/burrow/internal/push"
	"github.com/tuckborough/burrow/internal/store"
	ws "github.com/tuckborough/burrow/internal/websocket"
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	bus           *bus.Bus
	householdH    *handler.HouseholdHandler
	memberH       *handler.MemberHandler
	invitationH   *handler.InvitationHandler
	joinRequestH  *handler.JoinRequestHandler
	notificationH *handler.NotificationHandler
	pushH         *handler.PushHandler
	verifier      *auth.Verifier
	rateLimiter   *middleware.RateLimiter
	sweeper       *membership.Sweeper
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, tokenSecret string, backupCfg backup.Config, pushCfg push.Config, logger *slog.Logger) *Server {
	b := bus.New(logger.With("component", "bus"))
	hub := ws.NewHub(logger.With("component", "websocket"))

	st := store.New(db)
	pushStore := store.NewPushStore(db)

	// Web push is optional. Without VAPID keys the notifier stays bus-only
	// and the push routes are not registered.
	var transport membership.Transport
	var pushH *handler.PushHandler
	if pushCfg.VAPIDPublicKey != "" && pushCfg.VAPIDPrivateKey != "" {
		pushSvc := push.NewService(pushCfg.VAPIDPublicKey, pushCfg.VAPIDPrivateKey)
		transport = push.NewSender(pushSvc, pushStore, logger.With("component", "push"))
		pushH = handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler"))
	}

	notifier := membership.NewNotifier(b, transport, logger.With("component", "notifier"))
	coord := membership.NewCoordinator(st, notifier, logger.With("component", "membership"), membership.Config{})

	backupStore := store.NewBackupStore(db)

	return &Server{
		db:            db,
		hub:           hub,
		bus:           b,
		householdH:    handler.NewHouseholdHandler(coord, logger.With("component", "household")),
		memberH:       handler.NewMemberHandler(coord, logger.With("component", "member")),
		invitationH:   handler.NewInvitationHandler(coord, logger.With("component", "invitation")),
		joinRequestH:  handler.NewJoinRequestHandler(coord, logger.With("component", "join_request")),
		notificationH: handler.NewNotificationHandler(coord, logger.With("component", "notification")),
		pushH:         pushH,
		verifier:      auth.NewVerifier(tokenSecret),
		rateLimiter:   middleware.NewRateLimiter(),
		sweeper:       membership.NewSweeper(st, logger.With("component", "sweeper"), 0, 0),
		backupManager: backup.NewManager(backupCfg, db, backupStore, logger.With("component", "backup")),
		logger:        logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Sweeper returns the maintenance sweeper.
func (s *Server) Sweeper() *membership.Sweeper {
	return s.sweeper
}

// BackupManager returns the backup manager.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /healthz", s.healthHandler)
	outerMux.Handle("GET /metrics", metrics.Handler())

	// Protected routes, wrapped with RequireAuth middleware
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.verifier)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Household routes
	mux.HandleFunc("POST /api/households", s.householdH.Create)
	mux.HandleFunc("GET /api/households", s.householdH.List)
	mux.HandleFunc("GET /api/households/current", s.householdH.Current)
	mux.HandleFunc("POST /api/households/{id}/switch", s.householdH.Switch)
	mux.HandleFunc("POST /api/households/{id}/leave", s.householdH.Leave)

	// Roster records
	mux.HandleFunc("GET /api/households/{id}/members", s.memberH.List)
	mux.HandleFunc("POST /api/households/{id}/members", s.memberH.Create)
	mux.HandleFunc("PUT /api/members/{id}", s.memberH.Update)
	mux.HandleFunc("DELETE /api/members/{id}", s.memberH.Delete)

	// Invitation routes. Redemption takes guessable codes, so it sits
	// behind the per-IP limiter.
	mux.HandleFunc("GET /api/households/{id}/invitations", s.invitationH.List)
	mux.HandleFunc("POST /api/households/{id}/invitations", s.invitationH.Create)
	mux.HandleFunc("POST /api/invitations/{id}/revoke", s.invitationH.Revoke)
	mux.HandleFunc("POST /api/invitations/redeem", s.rateLimitedHandler(s.invitationH.Redeem))

	// Join request routes; submission is code-based like redemption.
	mux.HandleFunc("POST /api/join-requests", s.rateLimitedHandler(s.joinRequestH.Submit))
	mux.HandleFunc("GET /api/households/{id}/join-requests", s.joinRequestH.ListPending)
	mux.HandleFunc("POST /api/join-requests/{id}/resolve", s.joinRequestH.Resolve)

	// Notification routes
	mux.HandleFunc("GET /api/notifications", s.notificationH.List)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notificationH.MarkRead)

	// Push notification API routes
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
		mux.HandleFunc("POST /api/push/subscriptions", s.pushH.Subscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	}

	// WebSocket
	mux.HandleFunc("GET /api/ws", ws.HandleWebSocket(s.hub, s.bus, s.logger.With("component", "websocket")))
}
