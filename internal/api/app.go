package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-myclean/internal/booking"
	"github.com/npezzotti/go-myclean/internal/chat"
	"github.com/npezzotti/go-myclean/internal/config"
	"github.com/npezzotti/go-myclean/internal/database"
	"github.com/npezzotti/go-myclean/internal/server"
)

type MyCleanApp struct {
	log            *log.Logger
	db             database.Repository
	bookings       *booking.Service
	channel        *chat.Channel
	gateway        *server.Gateway
	srv            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

// NewMyCleanApp mounts the API on mux, which may already carry other
// routes such as /debug/vars.
func NewMyCleanApp(
	mux *http.ServeMux,
	logger *log.Logger,
	db database.Repository,
	bookings *booking.Service,
	channel *chat.Channel,
	gw *server.Gateway,
	cfg *config.Config,
) *MyCleanApp {
	s := &MyCleanApp{
		log:            logger,
		db:             db,
		bookings:       bookings,
		channel:        channel,
		gateway:        gw,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("POST /api/bookings", s.authMiddleware(s.createBooking))
	mux.Handle("GET /api/bookings", s.authMiddleware(s.listBookings))
	mux.Handle("GET /api/bookings/{id}", s.authMiddleware(s.getBooking))
	mux.Handle("PATCH /api/bookings/{id}/status", s.authMiddleware(s.updateBookingStatus))
	mux.Handle("DELETE /api/bookings/{id}", s.authMiddleware(s.deleteBooking))
	mux.Handle("GET /api/bookings/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("PATCH /api/bookings/{id}/messages/read", s.authMiddleware(s.markMessagesRead))
	mux.Handle("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.Handle("PATCH /api/notifications/{id}/read", s.authMiddleware(s.markNotificationRead))
	mux.Handle("GET /api/presence/{userId}", s.authMiddleware(s.getPresence))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *MyCleanApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MyCleanApp) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *MyCleanApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
