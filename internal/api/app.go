package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/topicchat/server/internal/config"
	"github.com/topicchat/server/internal/events"
	"github.com/topicchat/server/internal/server"
	"github.com/topicchat/server/internal/store"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type TopicChatApp struct {
	log            *log.Logger
	rooms          store.RoomRepository
	messages       store.MessageRepository
	users          store.UserRepository
	dispatcher     events.Dispatcher
	pinger         Pinger
	cs             *server.ChatServer
	validate       *validator.Validate
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

type AppDeps struct {
	Rooms      store.RoomRepository
	Messages   store.MessageRepository
	Users      store.UserRepository
	Dispatcher events.Dispatcher
	Pinger     Pinger
	ChatServer *server.ChatServer
	StatsMux   *http.ServeMux
}

func NewTopicChatApp(logger *log.Logger, deps AppDeps, cfg *config.Config) *TopicChatApp {
	s := &TopicChatApp{
		log:            logger,
		rooms:          deps.Rooms,
		messages:       deps.Messages,
		users:          deps.Users,
		dispatcher:     deps.Dispatcher,
		pinger:         deps.Pinger,
		cs:             deps.ChatServer,
		validate:       validator.New(),
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux := http.NewServeMux()
	if deps.StatsMux != nil {
		mux.Handle("GET /debug/vars", deps.StatsMux)
	}
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("GET /api/rooms/search", s.authMiddleware(s.searchRooms))
	mux.Handle("GET /api/rooms/{id}", s.authMiddleware(s.getRoom))
	mux.Handle("DELETE /api/rooms/{id}", s.authMiddleware(s.deleteRoom))
	mux.Handle("POST /api/rooms/{id}/join", s.authMiddleware(s.joinRoom))
	mux.Handle("POST /api/rooms/{id}/leave", s.authMiddleware(s.leaveRoom))
	mux.Handle("GET /api/rooms/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/rooms/{id}/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("GET /api/interests", s.authMiddleware(s.listInterests))
	mux.Handle("GET /api/profile", s.authMiddleware(s.getProfile))
	mux.Handle("PUT /api/profile", s.authMiddleware(s.updateProfile))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *TopicChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *TopicChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
