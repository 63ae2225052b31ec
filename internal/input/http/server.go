package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dontpanicw/ProductImages/internal/port"
	"github.com/gorilla/mux"
)

type Server struct {
	handler *Handler
	server  *http.Server
}

func NewServer(port string, maxUploadBytes int64, usecases port.ProductImageUsecases) *Server {
	handler := NewHandler(usecases, maxUploadBytes)

	server := &http.Server{
		Addr:         port,
		Handler:      NewRouter(handler),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  300 * time.Second,
	}

	return &Server{
		handler: handler,
		server:  server,
	}
}

func NewRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	router.Use(requestIDMiddleware, loggingMiddleware, corsMiddleware)

	router.HandleFunc("/reza", handler.UploadForm).Methods(http.MethodGet)
	router.HandleFunc("/healthz", handler.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/images").Subrouter()
	api.HandleFunc("/upload", handler.UploadImages).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/{productName}", handler.GetProduct).Methods(http.MethodGet, http.MethodOptions)

	return router
}

// Start blocks until the server stops. A graceful Stop is not an error.
func (s *Server) Start() error {
	slog.Info("starting HTTP server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
