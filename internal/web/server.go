// Package web exposes the orchestrator over HTTP: one streaming chat
// endpoint and a health probe.
package web

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Server holds the HTTP server and its dependencies.
type Server struct {
	mux         *http.ServeMux
	chatHandler *ChatHandler
	health      *HealthHandler
}

// NewServer creates the web server with its handlers.
func NewServer(chatHandler *ChatHandler, health *HealthHandler) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		chatHandler: chatHandler,
		health:      health,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/chat", s.chatHandler.HandleChat)
	s.mux.Handle("/healthz", s.health)
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins listening on PORT with graceful shutdown. On SIGINT/SIGTERM
// it waits up to 10s for in-flight requests so deferred cleanup (MCP
// shutdown included) runs reliably.
func (s *Server) Start() error {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: s.mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.Printf("[Web] Received signal %v, shutting down gracefully...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Web] Graceful shutdown error: %v", err)
		}
	}()

	log.Printf("[Web] Listening at http://localhost%s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		log.Println("[Web] Server stopped gracefully")
		return nil
	}
	return err
}
