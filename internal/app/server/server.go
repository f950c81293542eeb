package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jimmythecoder/passkeys/internal/api/httpapi"
	"github.com/jimmythecoder/passkeys/internal/auth/ceremony"
	authsqlite "github.com/jimmythecoder/passkeys/internal/auth/storage/sqlite"
	"github.com/jimmythecoder/passkeys/internal/auth/session"
	"github.com/jimmythecoder/passkeys/internal/auth/verifier"
	"github.com/jimmythecoder/passkeys/internal/platform/otel"
)

// Server hosts the passkey auth HTTP API.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
}

// New creates a configured server listening on the provided address.
func New(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openStore(storePath())
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	handler, err := buildHandler(store)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: handler},
		store:      store,
	}, nil
}

func buildHandler(store *authsqlite.Store) (http.Handler, error) {
	sessionConfig, err := session.LoadConfigFromEnv(time.Now)
	if err != nil {
		return nil, err
	}
	codec, err := session.NewCodec(sessionConfig)
	if err != nil {
		return nil, err
	}

	verify, err := verifier.New(verifier.LoadConfigFromEnv())
	if err != nil {
		return nil, err
	}

	ceremonies, err := ceremony.New(ceremony.Config{
		Users:       store,
		Credentials: store,
		Verifier:    verify,
	})
	if err != nil {
		return nil, err
	}

	cookieConfig, err := httpapi.LoadCookieConfigFromEnv()
	if err != nil {
		return nil, err
	}
	handler, err := httpapi.NewHandler(ceremonies, codec, cookieConfig, time.Now)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	handler.Register(mux)

	wrapped := httpapi.Chain(mux, httpapi.RequestID(), httpapi.RecoverPanic())
	return otelhttp.NewHandler(wrapped, "passkeys.http"), nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, addr string) error {
	srv, err := New(addr)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	otelShutdown, err := otel.Setup(ctx, "passkeys")
	if err != nil {
		log.Printf("otel setup: %v", err)
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Printf("otel shutdown: %v", err)
		}
	}()

	log.Printf("passkeys server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-ctx.Done():
		shutdown()
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func storePath() string {
	path := strings.TrimSpace(os.Getenv("PASSKEYS_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "passkeys.db")
	}
	return path
}

func openStore(path string) (*authsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
}
