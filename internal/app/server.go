// Package app wires the storage, authentication, and custody components into
// a runnable HTTP server.
package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tuxedoai/vaultgate/internal/api/httpapi"
	"github.com/tuxedoai/vaultgate/internal/auth/challenge"
	"github.com/tuxedoai/vaultgate/internal/auth/credential"
	"github.com/tuxedoai/vaultgate/internal/auth/passkey"
	"github.com/tuxedoai/vaultgate/internal/auth/recovery"
	"github.com/tuxedoai/vaultgate/internal/auth/session"
	"github.com/tuxedoai/vaultgate/internal/custody"
	"github.com/tuxedoai/vaultgate/internal/platform/config"
	"github.com/tuxedoai/vaultgate/internal/platform/logging"
	"github.com/tuxedoai/vaultgate/internal/platform/timeouts"
	"github.com/tuxedoai/vaultgate/internal/storage/sqlite"
)

// Config holds server configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the listen address for the JSON API.
	HTTPAddr string `env:"VAULTGATE_HTTP_ADDR" envDefault:"localhost:8094"`
	// DBPath locates the SQLite database file.
	DBPath string `env:"VAULTGATE_DB_PATH" envDefault:"data/vaultgate.db"`
	// MasterKey is the process master secret every per-account encryption
	// key derives from. The server refuses to start without it.
	MasterKey string `env:"VAULTGATE_MASTER_KEY"`
	// SweepInterval controls how often expired challenges and sessions are
	// deleted. Expiry is also checked lazily on every read.
	SweepInterval time.Duration `env:"VAULTGATE_SWEEP_INTERVAL" envDefault:"5m"`
	// SessionTTL is the fixed lifetime of issued sessions.
	SessionTTL time.Duration `env:"VAULTGATE_SESSION_TTL" envDefault:"168h"`
}

// LoadConfigFromEnv returns server configuration with defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Server hosts the vaultgate HTTP API.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *sqlite.Store
	challenges *challenge.Manager
	sessions   *session.Manager
	sweep      time.Duration
	log        logging.Logger
}

// New creates a configured server listening on cfg.HTTPAddr.
func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.MasterKey) == "" {
		return nil, fmt.Errorf("master key missing: set VAULTGATE_MASTER_KEY")
	}

	store, err := openStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	keyring, err := custody.NewKeyring([]byte(cfg.MasterKey))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build keyring: %w", err)
	}

	passkeyCfg := passkey.LoadConfigFromEnv()
	challenges, err := challenge.NewManager(store, challenge.WithTTL(passkeyCfg.ChallengeTTL))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build challenge manager: %w", err)
	}
	verifier, err := credential.NewVerifier(store, store, challenges, passkeyCfg,
		credential.WithLogger(logger),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build credential verifier: %w", err)
	}
	codes, err := recovery.NewManager(store, store, recovery.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build recovery manager: %w", err)
	}
	sessions, err := session.NewManager(store,
		session.WithTTL(cfg.SessionTTL),
		session.WithLogger(logger),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build session manager: %w", err)
	}
	vault, err := custody.NewVault(store, store, keyring, custody.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build custody vault: %w", err)
	}

	api, err := httpapi.NewServer(verifier, codes, sessions, vault, httpapi.WithLogger(logger))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build api server: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux, ReadHeaderTimeout: timeouts.ReadHeader},
		store:      store,
		challenges: challenges,
		sessions:   sessions,
		sweep:      cfg.SweepInterval,
		log:        logger,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.startSweep(serveCtx)

	log.Printf("vaultgate listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancelShutdown()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case err := <-serveErr:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// startSweep deletes expired challenges and sessions on a fixed interval.
func (s *Server) startSweep(ctx context.Context) {
	if s == nil || s.sweep <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.challenges.SweepExpired(ctx); err != nil {
					s.log.Warn(ctx, "challenge sweep failed", "error", err.Error())
				}
				if err := s.sessions.SweepExpired(ctx); err != nil {
					s.log.Warn(ctx, "session sweep failed", "error", err.Error())
				}
			}
		}
	}()
}

func openStore(path string) (*sqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "vaultgate.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}
