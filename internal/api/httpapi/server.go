// Package httpapi exposes the passkey authentication and custody operations
// as a JSON HTTP API.
package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tuxedoai/vaultgate/internal/auth/credential"
	"github.com/tuxedoai/vaultgate/internal/auth/recovery"
	"github.com/tuxedoai/vaultgate/internal/auth/session"
	"github.com/tuxedoai/vaultgate/internal/custody"
	"github.com/tuxedoai/vaultgate/internal/platform/logging"
	"github.com/tuxedoai/vaultgate/internal/platform/requestctx"
)

const tracerName = "github.com/tuxedoai/vaultgate/internal/api/httpapi"

// Server hosts the JSON API endpoints.
type Server struct {
	verifier *credential.Verifier
	recovery *recovery.Manager
	sessions *session.Manager
	vault    *custody.Vault
	clock    func() time.Time
	log      logging.Logger
	tracer   trace.Tracer
}

// Option customizes a Server.
type Option func(*Server)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger overrides the request logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer builds an API server over the authentication and custody
// components.
func NewServer(
	verifier *credential.Verifier,
	recoveryCodes *recovery.Manager,
	sessions *session.Manager,
	vault *custody.Vault,
	opts ...Option,
) (*Server, error) {
	if verifier == nil {
		return nil, fmt.Errorf("credential verifier is required")
	}
	if recoveryCodes == nil {
		return nil, fmt.Errorf("recovery manager is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if vault == nil {
		return nil, fmt.Errorf("custody vault is required")
	}
	s := &Server{
		verifier: verifier,
		recovery: recoveryCodes,
		sessions: sessions,
		vault:    vault,
		clock:    time.Now,
		log:      logging.Nop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RegisterRoutes registers the API endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}

	mux.HandleFunc("/v1/register/begin", s.traced("register.begin", s.handleRegisterBegin))
	mux.HandleFunc("/v1/register/finish", s.traced("register.finish", s.handleRegisterFinish))
	mux.HandleFunc("/v1/login/begin", s.traced("login.begin", s.handleLoginBegin))
	mux.HandleFunc("/v1/login/finish", s.traced("login.finish", s.handleLoginFinish))
	mux.HandleFunc("/v1/recovery/redeem", s.traced("recovery.redeem", s.handleRecoveryRedeem))
	mux.HandleFunc("/v1/recovery/acknowledge", s.traced("recovery.acknowledge", s.handleRecoveryAcknowledge))
	mux.HandleFunc("/v1/recovery/rotate", s.traced("recovery.rotate", s.handleRecoveryRotate))
	mux.HandleFunc("/v1/recovery", s.traced("recovery.remaining", s.handleRecoveryRemaining))
	mux.HandleFunc("/v1/session", s.traced("session.resolve", s.handleSession))
	mux.HandleFunc("/v1/logout", s.traced("session.logout", s.handleLogout))
	mux.HandleFunc("/v1/logout/all", s.traced("session.logout_all", s.handleLogoutAll))
	mux.HandleFunc("/v1/credentials", s.traced("credentials.list", s.handleCredentials))
	mux.HandleFunc("/v1/credentials/", s.traced("credentials.remove", s.handleCredentialByID))
	mux.HandleFunc("/v1/accounts", s.traced("accounts", s.handleAccounts))
	mux.HandleFunc("/v1/accounts/", s.traced("accounts.by_address", s.handleAccountByAddress))
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// traced wraps a handler in a request span.
func (s *Server) traced(operation string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), "httpapi."+operation,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
			),
		)
		defer span.End()
		next(w, r.WithContext(ctx))
	}
}

// bearerToken extracts the bearer token from an Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// authenticate resolves the request's bearer token to a user id and stores
// the identity in the request context for downstream logging.
func (s *Server) authenticate(r *http.Request) (*http.Request, string, error) {
	userID, err := s.sessions.Resolve(r.Context(), bearerToken(r))
	if err != nil {
		return r, "", err
	}
	return r.WithContext(requestctx.WithUserID(r.Context(), userID)), userID, nil
}
