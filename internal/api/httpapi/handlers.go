package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tuxedoai/vaultgate/internal/platform/errors"
	"github.com/tuxedoai/vaultgate/internal/platform/requestctx"
	"github.com/tuxedoai/vaultgate/internal/storage"
)

type registerBeginRequest struct {
	Email string `json:"email"`
}

type ceremonyResponse struct {
	ChallengeID string `json:"challenge_id"`
	Options     any    `json:"options"`
}

type finishRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Response    json.RawMessage `json:"response"`
}

type registerFinishResponse struct {
	UserID        string   `json:"user_id"`
	CredentialID  string   `json:"credential_id"`
	Token         string   `json:"token"`
	ExpiresAt     int64    `json:"expires_at"`
	RecoveryCodes []string `json:"recovery_codes"`
}

type loginFinishResponse struct {
	UserID    string `json:"user_id"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type redeemRequest struct {
	Identity string `json:"identity"`
	Code     string `json:"code"`
}

type recoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

type recoveryRemainingResponse struct {
	Remaining int `json:"remaining"`
}

type sessionResponse struct {
	UserID string `json:"user_id"`
}

type credentialView struct {
	CredentialID   string `json:"credential_id"`
	Label          string `json:"label,omitempty"`
	BackupEligible bool   `json:"backup_eligible"`
	Cloned         bool   `json:"cloned"`
	CreatedAt      int64  `json:"created_at"`
	LastUsedAt     int64  `json:"last_used_at,omitempty"`
}

type credentialsResponse struct {
	Credentials []credentialView `json:"credentials"`
}

type accountRequest struct {
	Label string `json:"label"`
	// Seed imports an existing account secret instead of generating one.
	Seed string `json:"seed,omitempty"`
}

type accountView struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	Label      string `json:"label,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at,omitempty"`
}

type accountsResponse struct {
	Accounts []accountView `json:"accounts"`
}

type exportResponse struct {
	Address string `json:"address"`
	Seed    string `json:"seed"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (s *Server) handleRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var req registerBeginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	options, challengeID, err := s.verifier.BeginRegistration(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyResponse{ChallengeID: challengeID, Options: options})
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var req finishRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, credentialID, err := s.verifier.FinishRegistration(r.Context(), req.ChallengeID, req.Response)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// The recovery batch is generated once, here: plaintext codes leave the
	// server only in this response.
	codes, err := s.recovery.IssueBatch(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerFinishResponse{
		UserID:        user.ID,
		CredentialID:  credentialID,
		Token:         sess.Token,
		ExpiresAt:     sess.ExpiresAt.Unix(),
		RecoveryCodes: codes,
	})
}

func (s *Server) handleLoginBegin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var req registerBeginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	options, challengeID, err := s.verifier.BeginLogin(r.Context(), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ceremonyResponse{ChallengeID: challengeID, Options: options})
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var req finishRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.verifier.FinishLogin(r.Context(), req.ChallengeID, req.Response)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginFinishResponse{
		UserID:    user.ID,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.Unix(),
	})
}

func (s *Server) handleRecoveryRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	var req redeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := s.recovery.Redeem(r.Context(), req.Identity, req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Recovery implies the usual authenticators may be lost or compromised,
	// so every existing session is revoked before the new one is issued.
	if err := s.sessions.RevokeAll(r.Context(), user.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Issue(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginFinishResponse{
		UserID:    user.ID,
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt.Unix(),
	})
}

func (s *Server) handleRecoveryAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.recovery.Acknowledge(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecoveryRotate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	codes, err := s.recovery.IssueBatch(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryCodesResponse{RecoveryCodes: codes})
}

func (s *Server) handleRecoveryRemaining(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	remaining, err := s.recovery.Remaining(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recoveryRemainingResponse{Remaining: remaining})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{UserID: userID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := s.sessions.Revoke(r.Context(), bearerToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.sessions.RevokeAll(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.verifier.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]credentialView, 0, len(records))
	for _, record := range records {
		views = append(views, credentialView{
			CredentialID:   record.CredentialID,
			Label:          record.Label,
			BackupEligible: record.BackupEligible,
			Cloned:         record.ClonedAt != nil,
			CreatedAt:      record.CreatedAt.Unix(),
			LastUsedAt:     unixOrZero(record.LastUsedAt),
		})
	}
	writeJSON(w, http.StatusOK, credentialsResponse{Credentials: views})
}

func (s *Server) handleCredentialByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	credentialID := strings.TrimPrefix(r.URL.Path, "/v1/credentials/")
	if credentialID == "" || strings.Contains(credentialID, "/") {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "credential id is required")
		return
	}
	if err := s.verifier.Remove(r.Context(), userID, credentialID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		accounts, err := s.vault.ListAccounts(r.Context(), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		views := make([]accountView, 0, len(accounts))
		for _, account := range accounts {
			views = append(views, newAccountView(account))
		}
		writeJSON(w, http.StatusOK, accountsResponse{Accounts: views})
	case http.MethodPost:
		var req accountRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		var account storage.CustodialAccount
		if strings.TrimSpace(req.Seed) != "" {
			account, err = s.vault.ImportAccount(r.Context(), userID, req.Label, req.Seed)
		} else {
			account, err = s.vault.CreateAccount(r.Context(), userID, req.Label)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newAccountView(account))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	}
}

func (s *Server) handleAccountByAddress(w http.ResponseWriter, r *http.Request) {
	r, userID, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	address, action, _ := strings.Cut(rest, "/")
	if address == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "account address is required")
		return
	}

	switch {
	case r.Method == http.MethodPost && action == "export":
		seed, err := s.vault.ExportSecret(r.Context(), userID, address)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, exportResponse{Address: address, Seed: seed})
	case r.Method == http.MethodDelete && action == "":
		if err := s.vault.DeleteAccount(r.Context(), userID, address); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	}
}

func newAccountView(account storage.CustodialAccount) accountView {
	return accountView{
		Address:    account.Address,
		PublicKey:  account.PublicKey,
		Label:      account.Label,
		CreatedAt:  account.CreatedAt.Unix(),
		LastUsedAt: unixOrZero(account.LastUsedAt),
	}
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

// genericAuthMessage hides which step of authentication failed so responses
// cannot be used to enumerate accounts or credentials.
const genericAuthMessage = "authentication failed"

// writeError renders a domain error. Enumeration-sensitive codes collapse to
// one generic message; full detail goes to the server log only.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := code.HTTPStatus()

	logArgs := []any{"path", r.URL.Path, "code", string(code), "error", err.Error()}
	if userID := requestctx.UserIDFromContext(r.Context()); userID != "" {
		logArgs = append(logArgs, "user_id", userID)
	}

	if code.Generic() {
		s.log.Info(r.Context(), "request denied", logArgs...)
		writeJSONError(w, status, "authentication_failed", genericAuthMessage)
		return
	}
	if code == errors.CodeUnknown {
		s.log.Error(r.Context(), "request failed", logArgs...)
		writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSONError(w, status, strings.ToLower(string(code)), err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid json body")
		return false
	}
	return true
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
