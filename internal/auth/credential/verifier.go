package credential

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/tuxedoai/vaultgate/internal/auth/challenge"
	"github.com/tuxedoai/vaultgate/internal/auth/passkey"
	"github.com/tuxedoai/vaultgate/internal/platform/errors"
	"github.com/tuxedoai/vaultgate/internal/platform/id"
	"github.com/tuxedoai/vaultgate/internal/platform/logging"
	"github.com/tuxedoai/vaultgate/internal/storage"
)

type ceremonyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type ceremonyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultCeremonyParser struct{}

func (defaultCeremonyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultCeremonyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Verifier runs WebAuthn ceremonies over the stores.
type Verifier struct {
	users       storage.UserStore
	credentials storage.CredentialStore
	challenges  *challenge.Manager
	webAuthn    ceremonyProvider
	parser      ceremonyParser
	config      passkey.Config
	clock       func() time.Time
	newID       func() (string, error)
	log         logging.Logger
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// WithIDGenerator overrides user id generation, for tests.
func WithIDGenerator(generate func() (string, error)) VerifierOption {
	return func(v *Verifier) {
		if generate != nil {
			v.newID = generate
		}
	}
}

// WithProvider overrides the WebAuthn ceremony provider, for tests.
func WithProvider(provider ceremonyProvider) VerifierOption {
	return func(v *Verifier) {
		if provider != nil {
			v.webAuthn = provider
		}
	}
}

// WithParser overrides the response parser, for tests.
func WithParser(parser ceremonyParser) VerifierOption {
	return func(v *Verifier) {
		if parser != nil {
			v.parser = parser
		}
	}
}

// WithLogger overrides the audit logger.
func WithLogger(log logging.Logger) VerifierOption {
	return func(v *Verifier) {
		if log != nil {
			v.log = log
		}
	}
}

// NewVerifier builds a ceremony verifier.
func NewVerifier(
	users storage.UserStore,
	credentials storage.CredentialStore,
	challenges *challenge.Manager,
	cfg passkey.Config,
	opts ...VerifierOption,
) (*Verifier, error) {
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if challenges == nil {
		return nil, fmt.Errorf("challenge manager is required")
	}

	webAuthn, err := passkey.NewWebAuthn(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}

	v := &Verifier{
		users:       users,
		credentials: credentials,
		challenges:  challenges,
		webAuthn:    webAuthn,
		parser:      defaultCeremonyParser{},
		config:      cfg,
		clock:       time.Now,
		newID:       id.NewID,
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ceremonyUser adapts a stored user and its credentials to webauthn.User.
type ceremonyUser struct {
	user        storage.User
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte          { return []byte(u.user.ID) }
func (u *ceremonyUser) WebAuthnName() string        { return u.user.Email }
func (u *ceremonyUser) WebAuthnDisplayName() string { return u.user.Email }
func (u *ceremonyUser) WebAuthnIcon() string        { return "" }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// BeginRegistration opens a registration ceremony for a new identity.
//
// The user row is created inactive so the email is reserved for the duration
// of the ceremony; it activates when the credential verifies. An abandoned
// registration leaves an inactive row that the next attempt reuses.
func (v *Verifier) BeginRegistration(ctx context.Context, email string) (*protocol.CredentialCreation, string, error) {
	if v == nil {
		return nil, "", fmt.Errorf("verifier is not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, "", errors.New(errors.CodeUnknownIdentity, "email is required")
	}

	user, err := v.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if user.Active {
			return nil, "", errors.WithMetadata(errors.CodeIdentityExists, "an account already exists for this email", map[string]string{"email": email})
		}
	case stderrors.Is(err, storage.ErrNotFound):
		userID, err := v.newID()
		if err != nil {
			return nil, "", fmt.Errorf("generate user id: %w", err)
		}
		user = storage.User{
			ID:        userID,
			Email:     email,
			Active:    false,
			CreatedAt: v.clock().UTC(),
		}
		if err := v.users.PutUser(ctx, user); err != nil {
			return nil, "", fmt.Errorf("reserve user: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}

	waUser, err := v.loadCeremonyUser(ctx, user)
	if err != nil {
		return nil, "", err
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(waUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(waUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := v.webAuthn.BeginRegistration(waUser, options...)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}

	challengeID, err := v.challenges.Start(ctx, storage.CeremonyRegistration, user.ID, session)
	if err != nil {
		return nil, "", err
	}
	return creation, challengeID, nil
}

// FinishRegistration consumes the challenge, verifies the attestation
// response, and activates the identity with its first credential.
func (v *Verifier) FinishRegistration(ctx context.Context, challengeID string, responseJSON []byte) (storage.User, string, error) {
	if v == nil {
		return storage.User{}, "", fmt.Errorf("verifier is not configured")
	}
	if len(responseJSON) == 0 {
		return storage.User{}, "", errors.New(errors.CodeSignatureVerificationFailed, "credential response is required")
	}

	record, session, err := v.challenges.Consume(ctx, challengeID, storage.CeremonyRegistration)
	if err != nil {
		return storage.User{}, "", err
	}
	if record.UserID == "" {
		return storage.User{}, "", fmt.Errorf("registration challenge missing user id")
	}

	user, err := v.users.GetUser(ctx, record.UserID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return storage.User{}, "", errors.New(errors.CodeUnknownIdentity, "account not found")
		}
		return storage.User{}, "", fmt.Errorf("load user: %w", err)
	}

	parsed, err := v.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return storage.User{}, "", errors.Wrap(errors.CodeSignatureVerificationFailed, "parse credential response", err)
	}
	if err := v.checkClientData(parsed.Response.CollectedClientData, protocol.CreateCeremony); err != nil {
		return storage.User{}, "", err
	}

	waUser, err := v.loadCeremonyUser(ctx, user)
	if err != nil {
		return storage.User{}, "", err
	}
	credential, err := v.webAuthn.CreateCredential(waUser, *session, parsed)
	if err != nil {
		return storage.User{}, "", errors.Wrap(errors.CodeSignatureVerificationFailed, "verify credential response", err)
	}

	credentialID := encodeCredentialID(credential.ID)
	if _, err := v.credentials.GetCredential(ctx, credentialID); err == nil {
		return storage.User{}, "", errors.WithMetadata(errors.CodeCredentialExists, "credential is already registered", map[string]string{"credential_id": credentialID})
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return storage.User{}, "", fmt.Errorf("check credential: %w", err)
	}

	now := v.clock().UTC()
	if err := v.putCredential(ctx, user.ID, *credential, "", now); err != nil {
		return storage.User{}, "", err
	}

	user.Active = true
	if err := v.users.PutUser(ctx, user); err != nil {
		return storage.User{}, "", fmt.Errorf("activate user: %w", err)
	}

	v.log.Info(ctx, "credential registered",
		"user_id", user.ID,
		"credential_id", credentialID,
		"backup_eligible", credential.Flags.BackupEligible,
	)
	return user, credentialID, nil
}

// BeginLogin opens a login ceremony. An empty email starts a client-side
// discoverable ceremony; otherwise the challenge is bound to the account.
func (v *Verifier) BeginLogin(ctx context.Context, email string) (*protocol.CredentialAssertion, string, error) {
	if v == nil {
		return nil, "", fmt.Errorf("verifier is not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))

	if email == "" {
		assertion, session, err := v.webAuthn.BeginDiscoverableLogin()
		if err != nil {
			return nil, "", fmt.Errorf("begin discoverable login: %w", err)
		}
		challengeID, err := v.challenges.Start(ctx, storage.CeremonyLogin, "", session)
		if err != nil {
			return nil, "", err
		}
		return assertion, challengeID, nil
	}

	user, err := v.users.GetUserByEmail(ctx, email)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, "", errors.New(errors.CodeUnknownIdentity, "account not found")
		}
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		return nil, "", errors.New(errors.CodeUnknownIdentity, "account not found")
	}

	waUser, err := v.loadCeremonyUser(ctx, user)
	if err != nil {
		return nil, "", err
	}
	if len(waUser.credentials) == 0 {
		return nil, "", errors.New(errors.CodeUnknownCredential, "account has no registered credential")
	}

	assertion, session, err := v.webAuthn.BeginLogin(waUser)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}
	challengeID, err := v.challenges.Start(ctx, storage.CeremonyLogin, user.ID, session)
	if err != nil {
		return nil, "", err
	}
	return assertion, challengeID, nil
}

// FinishLogin consumes the challenge, verifies the assertion, and applies
// the sign counter clone policy before any state is updated.
func (v *Verifier) FinishLogin(ctx context.Context, challengeID string, responseJSON []byte) (storage.User, error) {
	if v == nil {
		return storage.User{}, fmt.Errorf("verifier is not configured")
	}
	if len(responseJSON) == 0 {
		return storage.User{}, errors.New(errors.CodeSignatureVerificationFailed, "credential response is required")
	}

	record, session, err := v.challenges.Consume(ctx, challengeID, storage.CeremonyLogin)
	if err != nil {
		return storage.User{}, err
	}

	parsed, err := v.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return storage.User{}, errors.Wrap(errors.CodeSignatureVerificationFailed, "parse credential response", err)
	}
	if err := v.checkClientData(parsed.Response.CollectedClientData, protocol.AssertCeremony); err != nil {
		return storage.User{}, err
	}

	credentialID := encodeCredentialID(parsed.RawID)
	stored, err := v.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return storage.User{}, errors.New(errors.CodeUnknownCredential, "credential is not registered")
		}
		return storage.User{}, fmt.Errorf("load credential: %w", err)
	}
	if stored.ClonedAt != nil {
		v.log.Warn(ctx, "login attempt with flagged credential",
			"user_id", stored.UserID,
			"credential_id", credentialID,
			"flagged_at", stored.ClonedAt.Format(time.RFC3339),
		)
		return storage.User{}, errors.New(errors.CodeCredentialCloneDetected, "credential is flagged as cloned")
	}

	user, err := v.validateAssertion(ctx, record, session, parsed)
	if err != nil {
		return storage.User{}, err
	}
	if stored.UserID != user.ID {
		return storage.User{}, errors.New(errors.CodeUnknownCredential, "credential is not registered")
	}

	// go-webauthn treats an equal counter as a clone warning; the policy
	// here is stricter only on regression. A live counter must never move
	// backwards, while authenticators without counters report zero forever.
	reported := parsed.Response.AuthenticatorData.Counter
	if reported < stored.SignCount {
		now := v.clock().UTC()
		if err := v.credentials.FlagCredentialCloned(ctx, credentialID, now); err != nil {
			return storage.User{}, fmt.Errorf("flag credential: %w", err)
		}
		v.log.Error(ctx, "credential clone detected",
			"user_id", stored.UserID,
			"credential_id", credentialID,
			"stored_sign_count", stored.SignCount,
			"reported_sign_count", reported,
		)
		return storage.User{}, errors.WithMetadata(errors.CodeCredentialCloneDetected, "authenticator state is inconsistent", map[string]string{"credential_id": credentialID})
	}

	now := v.clock().UTC()
	if err := v.credentials.UpdateCredentialUsage(ctx, credentialID, reported, now); err != nil {
		return storage.User{}, fmt.Errorf("record credential usage: %w", err)
	}
	if err := v.users.SetLastLogin(ctx, user.ID, now); err != nil {
		return storage.User{}, fmt.Errorf("record login: %w", err)
	}

	user.LastLoginAt = &now
	return user, nil
}

// List returns the user's registered credentials.
func (v *Verifier) List(ctx context.Context, userID string) ([]storage.Credential, error) {
	if v == nil {
		return nil, fmt.Errorf("verifier is not configured")
	}
	return v.credentials.ListCredentials(ctx, userID)
}

// Remove deletes a credential unless that would leave the account with no
// credential and no unused recovery code.
func (v *Verifier) Remove(ctx context.Context, userID, credentialID string) error {
	if v == nil {
		return fmt.Errorf("verifier is not configured")
	}

	deleted, err := v.credentials.DeleteCredentialGuarded(ctx, userID, credentialID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if deleted {
		v.log.Info(ctx, "credential removed", "user_id", userID, "credential_id", credentialID)
		return nil
	}

	stored, err := v.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return errors.New(errors.CodeUnknownCredential, "credential is not registered")
		}
		return fmt.Errorf("load credential: %w", err)
	}
	if stored.UserID != userID {
		return errors.New(errors.CodeUnknownCredential, "credential is not registered")
	}
	return errors.New(errors.CodeCredentialRemovalBlocked, "removing the last credential requires an unused recovery code")
}

func (v *Verifier) validateAssertion(
	ctx context.Context,
	record storage.Challenge,
	session *webauthn.SessionData,
	parsed *protocol.ParsedCredentialAssertionData,
) (storage.User, error) {
	if record.UserID != "" {
		user, err := v.users.GetUser(ctx, record.UserID)
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return storage.User{}, errors.New(errors.CodeUnknownIdentity, "account not found")
			}
			return storage.User{}, fmt.Errorf("load user: %w", err)
		}
		waUser, err := v.loadCeremonyUser(ctx, user)
		if err != nil {
			return storage.User{}, err
		}
		if _, err := v.webAuthn.ValidateLogin(waUser, *session, parsed); err != nil {
			return storage.User{}, errors.Wrap(errors.CodeSignatureVerificationFailed, "verify assertion", err)
		}
		return user, nil
	}

	validatedUser, _, err := v.webAuthn.ValidatePasskeyLogin(v.discoverableHandler(ctx), *session, parsed)
	if err != nil {
		return storage.User{}, errors.Wrap(errors.CodeSignatureVerificationFailed, "verify assertion", err)
	}
	waUser, ok := validatedUser.(*ceremonyUser)
	if !ok {
		return storage.User{}, fmt.Errorf("unexpected webauthn user type %T", validatedUser)
	}
	return waUser.user, nil
}

// checkClientData re-verifies ceremony type and origin on top of the library
// checks, so a misrouted response fails with a precise code.
func (v *Verifier) checkClientData(clientData protocol.CollectedClientData, expected protocol.CeremonyType) error {
	if clientData.Type != expected {
		return errors.WithMetadata(errors.CodeCeremonyTypeMismatch, "client data ceremony type mismatch", map[string]string{"type": string(clientData.Type)})
	}
	for _, origin := range v.config.RPOrigins {
		if clientData.Origin == origin {
			return nil
		}
	}
	return errors.WithMetadata(errors.CodeOriginOrRPMismatch, "client data origin is not allowed", map[string]string{"origin": clientData.Origin})
}

func (v *Verifier) loadCeremonyUser(ctx context.Context, user storage.User) (*ceremonyUser, error) {
	records, err := v.credentials.ListCredentials(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	parsed, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &ceremonyUser{user: user, credentials: parsed}, nil
}

func (v *Verifier) discoverableHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := strings.TrimSpace(string(userHandle))
		if userID == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		user, err := v.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !user.Active {
			return nil, fmt.Errorf("account is not active")
		}
		return v.loadCeremonyUser(ctx, user)
	}
}

func (v *Verifier) putCredential(ctx context.Context, userID string, credential webauthn.Credential, label string, createdAt time.Time) error {
	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	record := storage.Credential{
		CredentialID:   encodeCredentialID(credential.ID),
		UserID:         userID,
		CredentialJSON: string(credentialJSON),
		SignCount:      credential.Authenticator.SignCount,
		Label:          label,
		BackupEligible: credential.Flags.BackupEligible,
		CreatedAt:      createdAt,
	}
	if err := v.credentials.PutCredential(ctx, record); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func decodeStoredCredentials(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal([]byte(record.CredentialJSON), &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
