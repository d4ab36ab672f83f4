package services

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/core/ports"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/infrastructure/logger"
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/metrics"
)

// Authenticator checks HTTP Basic credentials against the database.
//
// The first credential that opens the database session is pinned. Later
// requests must present the same Authorization value byte for byte until the
// session is closed.
type Authenticator struct {
	session ports.DatabaseSession
	logger  *logger.Logger
	metrics *metrics.Registry

	// established runs once per newly opened session, before the login
	// that opened it returns.
	established func(ctx context.Context)

	openMu sync.Mutex // serializes logins only

	mu    sync.RWMutex
	token []byte
}

func NewAuthenticator(session ports.DatabaseSession, log *logger.Logger, m *metrics.Registry) *Authenticator {
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Authenticator{session: session, logger: log, metrics: m}
}

func (a *Authenticator) Authenticate(ctx context.Context, credential string) error {
	if credential == "" {
		return a.reject("missing_credential")
	}
	if token := a.pinned(); token != nil {
		return a.compare(token, credential)
	}

	user, password, ok := parseBasic(credential)
	if !ok {
		return a.reject("malformed_credential")
	}

	a.openMu.Lock()
	defer a.openMu.Unlock()

	// Another login may have finished while we waited.
	if token := a.pinned(); token != nil {
		return a.compare(token, credential)
	}

	if err := a.session.Open(ctx, user, password); err != nil {
		a.logger.Warnw("database_login_failed", "user", user, "error", err)
		return a.reject("database_login_failed")
	}
	a.mu.Lock()
	a.token = []byte(credential)
	a.mu.Unlock()
	a.logger.Infow("database_session_established", "user", user)

	if a.established != nil {
		a.established(ctx)
	}
	return nil
}

// pinned returns the pinned credential while the session it opened is still
// open.
func (a *Authenticator) pinned() []byte {
	if !a.session.IsOpen() {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *Authenticator) compare(token []byte, credential string) error {
	if subtle.ConstantTimeCompare(token, []byte(credential)) != 1 {
		return a.reject("credential_mismatch")
	}
	return nil
}

func (a *Authenticator) reject(reason string) error {
	a.metrics.AuthFailures.Inc()
	a.logger.Debugw("auth_rejected", "reason", reason)
	return ErrUnauthorized
}

func parseBasic(header string) (user, password string, ok bool) {
	scheme, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	user, password, ok = strings.Cut(string(raw), ":")
	if !ok || user == "" {
		return "", "", false
	}
	return user, password, true
}
