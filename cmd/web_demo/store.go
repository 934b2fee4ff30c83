package main

import (
	"context"
	"log/slog"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"

	trailbase "github.com/q10elabs/trailbase-test"
)

const pkceSessionName = "pkce"

// cookieVerifierStore keeps the single pkce verifier slot in a short
// lived http-only cookie, so it survives the full-page redirect to the
// oauth provider and back. One slot for all providers.
type cookieVerifierStore struct {
	c echo.Context
}

var _ trailbase.VerifierStore = (*cookieVerifierStore)(nil)

func (s *cookieVerifierStore) StoreVerifier(verifier string) error {
	sess, err := session.Get(pkceSessionName, s.c)
	if err != nil {
		return err
	}

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   300, // the redirect round trip should not take longer
		HttpOnly: true,
	}

	sess.Values = map[interface{}]interface{}{}
	sess.Values[trailbase.VerifierStorageKey] = verifier

	return sess.Save(s.c.Request(), s.c.Response())
}

func (s *cookieVerifierStore) RetrieveVerifier() (string, error) {
	sess, err := session.Get(pkceSessionName, s.c)
	if err != nil {
		return "", trailbase.ErrVerifierNotFound
	}

	verifier, ok := sess.Values[trailbase.VerifierStorageKey].(string)
	if !ok || verifier == "" {
		return "", trailbase.ErrVerifierNotFound
	}

	return verifier, nil
}

func (s *cookieVerifierStore) ClearVerifier() error {
	sess, err := session.Get(pkceSessionName, s.c)
	if err != nil {
		return err
	}

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}
	sess.Values = map[interface{}]interface{}{}

	return sess.Save(s.c.Request(), s.c.Response())
}

func (s *DemoServer) persistSession(sess *trailbase.Session) {
	if err := s.db.Exec("DELETE FROM stored_sessions").Error; err != nil {
		slog.Warn("could not clear stored sessions", "error", err)
		return
	}

	row := &StoredSession{
		Email:        sess.Email,
		AuthToken:    sess.AuthToken,
		RefreshToken: sess.RefreshToken,
		CsrfToken:    sess.CsrfToken,
	}

	if err := s.db.Create(row).Error; err != nil {
		slog.Warn("could not persist session", "error", err)
	}
}

func (s *DemoServer) dropStoredSession() {
	if err := s.db.Exec("DELETE FROM stored_sessions").Error; err != nil {
		slog.Warn("could not drop stored session", "error", err)
	}
}

// restoreSession adopts a previously persisted token set at startup and
// immediately revalidates it; a stale set cleans itself up through the
// session-lost path.
func (s *DemoServer) restoreSession() {
	var row StoredSession
	if err := s.db.Raw("SELECT * FROM stored_sessions LIMIT 1").Scan(&row).Error; err != nil {
		slog.Warn("could not read stored session", "error", err)
		return
	}

	if row.AuthToken == "" {
		return
	}

	resp := &trailbase.TokenResponse{
		AuthToken:    row.AuthToken,
		RefreshToken: row.RefreshToken,
		CsrfToken:    row.CsrfToken,
	}

	if err := s.sm.AdoptTokens(resp); err != nil {
		slog.Warn("stored session is unusable, dropping it", "error", err)
		s.dropStoredSession()
		return
	}

	if err := s.sm.Revalidate(context.Background()); err != nil {
		slog.Warn("stored session did not survive revalidation", "error", err)
		return
	}

	s.startWatch()

	slog.Info("session restored", "email", row.Email)
}
