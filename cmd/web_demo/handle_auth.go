package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	trailbase "github.com/q10elabs/trailbase-test"
)

func (s *DemoServer) oauthFlow(e echo.Context) (*trailbase.OAuthFlow, error) {
	return trailbase.NewOAuthFlow(trailbase.OAuthFlowArgs{
		Client:     s.client,
		Sessions:   s.sm,
		Verifiers:  &cookieVerifierStore{c: e},
		RedirectTo: s.publicUrl + "/callback",
	})
}

func (s *DemoServer) handleIndex(e echo.Context) error {
	sess := s.sm.Store().Get()
	if sess == nil {
		return e.JSON(http.StatusOK, map[string]any{
			"state": s.sm.State().String(),
		})
	}

	return e.JSON(http.StatusOK, map[string]any{
		"state":      s.sm.State().String(),
		"user_id":    sess.UserId,
		"email":      sess.Email,
		"expires_at": sess.ExpiresAt,
		"watching":   s.subscriber.Active(),
	})
}

func (s *DemoServer) handleLoginPage(e echo.Context) error {
	page := `<form method="post" action="/login">
	<input name="email" type="email" placeholder="email">
	<input name="password" type="password" placeholder="password">
	<button type="submit">log in</button>
</form>
<a href="/oauth/google/login">log in with google</a>`

	if msg := e.QueryParam("e"); msg != "" {
		page = fmt.Sprintf("<p>%s</p>%s", msg, page)
	}

	return e.HTML(http.StatusOK, page)
}

func (s *DemoServer) handleLoginSubmit(e echo.Context) error {
	email := e.FormValue("email")
	password := e.FormValue("password")

	if email == "" || password == "" {
		return e.Redirect(302, "/login?e=missing-credentials")
	}

	if err := s.sm.Login(e.Request().Context(), email, password); err != nil {
		if errors.Is(err, trailbase.ErrInvalidCredentials) {
			return e.Redirect(302, "/login?e=invalid-credentials")
		}
		return err
	}

	s.startWatch()

	return e.Redirect(302, "/")
}

func (s *DemoServer) handleOAuthLogin(e echo.Context) error {
	flow, err := s.oauthFlow(e)
	if err != nil {
		return err
	}

	redirect, err := flow.BeginOAuth(e.Param("provider"))
	if err != nil {
		return err
	}

	return e.Redirect(302, redirect)
}

func (s *DemoServer) handleCallback(e echo.Context) error {
	flow, err := s.oauthFlow(e)
	if err != nil {
		return err
	}

	result, err := flow.HandleCallback(e.Request().Context(), e.QueryParams())
	if err != nil {
		if errors.Is(err, trailbase.ErrExchangeFailed) {
			return e.Redirect(302, "/login?e=exchange-failed")
		}
		return err
	}

	switch result {
	case trailbase.CallbackAuthenticated:
		s.startWatch()
		return e.Redirect(302, "/")
	case trailbase.CallbackFallback:
		restored, err := flow.RestoreFromCookies(e.Request().Context())
		if err != nil {
			return err
		}
		if restored {
			s.startWatch()
			return e.Redirect(302, "/")
		}
		return e.Redirect(302, "/login?e=session-not-restored")
	default:
		return e.Redirect(302, "/login")
	}
}

// handleRevalidate is the hook the frontend calls on visibility changes,
// covering sleep/wake and tab switches where timers were suspended.
func (s *DemoServer) handleRevalidate(e echo.Context) error {
	if err := s.sm.Revalidate(e.Request().Context()); err != nil {
		if errors.Is(err, trailbase.ErrSessionLost) {
			return e.JSON(http.StatusUnauthorized, map[string]any{"state": s.sm.State().String()})
		}
		return err
	}

	return e.JSON(http.StatusOK, map[string]any{"state": s.sm.State().String()})
}

func (s *DemoServer) handleLogout(e echo.Context) error {
	if err := s.sm.Logout(e.Request().Context()); err != nil {
		return err
	}

	return e.Redirect(302, "/login")
}

func (s *DemoServer) startWatch() {
	if s.watchApi == "" || s.watchRecord == "" {
		return
	}

	err := s.subscriber.Subscribe(context.Background(), s.watchApi, s.watchRecord, func(ev trailbase.RecordEvent) {
		slog.Info("record event",
			"api", s.watchApi,
			"record", s.watchRecord,
			"insert", string(ev.Insert),
			"update", string(ev.Update),
			"delete", string(ev.Delete),
		)
	})
	if err != nil {
		slog.Warn("could not subscribe to record", "error", err)
	}
}
