package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	slogecho "github.com/samber/slog-echo"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	trailbase "github.com/q10elabs/trailbase-test"
	"github.com/q10elabs/trailbase-test/internal/helpers"
)

type DemoServer struct {
	client      *trailbase.Client
	sm          *trailbase.SessionManager
	subscriber  *trailbase.Subscriber
	db          *gorm.DB
	publicUrl   string
	watchApi    string
	watchRecord string
}

func main() {
	app := &cli.App{
		Name:   "trailbase-web-demo",
		Usage:  "browser-style demo app exercising the full auth and realtime flow",
		Action: run,
	}

	app.RunAndExitOnError()
}

func run(cmd *cli.Context) error {
	godotenv.Load()

	serverUrl := helpers.EnvOr("TRAILBASE_URL", "http://localhost:7000")
	publicUrl := helpers.EnvOr("DEMO_PUBLIC_URL", "http://localhost:7070")
	cookieSecret := helpers.EnvOr("DEMO_COOKIE_SECRET", "demo-cookie-secret")

	client, err := trailbase.NewClient(trailbase.ClientArgs{BaseUrl: serverUrl})
	if err != nil {
		return err
	}

	sm, err := trailbase.NewSessionManager(trailbase.SessionManagerArgs{
		Client: client,
		Logger: slog.Default(),
	})
	if err != nil {
		return err
	}

	subscriber, err := trailbase.NewSubscriber(trailbase.SubscriberArgs{
		Client: client,
		Store:  sm.Store(),
		Logger: slog.Default(),
	})
	if err != nil {
		return err
	}

	db, err := gorm.Open(sqlite.Open(helpers.EnvOr("DEMO_DB", "demo.db")), &gorm.Config{})
	if err != nil {
		return err
	}

	if err := db.AutoMigrate(&StoredSession{}); err != nil {
		return err
	}

	s := &DemoServer{
		client:      client,
		sm:          sm,
		subscriber:  subscriber,
		db:          db,
		publicUrl:   publicUrl,
		watchApi:    helpers.EnvOr("DEMO_WATCH_API", ""),
		watchRecord: helpers.EnvOr("DEMO_WATCH_RECORD", ""),
	}

	// Realtime teardown and session persistence both ride on the auth
	// observer set.
	sm.OnAuthChange(func(sess *trailbase.Session) {
		if sess == nil {
			subscriber.Cancel()
			s.dropStoredSession()
			return
		}
		s.persistSession(sess)
	})

	s.restoreSession()

	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(slog.Default()))
	e.Use(session.Middleware(sessions.NewCookieStore([]byte(cookieSecret))))

	e.GET("/", s.handleIndex)
	e.GET("/login", s.handleLoginPage)
	e.POST("/login", s.handleLoginSubmit)
	e.GET("/oauth/:provider/login", s.handleOAuthLogin)
	e.GET("/callback", s.handleCallback)
	e.POST("/revalidate", s.handleRevalidate)
	e.POST("/logout", s.handleLogout)

	httpd := http.Server{
		Addr:    helpers.EnvOr("DEMO_ADDR", ":7070"),
		Handler: e,
	}

	fmt.Println("starting demo server on", httpd.Addr)

	if err := httpd.ListenAndServe(); err != nil {
		return err
	}

	return nil
}
