package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	trailbase "github.com/q10elabs/trailbase-test"
)

func main() {
	godotenv.Load()

	app := &cli.App{
		Name:    "tbwatch",
		Usage:   "log in to a trailbase server and watch a record for realtime changes",
		Version: versioninfo.Short(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:7000",
				EnvVars: []string{"TRAILBASE_URL"},
			},
			&cli.StringFlag{
				Name:    "email",
				EnvVars: []string{"TRAILBASE_EMAIL"},
			},
			&cli.StringFlag{
				Name:    "password",
				EnvVars: []string{"TRAILBASE_PASSWORD"},
			},
		},
		Commands: []*cli.Command{
			runLogin,
			runWatch,
		},
	}

	app.RunAndExitOnError()
}

func newManager(cmd *cli.Context) (*trailbase.SessionManager, *trailbase.Client, error) {
	client, err := trailbase.NewClient(trailbase.ClientArgs{BaseUrl: cmd.String("server")})
	if err != nil {
		return nil, nil, err
	}

	sm, err := trailbase.NewSessionManager(trailbase.SessionManagerArgs{
		Client: client,
		Logger: slog.Default(),
	})
	if err != nil {
		return nil, nil, err
	}

	return sm, client, nil
}

func login(ctx context.Context, cmd *cli.Context, sm *trailbase.SessionManager) error {
	email := cmd.String("email")
	password := cmd.String("password")

	if email == "" || password == "" {
		return fmt.Errorf("email and password are required (flags or environment)")
	}

	return sm.Login(ctx, email, password)
}

var runLogin = &cli.Command{
	Name:  "login",
	Usage: "verify credentials and print the resulting session",
	Action: func(cmd *cli.Context) error {
		sm, _, err := newManager(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context

		if err := login(ctx, cmd, sm); err != nil {
			return err
		}
		defer sm.Logout(ctx)

		sess := sm.Store().Get()

		fmt.Printf("user id:    %s\n", sess.UserId)
		fmt.Printf("email:      %s\n", sess.Email)
		fmt.Printf("expires at: %s\n", sess.ExpiresAt)

		return nil
	},
}

var runWatch = &cli.Command{
	Name:      "watch",
	Usage:     "subscribe to a record and print every event until interrupted",
	ArgsUsage: "<record-api> <record-id>",
	Action: func(cmd *cli.Context) error {
		if cmd.Args().Len() != 2 {
			return fmt.Errorf("expected a record api name and a record id")
		}

		api := cmd.Args().Get(0)
		recordId := cmd.Args().Get(1)

		sm, client, err := newManager(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := login(ctx, cmd, sm); err != nil {
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

		sm.OnAuthChange(func(sess *trailbase.Session) {
			if sess == nil {
				subscriber.Cancel()
			}
		})

		// Print the starting state before the event stream begins.
		if record, err := client.Record(ctx, sm.Store().Get().AuthToken, api, recordId); err == nil {
			fmt.Printf("current: %s\n", record)
		}

		enc := json.NewEncoder(os.Stdout)
		err = subscriber.Subscribe(ctx, api, recordId, func(ev trailbase.RecordEvent) {
			enc.Encode(ev)
		})
		if err != nil {
			return err
		}

		<-ctx.Done()

		subscriber.Cancel()

		return sm.Logout(context.Background())
	},
}
