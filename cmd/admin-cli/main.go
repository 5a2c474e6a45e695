package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/client"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

type Globals struct {
	Server     string        `help:"Auth service URL." env:"AUTH_SERVER_URL" default:"http://localhost:8080"`
	APIKey     string        `help:"Client API key." env:"AUTH_SERVICE_API_KEY" required:""`
	SessionDir string        `help:"Directory for remembered sessions." env:"ADMIN_SESSION_DIR" type:"path"`
	Timeout    time.Duration `help:"Network timeout." default:"15s"`
	Debug      bool          `help:"Enable debug logging."`
}

func (g *Globals) newClient() (*client.Client, error) {
	dir := g.SessionDir
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(base, "school-admin")
	}
	durable, err := client.NewFileStorage(dir)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop().Sugar()
	if g.Debug {
		logger = util.NewZapLogger()
	}

	return client.New(client.Config{
		BaseURL:   g.Server,
		APIKey:    g.APIKey,
		Timeout:   g.Timeout,
		Durable:   durable,
		Ephemeral: client.NewMemoryStorage(),
		Logger:    logger,
		OnSessionEnded: func(reason string) {
			fmt.Fprintf(os.Stderr, "session ended (%s); sign in again\n", reason)
		},
	})
}

type SignInCmd struct {
	Email      string `arg:"" help:"Account email."`
	Password   string `help:"Password." env:"ADMIN_PASSWORD" required:""`
	RememberMe bool   `help:"Persist the session on disk." default:"true" negatable:""`
	Stay       bool   `help:"Stay running and keep the session alive with heartbeats."`
}

func (s *SignInCmd) Run(ctx context.Context, g *Globals) error {
	c, err := g.newClient()
	if err != nil {
		return err
	}
	resp, err := c.SignIn(ctx, s.Email, s.Password, s.RememberMe)
	if err != nil {
		return err
	}
	fmt.Printf("signed in as %s (%s), session %s expires %s\n",
		resp.Account.Email, resp.Account.Role, resp.SessionMetadata.SessionID, resp.SessionMetadata.ExpiresAt.Format(time.RFC3339))
	if resp.Account.FirstLogin {
		fmt.Println("first login: set a new password before continuing")
	}
	if !s.Stay {
		return nil
	}
	return c.RunHeartbeat(ctx)
}

type MeCmd struct{}

func (m *MeCmd) Run(ctx context.Context, g *Globals) error {
	c, err := g.newClient()
	if err != nil {
		return err
	}
	account, err := c.Me(ctx)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(account)
}

type HeartbeatCmd struct{}

func (h *HeartbeatCmd) Run(ctx context.Context, g *Globals) error {
	c, err := g.newClient()
	if err != nil {
		return err
	}
	resp, err := c.Heartbeat(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("session %s extended to %s\n", resp.SessionID, resp.ExpiresAt.Format(time.RFC3339))
	return nil
}

type LogoutCmd struct {
	All bool `help:"Revoke every session of the account."`
}

func (l *LogoutCmd) Run(ctx context.Context, g *Globals) error {
	c, err := g.newClient()
	if err != nil {
		return err
	}
	return c.Logout(ctx, l.All)
}

var cli struct {
	Globals

	Signin    SignInCmd    `cmd:"" help:"Sign in and store the session."`
	Me        MeCmd        `cmd:"" help:"Show the signed-in account."`
	Heartbeat HeartbeatCmd `cmd:"" help:"Extend the current session."`
	Logout    LogoutCmd    `cmd:"" help:"End the current session."`
}

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Description("School administration auth client."),
		kong.BindTo(ctx, (*context.Context)(nil)))
	cmd.FatalIfErrorf(cmd.Run(&cli.Globals))
}
