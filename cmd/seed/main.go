package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/migrations"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/models"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/service"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/storage/postgres"
	"github.com/ibrahdiallo077/schoolmanagement22-sub003/internal/util"
)

var cli struct {
	DatabaseURL string `help:"Postgres DSN." env:"DATABASE_URL" required:""`
	BcryptCost  int    `help:"bcrypt cost." env:"BCRYPT_COST" default:"12"`

	Account AccountCmd `cmd:"" help:"Create an account or reset its password."`
}

type AccountCmd struct {
	Email      string `arg:"" help:"Account email."`
	Password   string `help:"Initial password." required:""`
	Role       string `help:"Account role." enum:"admin,staff,accountant" default:"staff"`
	Inactive   bool   `help:"Create the account deactivated."`
	SkipPolicy bool   `help:"Allow a password that fails the policy."`
}

func (a *AccountCmd) Run(ctx context.Context) error {
	if !a.SkipPolicy {
		if err := service.ValidatePasswordPolicy(a.Password); err != nil {
			return err
		}
	}

	logger := util.NewZapLogger()
	db, cleanup, err := util.NewDBConnection(logger, &util.DBConfig{DSN: cli.DatabaseURL})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer cleanup()

	if err := migrations.RunMigrations(db, logger); err != nil {
		return err
	}

	hash, err := service.NewPasswordHasher(cli.BcryptCost).Hash(a.Password)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	account, err := postgres.NewStorage(db).UpsertAccount(ctx, &models.Account{
		ID:           uuid.New(),
		Email:        a.Email,
		PasswordHash: hash,
		Role:         models.Role(a.Role),
		Active:       !a.Inactive,
		FirstLogin:   true,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return err
	}

	logger.Infow("Account ready", "id", account.ID, "email", account.Email, "role", account.Role, "active", account.Active)
	return nil
}

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Description("Manage accounts in the credential store."),
		kong.BindTo(ctx, (*context.Context)(nil)))
	cmd.FatalIfErrorf(cmd.Run())
}
