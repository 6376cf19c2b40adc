package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avc/pointledger/internal/app"
	"github.com/avc/pointledger/internal/config"
	"github.com/avc/pointledger/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli хранит общее состояние команд
type cli struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{cfg: config.Default()}

	root := &cobra.Command{
		Use:           "pointledger",
		Short:         "Loyalty points ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.Load(); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := app.NewLogger(c.cfg.LogLevel)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	c.cfg.RegisterFlags(root.PersistentFlags())

	serve := c.serveCmd()
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		c.migrateCmd(),
		c.expirePointsCmd(),
		c.expireTransfersCmd(),
		c.createUserCmd(),
	)
	return root
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApp(ctx, c.cfg, c.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return application.Run(ctx)
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Storage != config.StoragePostgres {
				return errors.New("migrations require postgres storage")
			}
			applied, err := app.Migrate(cmd.Context(), c.cfg.DatabaseURI, c.logger)
			if err != nil {
				return err
			}
			c.logger.Info("migrations applied", zap.Int("count", len(applied)), zap.Strings("names", applied))
			return nil
		},
	}
}

func (c *cli) expirePointsCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "expire-points",
		Short: "Expire point lots past their expiry date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.ExpirePoints(ctx, time.Now(), dryRun)
				if err != nil {
					return err
				}
				c.logger.Info("expire points finished", zap.Int("lots", n), zap.Bool("dry_run", dryRun))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only list lots due for expiry")
	return cmd
}

func (c *cli) expireTransfersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-transfers",
		Short: "Expire pending transfers past their deadline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.ExpireTransfers(ctx)
				if err != nil {
					return err
				}
				c.logger.Info("expire transfers finished", zap.Int("transfers", n))
				return nil
			})
		},
	}
}

func (c *cli) createUserCmd() *cobra.Command {
	var login, password, role string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create a user with the given role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				user, err := a.CreateUser(ctx, login, password, domain.Role(role))
				if err != nil {
					return err
				}
				c.logger.Info("user created", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "user login")
	cmd.Flags().StringVar(&password, "password", "", "user password")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleUser), "role: user, store_manager or admin")
	_ = cmd.MarkFlagRequired("login")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// withApp собирает приложение для разовой команды и освобождает ресурсы после нее
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.NewApp(ctx, c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close()
	return fn(ctx, a)
}
