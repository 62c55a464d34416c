// reportdesk - multi-tenant field report backend
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aethra/reportdesk/internal/api"
	"github.com/aethra/reportdesk/internal/auth"
	"github.com/aethra/reportdesk/internal/cleanup"
	"github.com/aethra/reportdesk/internal/config"
	"github.com/aethra/reportdesk/internal/database"
	"github.com/aethra/reportdesk/internal/engine"
	"github.com/aethra/reportdesk/internal/logger"
	"github.com/aethra/reportdesk/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Version = "1.0.0"

// app holds what every command needs.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *gorm.DB
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "reportdesk",
		Short:         "Multi-tenant field report backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run migrations and start the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := database.RunMigrations(a.db, a.log); err != nil {
					return err
				}
				fmt.Println("Migrations complete")
				return nil
			},
		},
		newTenantCmd(a),
		newUserCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger.SetDefault(log)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.db = cfg, log, db
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = database.Close(a.db)
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) serve(ctx context.Context) error {
	a.log.Info("reportdesk starting", zap.String("version", Version))
	if a.cfg.Auth.GeneratedSecret {
		a.log.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}

	if err := database.RunMigrations(a.db, a.log); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	a.log.Info("migrations complete")

	gin.SetMode(a.cfg.Server.Mode)
	m := metrics.New(a.cfg.Metrics.Prefix)

	reports := engine.NewReportService(a.db, m, a.log)
	branches := engine.NewBranchService(a.db, reports.Tenants(), reports.Tables(), m, a.log)
	clients := engine.NewClientService(a.db, reports.Tenants(), reports.Tables(), a.log)
	sessions := auth.NewGormSessionStore(a.db)
	authenticator := auth.NewAuthenticator(a.db,
		auth.NewJWTService(a.cfg.Auth.JWTSecret, a.cfg.Auth.AccessExpiry), sessions, m, a.log)

	handler := api.NewHandler(a.db, reports, branches, clients, authenticator, api.NewLoginRateLimiter(ctx))
	router := api.SetupRouter(handler, a.cfg.CORS, m)

	go cleanup.New(sessions, a.cfg.Cleanup.Interval, m, a.log).Run(ctx)

	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("graceful shutdown failed", zap.Error(err))
	}
	reports.Wait()
	a.log.Info("server stopped")
	return nil
}
