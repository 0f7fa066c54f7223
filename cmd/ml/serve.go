package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/app"
	"missionline/internal/engine/auth"
	"missionline/internal/server"
)

func maintenanceCmd() *cobra.Command {
	m := &cobra.Command{Use: "maintenance", Short: "Run maintenance passes once"}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Demote carrier owners idle past the inactivity threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Sweeper.Sweep(ctx)
				if viper.GetBool("json") {
					out := map[string]any{"owners": report.Owners, "demoted": report.Demoted, "skipped": report.Skipped}
					if err != nil {
						out["error"] = err.Error()
					}
					return printJSON(out)
				}
				if report.Skipped {
					warn("sweep skipped: another sweep is still running")
					return err
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Demoted owner"})
				for _, o := range report.Demoted {
					tw.AppendRow(table.Row{o})
				}
				tw.AppendFooter(table.Row{fmt.Sprintf("%d of %d owners", len(report.Demoted), report.Owners)})
				tw.Render()
				return err
			})
		},
	}

	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Remove trade channels left without a mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				orphans, err := a.Engine.Recover(ctx)
				if err != nil {
					return err
				}
				// Scheduled teardowns do not outlive the process, so remove orphans now.
				var failed int
				for _, id := range orphans {
					if err := a.Engine.Teardown(ctx, id); err != nil {
						warn("channel %s: %v", id, err)
						failed++
						continue
					}
					ok("removed orphan channel %s", id)
				}
				if len(orphans) == 0 {
					ok("no orphan channels")
				}
				if failed > 0 {
					return fmt.Errorf("%d orphan channels could not be removed", failed)
				}
				return nil
			})
		},
	}

	m.AddCommand(sweep, recoverCmd)
	return m
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the operator HTTP API and the maintenance loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("MISSIONLINE_JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("MISSIONLINE_JWT_SECRET is required for bearer auth; run ml init")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := newLogger()
			return withApp(ctx, func(ctx context.Context, a *app.App) error {
				if !cmd.Flags().Changed("base-path") && a.Config.Server.BasePath != "" {
					basePath = a.Config.Server.BasePath
				}
				if _, err := a.Engine.Recover(ctx); err != nil {
					logger.Error("startup recovery", "error", err)
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Sweeper:  a.Sweeper,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: legacy,
						LegacyRoles:            []string{auth.RoleMember},
						Logger:                 logger,
					},
				})
				if err != nil {
					return err
				}

				var wg conc.WaitGroup
				wg.Go(func() { _ = a.Sweeper.Run(ctx) })
				if feeds := server.NewFeedDispatcher(a.Repo, a.Config, logger); feeds != nil {
					wg.Go(func() { _ = feeds.Run(ctx) })
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				wg.Go(func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				})
				fmt.Printf("%s Missionline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
					color.New(color.FgGreen).Sprint("SERVE"), addr, basePath, basePath)
				err = srv.ListenAndServe()
				stop()
				wg.Wait()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&legacy, "allow-legacy-actor-header", false, "accept X-Actor-Id with member rights")
	return cmd
}
