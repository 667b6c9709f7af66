package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"stagetasks/internal/events"
	"stagetasks/internal/handlers"
	"stagetasks/internal/live"
	"stagetasks/internal/store"
	"stagetasks/internal/telemetry"
	"stagetasks/internal/watch"
)

const shutdownTimeout = 10 * time.Second

func (a *app) serveCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config, 8080)")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Settings{
		Enabled:     a.cfg.Telemetry.Enabled,
		Stdout:      a.cfg.Telemetry.Stdout,
		Writer:      cmd.ErrOrStderr(),
		ServiceName: "stagetasks",
		Version:     Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	hub := live.NewHub(a.logger)
	defer hub.Close()

	sess, err := a.open(ctx, hub)
	if err != nil {
		return err
	}
	defer sess.Close()
	repo := sess.repo

	tmpl, err := handlers.ParseTemplates(a.assets.Templates)
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	static, err := fs.Sub(a.assets.Static, "static")
	if err != nil {
		return fmt.Errorf("failed to load static files: %w", err)
	}

	h := handlers.New(repo, tmpl, a.logger)
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           h.Routes(static, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting server", "url", "http://localhost"+srv.Addr, "store", a.cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Other processes writing the same file store.
	if fileStore, ok := sess.kv.(*store.FileStore); ok {
		w := watch.New(fileStore.Dir(), repo.Reload,
			watch.WithFiles(filepath.Base(fileStore.Path(a.cfg.Store.Key))),
			watch.WithLogger(a.logger),
		)
		g.Go(func() error { return w.Run(gctx) })
	}

	// Other processes announcing changes over NATS.
	if sess.nats != nil {
		unsubscribe, err := sess.nats.Subscribe(func(e events.Event) {
			// Reloads are answers to changes, not changes.
			if e.Type == events.Reloaded {
				return
			}
			if err := repo.Reload(gctx); err != nil {
				a.logger.Warn("reload after remote change failed", "type", e.Type, "err", err)
			}
		})
		if err != nil {
			a.logger.Warn("not following remote changes", "err", err)
		} else {
			defer unsubscribe()
		}
	}

	return g.Wait()
}
