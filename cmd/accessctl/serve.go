package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/accessctl/internal/app"
	"github.com/odyssey-erp/accessctl/internal/rbac"
	rbachttp "github.com/odyssey-erp/accessctl/internal/rbac/http"
	"github.com/odyssey-erp/accessctl/jobs"
)

func serve(ctx context.Context, d *deps) error {
	b := d.bootstrapper()
	if err := b.EnsureRolesExist(ctx); err != nil {
		return err
	}
	if err := b.EnsureRolePermissions(ctx); err != nil {
		return err
	}

	resolver := d.resolver()
	authorizer, err := d.authorizer(ctx, resolver)
	if err != nil {
		return err
	}
	guard := rbac.Middleware{Authorizer: authorizer, Logger: d.logger}
	authzHandler := rbachttp.NewHandler(d.logger, authorizer, resolver, d.repairer(ctx), guard).
		RequireCheckPermission(d.cfg.AuthzCheckPermission)

	var jobHandler *jobs.Handler
	if d.redis != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: d.cfg.RedisAddr})
		defer func() { _ = inspector.Close() }()
		jobHandler = jobs.NewHandler(inspector, d.logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:       d.logger,
		Config:       d.cfg,
		AuthzHandler: authzHandler,
		JobHandler:   jobHandler,
		Metrics:      d.metrics,
	})

	server := &http.Server{
		Addr:         d.cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  d.cfg.AppReadTimeout,
		WriteTimeout: d.cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("http server listening", slog.String("addr", d.cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("http server shutdown", slog.Any("error", err))
		return err
	}
	d.logger.Info("http server stopped")
	return nil
}
