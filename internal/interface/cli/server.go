package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/teardown/internal/core/job"
	"github.com/jinford/teardown/internal/interface/httpapi"
)

// ServerStartAction はHTTPサーバを起動するコマンドのアクション
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cont := appCtx.Container
	if err := cont.RequireSynthesis(); err != nil {
		return err
	}
	logger := appCtx.Logger()

	opts := []httpapi.ServerOption{
		httpapi.WithMetricsHandler(cont.Metrics.Handler()),
		httpapi.WithLogger(logger),
	}
	if cont.Admission != nil {
		opts = append(opts,
			httpapi.WithAdmission(cont.Admission),
			httpapi.WithRejectHook(cont.Metrics.AdmissionRejected),
		)
	}
	api := httpapi.New(cont.Controller, opts...)

	port := cmd.Int("port")
	if port == 0 {
		port = appCtx.Config.HTTP.Port
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ワークスペースの定期掃除
	if schedule := appCtx.Config.Cleanup.Cron; schedule != "" {
		scheduler := job.NewSweepScheduler(cont.Sweeper, schedule)
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTPサーバを起動しました", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバの起動に失敗: %w", err)
		}
	case <-ctx.Done():
	}

	return shutdown(srv, cont.Controller, appCtx.Config.HTTP.ShutdownTimeout, logger)
}

// shutdown は新規受付を止めてから実行中のジョブの終了を待つ
func shutdown(srv *http.Server, controller *job.Controller, timeout time.Duration, logger *slog.Logger) error {
	logger.Info("HTTPサーバを停止しています")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTPサーバの停止に失敗", "error", err)
	}

	logger.Info("実行中のジョブの完了を待っています", "active", controller.Table().Len())
	controller.Wait()
	logger.Info("停止しました")
	return nil
}
