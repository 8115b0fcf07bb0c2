package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/teardown/internal/core/job"
)

// JobRunAction はジョブを投入し、終了するまで待つコマンドのアクション
func JobRunAction(ctx context.Context, cmd *cli.Command) error {
	company := cmd.String("company")
	url := cmd.String("url")
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.RequireSynthesis(); err != nil {
		return err
	}
	controller := appCtx.Container.Controller

	j, err := controller.Submit(ctx, company, url)
	if err != nil {
		return fmt.Errorf("ジョブの投入に失敗: %w", err)
	}
	slog.Info("ティアダウンを生成中", "jobID", j.ID, "company", j.CompanyName)

	controller.Wait()

	view, err := controller.Status(ctx, j.ID)
	if err != nil {
		return err
	}
	renderJobDetail(os.Stdout, view)

	if view.Job.Status == job.StatusFailed {
		return fmt.Errorf("ジョブが失敗しました: %s", view.Job.ErrorMessage)
	}
	return nil
}

// JobListAction はジョブ一覧を表示するコマンドのアクション
func JobListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	limit := cmd.Int("limit")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	jobs, err := appCtx.Container.Controller.ListJobs(ctx, limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("ジョブはありません")
		return nil
	}
	renderJobsTable(os.Stdout, jobs)
	return nil
}

// JobShowAction はジョブ詳細を表示するコマンドのアクション
func JobShowAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	view, err := appCtx.Container.Controller.Status(ctx, id)
	if err != nil {
		return err
	}
	renderJobDetail(os.Stdout, view)
	return nil
}
