package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/urfave/cli/v3"
)

// CleanupAction は保持期間を過ぎたジョブのワークスペースを削除するコマンドのアクション
func CleanupAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	yes := cmd.Bool("yes")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	sweeper := appCtx.Container.Sweeper
	candidates, err := sweeper.Candidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("削除対象のワークスペースはありません")
		return nil
	}
	renderJobsTable(os.Stdout, candidates)

	if !yes {
		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("%d 件のワークスペースを削除しますか", len(candidates)),
			IsConfirm: true,
		}
		if _, err := prompt.Run(); err != nil {
			if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
				fmt.Println("中止しました")
				return nil
			}
			return err
		}
	}

	res := sweeper.Sweep(ctx, candidates)
	fmt.Printf("✓ %d 件のワークスペースを削除しました\n", len(res.Removed))
	for id, err := range res.Failed {
		fmt.Fprintf(os.Stderr, "警告: %s の削除に失敗しました: %v\n", id, err)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d 件のワークスペースを削除できませんでした", len(res.Failed))
	}
	return nil
}
