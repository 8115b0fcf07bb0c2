package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// TeardownListAction はティアダウン一覧を表示するコマンドのアクション
func TeardownListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	limit := cmd.Int("limit")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	teardowns, err := appCtx.Container.Controller.ListTeardowns(ctx, limit)
	if err != nil {
		return err
	}
	if len(teardowns) == 0 {
		fmt.Println("ティアダウンはありません")
		return nil
	}
	renderTeardownsTable(os.Stdout, teardowns)
	return nil
}

// TeardownExportAction はティアダウンをMarkdownファイルに書き出すコマンドのアクション
func TeardownExportAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	output := cmd.String("output")

	id, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("ティアダウンIDが不正です: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	t, err := appCtx.Container.Controller.GetTeardown(ctx, id)
	if err != nil {
		return err
	}

	// デフォルトの出力ファイル名
	if output == "" {
		output = t.DownloadName()
	}
	absOutput, err := filepath.Abs(output)
	if err != nil {
		return fmt.Errorf("出力パスの解決に失敗: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absOutput), 0o755); err != nil {
		return fmt.Errorf("出力ディレクトリの作成に失敗: %w", err)
	}
	if err := os.WriteFile(absOutput, []byte(t.Content), 0o644); err != nil {
		return fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}

	fmt.Printf("✓ ティアダウンを書き出しました: %s\n", absOutput)
	return nil
}
