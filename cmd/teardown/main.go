package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	teardowncli "github.com/jinford/teardown/internal/interface/cli"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func limitFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "limit",
		Usage: "表示件数の上限",
		Value: 50,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定（設定読み込み後に置き換わる）
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "teardown",
		Usage: "企業の公開情報を収集し、設問テンプレートに沿ったティアダウンレポートを生成する",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "HTTPサーバコマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTP APIサーバを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "待ち受けポート（省略時は HTTP_PORT）",
							},
						},
						Action: teardowncli.ServerStartAction,
					},
				},
			},
			{
				Name:  "job",
				Usage: "ジョブ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "run",
						Usage: "ティアダウンを生成し、完了まで待つ",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "company",
								Usage:    "会社名",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "url",
								Usage:    "会社のWebサイトURL",
								Required: true,
							},
						},
						Action: teardowncli.JobRunAction,
					},
					{
						Name:   "list",
						Usage:  "ジョブ一覧を表示",
						Flags:  []cli.Flag{envFlag(), limitFlag()},
						Action: teardowncli.JobListAction,
					},
					{
						Name:  "show",
						Usage: "ジョブ詳細を表示",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ジョブID",
								Required: true,
							},
						},
						Action: teardowncli.JobShowAction,
					},
				},
			},
			{
				Name:  "teardown",
				Usage: "ティアダウン管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "ティアダウン一覧を表示",
						Flags:  []cli.Flag{envFlag(), limitFlag()},
						Action: teardowncli.TeardownListAction,
					},
					{
						Name:  "export",
						Usage: "ティアダウンをMarkdownファイルに書き出す",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ティアダウンID",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "output",
								Usage: "出力ファイルパス（省略時は <company>_teardown.md）",
							},
						},
						Action: teardowncli.TeardownExportAction,
					},
				},
			},
			{
				Name:  "cleanup",
				Usage: "保持期間を過ぎたジョブのワークスペースを削除",
				Flags: []cli.Flag{
					envFlag(),
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "確認せずに削除する",
					},
				},
				Action: teardowncli.CleanupAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
