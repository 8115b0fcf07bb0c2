package teardown

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Compile は設問テンプレートと回答スナップショットからレポート本文を生成する。
// 設問ごとに必ず1セクションをテンプレート順で出力し、回答が無い設問にはプレースホルダを置く
func Compile(company string, questions []Question, answers map[string]AnswerRecord) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Company Teardown: %s\n\n", company))
	for _, q := range questions {
		body := Placeholder
		if rec, ok := answers[q.ID]; ok {
			body = rec.Answer
		}
		sb.WriteString(fmt.Sprintf("## %s\n%s\n\n", q.ID, body))
	}
	return sb.String()
}

// ReportCompiler はストアの最新スナップショットからレポートを全体再構築して書き出す
type ReportCompiler struct {
	company   string
	questions []Question
	store     AnswerStore
	writer    ReportWriter
	logger    *slog.Logger
	observer  Observer

	// スナップショット取得から書き出しまでを直列化し、古い内容で上書きしないようにする
	mu sync.Mutex
}

type compilerOptions struct {
	logger   *slog.Logger
	observer Observer
}

// CompilerOption は ReportCompiler のオプション設定
type CompilerOption func(*compilerOptions)

// WithCompilerLogger はロガーを設定する
func WithCompilerLogger(logger *slog.Logger) CompilerOption {
	return func(o *compilerOptions) {
		o.logger = logger
	}
}

// WithCompilerObserver は計測フックを設定する
func WithCompilerObserver(observer Observer) CompilerOption {
	return func(o *compilerOptions) {
		o.observer = observer
	}
}

// NewReportCompiler は新しいReportCompilerを作成する
func NewReportCompiler(company string, questions []Question, store AnswerStore, writer ReportWriter, opts ...CompilerOption) *ReportCompiler {
	options := compilerOptions{logger: slog.Default(), observer: nopObserver{}}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.observer == nil {
		options.observer = nopObserver{}
	}

	return &ReportCompiler{
		company:   company,
		questions: questions,
		store:     store,
		writer:    writer,
		logger:    options.logger,
		observer:  options.observer,
	}
}

// Render は現在のスナップショットからレポート本文を返す。書き出しは行わない
func (c *ReportCompiler) Render(ctx context.Context) (string, error) {
	answers, err := c.store.All(ctx)
	if err != nil {
		return "", fmt.Errorf("回答スナップショットの取得に失敗: %w", err)
	}
	return Compile(c.company, c.questions, answers), nil
}

// Refresh はレポートを全体再構築して書き出し、その場所を返す
func (c *ReportCompiler) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	answers, err := c.store.All(ctx)
	if err != nil {
		return "", fmt.Errorf("回答スナップショットの取得に失敗: %w", err)
	}

	content := Compile(c.company, c.questions, answers)
	path, err := c.writer.WriteReport(ctx, c.company, []byte(content))
	if err != nil {
		return "", fmt.Errorf("レポートの書き出しに失敗: %w", err)
	}

	answered := 0
	for _, q := range c.questions {
		if _, ok := answers[q.ID]; ok {
			answered++
		}
	}
	c.observer.ReportCompiled(len(c.questions), answered)
	c.logger.Debug("レポートを再構築", "path", path, "sections", len(c.questions), "answered", answered)

	return path, nil
}
