package teardown

import "context"

// TextSynthesis は外部のテキスト生成機能 (LLM) を表す
type TextSynthesis interface {
	// Synthesize はプロンプトを受け取り生成テキストを返す
	Synthesize(ctx context.Context, prompt string) (string, error)
}

// SynthesisFunc は関数を TextSynthesis として扱うためのアダプタ
type SynthesisFunc func(ctx context.Context, prompt string) (string, error)

// Synthesize は f(ctx, prompt) を呼び出す
func (f SynthesisFunc) Synthesize(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// AnswerStore はジョブ単位の回答永続化インターフェース
type AnswerStore interface {
	// Put は設問IDの回答をレコード単位でアトミックに置き換える
	Put(ctx context.Context, questionID, answer, companyName string) (AnswerRecord, error)

	// All は現在の設問ID→回答レコードの対応を返す
	All(ctx context.Context) (map[string]AnswerRecord, error)
}

// DocumentSource は解決のたびに最新の収集ドキュメントを返す
type DocumentSource interface {
	Documents(ctx context.Context) ([]Document, error)
}

// ReportWriter はコンパイル済みレポートを書き出す
type ReportWriter interface {
	// WriteReport はレポート全体をアトミックに書き出し、その場所を返す
	WriteReport(ctx context.Context, companyName string, content []byte) (string, error)
}

// Observer は解決・コンパイルの計測フック
type Observer interface {
	SynthesisCalled(phase string, err error)
	AnswerResolved(strategy Strategy, degraded bool)
	AnswerPersistFailed()
	ReportCompiled(sections, answered int)
}

type nopObserver struct{}

func (nopObserver) SynthesisCalled(string, error) {}
func (nopObserver) AnswerResolved(Strategy, bool) {}
func (nopObserver) AnswerPersistFailed()          {}
func (nopObserver) ReportCompiled(int, int)       {}

var _ Observer = nopObserver{}
