package teardown

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// DefaultContextMarker を含む設問IDにのみ補足コンテキストをプロンプトへ添える
const DefaultContextMarker = "klear"

// Resolution は1設問の解決結果
type Resolution struct {
	QuestionID string
	Strategy   Strategy
	Answer     string
	// Calls は合成呼び出しの回数
	Calls int
	// Degraded は合成失敗または有効回答なしで既定文言に落ちたことを示す
	Degraded bool
	// Err は合成の失敗。回答本文にも反映済み
	Err error
	// Stored は回答の永続化に成功したかどうか
	Stored bool
	// ReportPath は再構築後のレポートの場所。再構築に失敗した場合は空
	ReportPath string
}

// AnswerResolver は設問を1件ずつ回答へ解決し、ストアへ書き込みレポートを更新する
type AnswerResolver struct {
	company       string
	synth         TextSynthesis
	planner       *ChunkPlanner
	docs          DocumentSource
	store         AnswerStore
	compiler      *ReportCompiler
	direct        map[string]struct{}
	supplementary string
	contextMarker string
	logger        *slog.Logger
	observer      Observer
}

type resolverOptions struct {
	directIDs     []string
	supplementary string
	contextMarker string
	logger        *slog.Logger
	observer      Observer
}

// ResolverOption は AnswerResolver のオプション設定
type ResolverOption func(*resolverOptions)

// WithDirectQuestionIDs は先頭チャンクのみで回答する設問IDを上書きする
func WithDirectQuestionIDs(ids []string) ResolverOption {
	return func(o *resolverOptions) {
		o.directIDs = ids
	}
}

// WithSupplementaryContext は補足コンテキストの本文を設定する
func WithSupplementaryContext(text string) ResolverOption {
	return func(o *resolverOptions) {
		o.supplementary = text
	}
}

// WithContextMarker は補足コンテキストを添える設問IDの目印を設定する
func WithContextMarker(marker string) ResolverOption {
	return func(o *resolverOptions) {
		o.contextMarker = marker
	}
}

// WithResolverLogger はロガーを設定する
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(o *resolverOptions) {
		o.logger = logger
	}
}

// WithResolverObserver は計測フックを設定する
func WithResolverObserver(observer Observer) ResolverOption {
	return func(o *resolverOptions) {
		o.observer = observer
	}
}

// NewAnswerResolver は新しいAnswerResolverを作成する
func NewAnswerResolver(
	company string,
	synth TextSynthesis,
	planner *ChunkPlanner,
	docs DocumentSource,
	store AnswerStore,
	compiler *ReportCompiler,
	opts ...ResolverOption,
) *AnswerResolver {
	options := resolverOptions{
		directIDs:     DefaultDirectQuestionIDs,
		contextMarker: DefaultContextMarker,
		logger:        slog.Default(),
		observer:      nopObserver{},
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.observer == nil {
		options.observer = nopObserver{}
	}

	direct := make(map[string]struct{}, len(options.directIDs))
	for _, id := range options.directIDs {
		direct[id] = struct{}{}
	}

	return &AnswerResolver{
		company:       company,
		synth:         synth,
		planner:       planner,
		docs:          docs,
		store:         store,
		compiler:      compiler,
		direct:        direct,
		supplementary: options.supplementary,
		contextMarker: options.contextMarker,
		logger:        options.logger,
		observer:      options.observer,
	}
}

// StrategyFor は設問IDに対応する解決方式を返す
func (r *AnswerResolver) StrategyFor(questionID string) Strategy {
	if _, ok := r.direct[questionID]; ok {
		return StrategyDirect
	}
	return StrategyMapReduce
}

// Resolve は設問を回答へ解決し、ストアへ書き込んだ後にレポートを再構築する。
// 合成の失敗は回答本文として記録され、呼び出し元へは伝播しない
func (r *AnswerResolver) Resolve(ctx context.Context, q Question) Resolution {
	docs, err := r.docs.Documents(ctx)
	if err != nil {
		r.logger.Warn("ドキュメントの読み込みに失敗", "questionID", q.ID, "error", err)
		docs = nil
	}
	chunks := r.planner.Plan(docs, r.supplementary)

	res := r.Answer(ctx, q, chunks)
	r.observer.AnswerResolved(res.Strategy, res.Degraded)

	if _, err := r.store.Put(ctx, q.ID, res.Answer, r.company); err != nil {
		r.observer.AnswerPersistFailed()
		r.logger.Error("回答の保存に失敗", "questionID", q.ID, "error", err)
	} else {
		res.Stored = true
	}

	path, err := r.compiler.Refresh(ctx)
	if err != nil {
		r.logger.Error("レポートの再構築に失敗", "questionID", q.ID, "error", err)
	}
	res.ReportPath = path

	r.logger.Info("設問を解決",
		"questionID", q.ID,
		"strategy", res.Strategy,
		"chunks", len(chunks),
		"calls", res.Calls,
		"degraded", res.Degraded,
		"stored", res.Stored,
	)
	return res
}

// Answer はチャンク列から回答本文を決定する。永続化は行わない
func (r *AnswerResolver) Answer(ctx context.Context, q Question, chunks []Chunk) Resolution {
	if len(chunks) == 0 {
		chunks = []Chunk{{Text: NoDataText}}
	}
	supplementary := ""
	if r.contextMarker != "" && strings.Contains(q.ID, r.contextMarker) {
		supplementary = r.supplementary
	}

	if r.StrategyFor(q.ID) == StrategyDirect {
		return r.answerDirect(ctx, q, chunks[0], supplementary)
	}
	return r.answerMapReduce(ctx, q, chunks, supplementary)
}

func (r *AnswerResolver) answerDirect(ctx context.Context, q Question, chunk Chunk, supplementary string) Resolution {
	res := Resolution{QuestionID: q.ID, Strategy: StrategyDirect, Calls: 1}

	out, err := r.call(ctx, "direct", BuildDirectPrompt(r.company, q, chunk, supplementary))
	if err != nil {
		r.logger.Warn("設問の合成に失敗", "questionID", q.ID, "error", err)
		res.Answer = fmt.Sprintf("Error processing question: %v", err)
		res.Degraded = true
		res.Err = err
		return res
	}
	res.Answer = out
	return res
}

func (r *AnswerResolver) answerMapReduce(ctx context.Context, q Question, chunks []Chunk, supplementary string) Resolution {
	res := Resolution{QuestionID: q.ID, Strategy: StrategyMapReduce}

	var partials []string
	for i, chunk := range chunks {
		res.Calls++
		out, err := r.call(ctx, "extract", BuildExtractPrompt(r.company, q, chunk, i+1, len(chunks), supplementary))
		if err != nil {
			r.logger.Warn("チャンクの合成に失敗", "questionID", q.ID, "part", i+1, "error", err)
			continue
		}
		if IsNoRelevantInformation(out) {
			continue
		}
		partials = append(partials, out)
	}

	if len(partials) == 0 {
		res.Answer = InformationNotAvailable
		res.Degraded = true
		return res
	}

	res.Calls++
	out, err := r.call(ctx, "merge", BuildMergePrompt(r.company, q, partials))
	if err != nil {
		r.logger.Warn("回答の統合に失敗", "questionID", q.ID, "error", err)
		res.Answer = fmt.Sprintf("Error synthesizing answer: %v", err)
		res.Degraded = true
		res.Err = err
		return res
	}
	res.Answer = out
	return res
}

// call は合成を1回呼び出す。パニックもエラーとして扱う
func (r *AnswerResolver) call(ctx context.Context, phase, prompt string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("synthesis panicked: %v", p)
		}
		r.observer.SynthesisCalled(phase, err)
	}()

	out, err = r.synth.Synthesize(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// IsNoRelevantInformation はチャンク単位の回答が「該当情報なし」の番兵かどうかを判定する。
// 前後の空白と末尾の句読点・引用符を除き、大文字小文字を無視して比較する。空の回答も番兵とみなす
func IsNoRelevantInformation(answer string) bool {
	normalized := strings.TrimRightFunc(strings.TrimSpace(answer), func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	normalized = strings.TrimLeftFunc(normalized, func(r rune) bool {
		return r == '"' || r == '\'' || unicode.IsSpace(r)
	})
	if normalized == "" {
		return true
	}
	return strings.EqualFold(normalized, NoRelevantInformation)
}
