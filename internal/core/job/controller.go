package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/teardown/internal/core/teardown"
)

// ControllerConfig はジョブ実行の設定
type ControllerConfig struct {
	// TemplatePath は設問テンプレートのパス。空なら組み込みテンプレート
	TemplatePath string
	// SupplementaryContextPath は補足コンテキストのテキストファイル。空なら使わない
	SupplementaryContextPath string
	// ContextMarker を含む設問IDにのみ補足コンテキストを添える
	ContextMarker string
	// DirectQuestionIDs は先頭チャンクのみで回答する設問ID
	DirectQuestionIDs []string
	// Planner はチャンク分割の設定
	Planner teardown.PlannerConfig
	// QuestionConcurrency は1ジョブ内で同時に解決する設問数
	QuestionConcurrency int
	// OverlapCollection が true なら収集完了を待たずに設問の解決を始める
	OverlapCollection bool
}

// DefaultControllerConfig はデフォルト設定を返す
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		ContextMarker:       teardown.DefaultContextMarker,
		DirectQuestionIDs:   teardown.DefaultDirectQuestionIDs,
		Planner:             teardown.DefaultPlannerConfig(),
		QuestionConcurrency: 1,
	}
}

// Controller はジョブのライフサイクルを管理する状態機械
type Controller struct {
	repo       Repository
	workspaces Workspaces
	synth      teardown.TextSynthesis
	collectors []DataCollector
	table      *Table
	cfg        ControllerConfig
	publisher  EventPublisher
	archiver   ReportArchiver
	metrics    Metrics
	observer   teardown.Observer
	logger     *slog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

type controllerOptions struct {
	cfg        ControllerConfig
	collectors []DataCollector
	table      *Table
	publisher  EventPublisher
	archiver   ReportArchiver
	metrics    Metrics
	observer   teardown.Observer
	logger     *slog.Logger
	now        func() time.Time
}

// ControllerOption は Controller のオプション設定
type ControllerOption func(*controllerOptions)

// WithControllerConfig は実行設定を上書きする
func WithControllerConfig(cfg ControllerConfig) ControllerOption {
	return func(o *controllerOptions) {
		o.cfg = cfg
	}
}

// WithCollectors はデータコレクタを設定する
func WithCollectors(collectors ...DataCollector) ControllerOption {
	return func(o *controllerOptions) {
		o.collectors = append(o.collectors, collectors...)
	}
}

// WithTable は実行中ジョブテーブルを共有する
func WithTable(table *Table) ControllerOption {
	return func(o *controllerOptions) {
		o.table = table
	}
}

// WithEventPublisher は状態遷移イベントの通知先を設定する
func WithEventPublisher(p EventPublisher) ControllerOption {
	return func(o *controllerOptions) {
		o.publisher = p
	}
}

// WithReportArchiver はレポートの保管先を設定する
func WithReportArchiver(a ReportArchiver) ControllerOption {
	return func(o *controllerOptions) {
		o.archiver = a
	}
}

// WithMetrics はジョブ計測フックを設定する
func WithMetrics(m Metrics) ControllerOption {
	return func(o *controllerOptions) {
		o.metrics = m
	}
}

// WithObserver は解決・コンパイルの計測フックを設定する
func WithObserver(obs teardown.Observer) ControllerOption {
	return func(o *controllerOptions) {
		o.observer = obs
	}
}

// WithControllerLogger はロガーを設定する
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(o *controllerOptions) {
		o.logger = logger
	}
}

// WithClock は現在時刻の取得関数を差し替える
func WithClock(now func() time.Time) ControllerOption {
	return func(o *controllerOptions) {
		o.now = now
	}
}

// NewController は新しいControllerを作成する
func NewController(repo Repository, workspaces Workspaces, synth teardown.TextSynthesis, opts ...ControllerOption) *Controller {
	options := controllerOptions{
		cfg:     DefaultControllerConfig(),
		logger:  slog.Default(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.metrics == nil {
		options.metrics = nopMetrics{}
	}
	if options.table == nil {
		options.table = NewTable()
	}
	if options.cfg.QuestionConcurrency <= 0 {
		options.cfg.QuestionConcurrency = 1
	}

	return &Controller{
		repo:       repo,
		workspaces: workspaces,
		synth:      synth,
		collectors: options.collectors,
		table:      options.table,
		cfg:        options.cfg,
		publisher:  options.publisher,
		archiver:   options.archiver,
		metrics:    options.metrics,
		observer:   options.observer,
		logger:     options.logger,
		now:        options.now,
	}
}

// Table は実行中ジョブテーブルを返す
func (c *Controller) Table() *Table {
	return c.table
}

// Submit は新しいジョブを作成・保存し、バックグラウンドで実行を開始する
func (c *Controller) Submit(ctx context.Context, companyName, companyURL string) (*Job, error) {
	j, err := NewJob(companyName, companyURL, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.repo.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("ジョブの保存に失敗: %w", err)
	}
	c.logger.Info("ジョブを受け付け", "jobID", j.ID, "company", j.CompanyName, "url", j.CompanyURL)
	c.publish(ctx, j)

	return c.dispatch(ctx, j)
}

// Dispatch は Pending のジョブを Running に遷移させ、バックグラウンドで実行する。
// Pending 以外のジョブや実行中テーブルに既にあるジョブは拒否する。
// 成功後の j は実行ゴルーチンが所有するため、呼び出し側は参照しないこと
func (c *Controller) Dispatch(ctx context.Context, j *Job) error {
	_, err := c.dispatch(ctx, j)
	return err
}

func (c *Controller) dispatch(ctx context.Context, j *Job) (*Job, error) {
	if err := c.start(ctx, j); err != nil {
		return nil, err
	}
	snapshot := j.Clone()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// 外部からの取り消しは受け付けない
		c.execute(context.WithoutCancel(ctx), j)
	}()
	return snapshot, nil
}

// Run はジョブを同期的に実行し、終端状態のジョブを返す
func (c *Controller) Run(ctx context.Context, j *Job) (*Job, error) {
	if err := c.start(ctx, j); err != nil {
		return nil, err
	}
	c.execute(ctx, j)
	return j.Clone(), nil
}

// Wait は実行中のジョブがすべて終わるまで待つ
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) start(ctx context.Context, j *Job) error {
	if j.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, StatusRunning)
	}
	if err := c.table.Insert(j); err != nil {
		return fmt.Errorf("%w: %s", err, j.ID)
	}
	if err := c.transition(ctx, j, StatusRunning, ""); err != nil {
		c.table.Remove(j.ID)
		return err
	}
	c.metrics.ActiveJobs(c.table.Len())
	return nil
}

// execute は Running のジョブを終端状態まで進める
func (c *Controller) execute(ctx context.Context, j *Job) {
	logger := c.logger.With("jobID", j.ID, "company", j.CompanyName)
	startTime := c.now()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("ジョブ実行中にパニックが発生", "panic", p)
			c.fail(ctx, j, fmt.Errorf("panic: %v", p))
		}
		c.metrics.ActiveJobs(c.table.Len())
	}()

	logger.Info("ジョブを開始")

	if err := c.process(ctx, j, logger); err != nil {
		logger.Error("ジョブが失敗", "error", err)
		c.fail(ctx, j, err)
		return
	}

	if err := c.transition(ctx, j, StatusCompleted, ""); err != nil {
		logger.Error("完了への遷移に失敗", "error", err)
		return
	}
	logger.Info("ジョブが完了", "duration", c.now().Sub(startTime), "report", j.ReportPath)
}

// process はワークスペース作成から全設問の解決・レコード保存までを行う。
// 返すエラーはジョブ全体を失敗させるもののみ
func (c *Controller) process(ctx context.Context, j *Job, logger *slog.Logger) error {
	ws, err := c.workspaces.Create(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("ワークスペースの作成に失敗: %w", err)
	}
	j.WorkspacePath = ws.Path()
	c.save(ctx, j)

	tmpl, err := teardown.LoadTemplate(c.cfg.TemplatePath)
	if err != nil {
		return fmt.Errorf("設問テンプレートの読み込みに失敗: %w", err)
	}
	for _, r := range tmpl.Rejected {
		logger.Warn("設問レコードを除外", "index", r.Index, "questionID", r.ID, "reason", r.Reason)
	}

	supplementary := c.loadSupplementary(logger)

	store, err := ws.AnswerStore(ctx, j.CompanyName)
	if err != nil {
		return fmt.Errorf("回答ストアの初期化に失敗: %w", err)
	}

	compilerOpts := []teardown.CompilerOption{teardown.WithCompilerLogger(logger)}
	resolverOpts := []teardown.ResolverOption{
		teardown.WithResolverLogger(logger),
		teardown.WithSupplementaryContext(supplementary),
		teardown.WithContextMarker(c.cfg.ContextMarker),
		teardown.WithDirectQuestionIDs(c.cfg.DirectQuestionIDs),
	}
	if c.observer != nil {
		compilerOpts = append(compilerOpts, teardown.WithCompilerObserver(c.observer))
		resolverOpts = append(resolverOpts, teardown.WithResolverObserver(c.observer))
	}
	compiler := teardown.NewReportCompiler(j.CompanyName, tmpl.Questions, store, ws, compilerOpts...)
	resolver := teardown.NewAnswerResolver(
		j.CompanyName,
		c.synth,
		teardown.NewChunkPlanner(c.cfg.Planner),
		ws,
		store,
		compiler,
		resolverOpts...,
	)

	// 実行中でも部分レポートを参照できるよう最初に全プレースホルダで書き出す
	if path, err := compiler.Refresh(ctx); err != nil {
		logger.Warn("初期レポートの書き出しに失敗", "error", err)
	} else {
		j.ReportPath = path
		c.save(ctx, j)
	}

	collected := c.collect(ctx, j, ws.Path(), logger)
	defer func() { <-collected }()
	if !c.cfg.OverlapCollection {
		<-collected
	}

	c.resolveAll(ctx, resolver, tmpl.Questions, logger)

	// 収集が終わる前に終端状態へ進めない
	<-collected

	if path, err := compiler.Refresh(ctx); err != nil {
		logger.Warn("最終レポートの書き出しに失敗", "error", err)
	} else {
		j.ReportPath = path
	}

	return c.record(ctx, j, ws, logger)
}

// collect は全コレクタを並行に起動し、全完了時に閉じるチャネルを返す
func (c *Controller) collect(ctx context.Context, j *Job, dir string, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	target := Target{CompanyName: j.CompanyName, CompanyURL: j.CompanyURL}

	var wg sync.WaitGroup
	for _, col := range c.collectors {
		wg.Add(1)
		go func(col DataCollector) {
			defer wg.Done()
			res := c.runCollector(ctx, col, target, dir)
			c.metrics.CollectorFinished(res.Collector, res.OK(), res.Duration)
			if res.OK() {
				logger.Info("データ収集が完了", "collector", res.Collector, "files", len(res.Files), "status", res.Status, "duration", res.Duration)
			} else {
				logger.Warn("データ収集に失敗", "collector", res.Collector, "status", res.Status, "error", res.Err)
			}
		}(col)
	}

	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func (c *Controller) runCollector(ctx context.Context, col DataCollector, target Target, dir string) (res CollectResult) {
	start := c.now()
	defer func() {
		if p := recover(); p != nil {
			res = CollectResult{
				Collector: col.Name(),
				Status:    fmt.Sprintf("%s collector crashed", col.Name()),
				Err:       fmt.Errorf("collector panicked: %v", p),
			}
		}
		if res.Collector == "" {
			res.Collector = col.Name()
		}
		res.Duration = c.now().Sub(start)
	}()
	return col.Collect(ctx, target, dir)
}

// resolveAll は設問を設定された並列度で解決する
func (c *Controller) resolveAll(ctx context.Context, resolver *teardown.AnswerResolver, questions []teardown.Question, logger *slog.Logger) {
	sem := make(chan struct{}, c.cfg.QuestionConcurrency)
	var wg sync.WaitGroup

	for i, q := range questions {
		sem <- struct{}{}
		wg.Add(1)
		go func(i int, q teardown.Question) {
			defer func() {
				<-sem
				wg.Done()
			}()
			defer func() {
				// 1設問の異常で他の設問を止めない
				if p := recover(); p != nil {
					logger.Error("設問の解決中にパニックが発生", "questionID", q.ID, "panic", p)
				}
			}()
			logger.Debug("設問の解決を開始", "questionID", q.ID, "index", i+1, "total", len(questions))
			resolver.Resolve(ctx, q)
		}(i, q)
	}
	wg.Wait()
}

// record は完成したレポートをティアダウンレコードとして保存する
func (c *Controller) record(ctx context.Context, j *Job, ws Workspace, logger *slog.Logger) error {
	content, path, ok, err := ws.ReadReport(j.CompanyName)
	if err != nil {
		return fmt.Errorf("レポートの読み込みに失敗: %w", err)
	}
	t := &Teardown{
		ID:          uuid.New(),
		JobID:       j.ID,
		CompanyName: j.CompanyName,
		CompanyURL:  j.CompanyURL,
		Content:     string(content),
		FilePath:    path,
		CreatedAt:   c.now(),
	}
	if !ok {
		t.Content = MissingReportContent(j.CompanyName)
	}

	if c.archiver != nil && ok {
		uri, err := c.archiver.Archive(ctx, j, path)
		if err != nil {
			logger.Warn("レポートの保管に失敗", "error", err)
		} else {
			t.ArchiveURI = uri
			logger.Info("レポートを保管", "uri", uri)
		}
	}

	if err := c.repo.SaveTeardown(ctx, t); err != nil {
		return fmt.Errorf("ティアダウンの保存に失敗: %w", err)
	}
	return nil
}

func (c *Controller) loadSupplementary(logger *slog.Logger) string {
	if c.cfg.SupplementaryContextPath == "" {
		return ""
	}
	data, err := os.ReadFile(c.cfg.SupplementaryContextPath)
	if err != nil {
		logger.Warn("補足コンテキストの読み込みに失敗", "path", c.cfg.SupplementaryContextPath, "error", err)
		return ""
	}
	return string(data)
}

func (c *Controller) fail(ctx context.Context, j *Job, cause error) {
	if err := c.transition(ctx, j, StatusFailed, cause.Error()); err != nil {
		c.logger.Error("失敗への遷移に失敗", "jobID", j.ID, "error", err)
	}
}

// transition は状態を遷移させ、テーブル・永続化・通知に反映する
func (c *Controller) transition(ctx context.Context, j *Job, to Status, message string) error {
	if err := j.Transition(to, c.now()); err != nil {
		return err
	}
	if to == StatusFailed {
		j.ErrorMessage = message
	}

	if to.IsTerminal() {
		c.table.Remove(j.ID)
	} else {
		c.table.Update(j)
	}
	if err := c.repo.UpdateJob(ctx, j); err != nil {
		c.logger.Error("ジョブ状態の保存に失敗", "jobID", j.ID, "status", to, "error", err)
	}
	c.metrics.JobTransitioned(to)
	c.publish(ctx, j)
	return nil
}

func (c *Controller) save(ctx context.Context, j *Job) {
	c.table.Update(j)
	if err := c.repo.UpdateJob(ctx, j); err != nil {
		c.logger.Error("ジョブの保存に失敗", "jobID", j.ID, "error", err)
	}
}

func (c *Controller) publish(ctx context.Context, j *Job) {
	if c.publisher == nil {
		return
	}
	e := Event{
		JobID:        j.ID,
		CompanyName:  j.CompanyName,
		Status:       j.Status,
		ErrorMessage: j.ErrorMessage,
		At:           c.now(),
	}
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.Warn("イベントの通知に失敗", "jobID", j.ID, "status", j.Status, "error", err)
	}
}

// StatusView はジョブ状態と現在のレポート
type StatusView struct {
	Job    *Job
	Active bool
	// Report は現在のレポート本文。実行中は部分的な内容になる
	Report string
	// ReportAvailable はレポートが既に書き出されているかどうか
	ReportAvailable bool
}

// Status はジョブの現在の状態とレポートを返す
func (c *Controller) Status(ctx context.Context, id string) (*StatusView, error) {
	j, active := c.table.Get(id)
	if !active {
		found, err := c.repo.GetJob(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ジョブの取得に失敗: %w", err)
		}
		var ok bool
		j, ok = found.Get()
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
	}

	view := &StatusView{Job: j, Active: active}
	if j.WorkspacePath == "" {
		return view, nil
	}
	content, _, ok, err := c.workspaces.Open(j.WorkspacePath).ReadReport(j.CompanyName)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("レポートの読み込みに失敗", "jobID", id, "error", err)
	}
	if ok {
		view.Report = string(content)
		view.ReportAvailable = true
	}
	return view, nil
}

// ListJobs は新しい順にジョブを返す
func (c *Controller) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	jobs, err := c.repo.ListJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ジョブ一覧の取得に失敗: %w", err)
	}
	return jobs, nil
}

// ListTeardowns は新しい順にティアダウンを返す
func (c *Controller) ListTeardowns(ctx context.Context, limit int) ([]*Teardown, error) {
	teardowns, err := c.repo.ListTeardowns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ティアダウン一覧の取得に失敗: %w", err)
	}
	return teardowns, nil
}

// GetTeardown はIDでティアダウンを返す
func (c *Controller) GetTeardown(ctx context.Context, id uuid.UUID) (*Teardown, error) {
	found, err := c.repo.GetTeardown(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ティアダウンの取得に失敗: %w", err)
	}
	t, ok := found.Get()
	if !ok {
		return nil, ErrTeardownNotFound
	}
	return t, nil
}

// TeardownForJob はジョブに紐づくティアダウンを返す。未作成なら None
func (c *Controller) TeardownForJob(ctx context.Context, jobID string) (mo.Option[*Teardown], error) {
	found, err := c.repo.GetTeardownByJob(ctx, jobID)
	if err != nil {
		return mo.None[*Teardown](), fmt.Errorf("ティアダウンの取得に失敗: %w", err)
	}
	return found, nil
}

// ErrTeardownNotFound はティアダウンレコードが存在しない場合のエラー
var ErrTeardownNotFound = errors.New("teardown not found")
