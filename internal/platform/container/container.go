package container

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/jinford/teardown/internal/core/job"
	"github.com/jinford/teardown/internal/core/teardown"
	"github.com/jinford/teardown/internal/infra/collector"
	"github.com/jinford/teardown/internal/infra/memory"
	"github.com/jinford/teardown/internal/infra/natsbus"
	"github.com/jinford/teardown/internal/infra/openai"
	"github.com/jinford/teardown/internal/infra/postgres"
	"github.com/jinford/teardown/internal/infra/redislimit"
	"github.com/jinford/teardown/internal/infra/s3archive"
	"github.com/jinford/teardown/internal/infra/telemetry"
	"github.com/jinford/teardown/internal/infra/workspace"
	"github.com/jinford/teardown/internal/platform/config"
	"github.com/jinford/teardown/internal/platform/database"
)

// ServiceContainer はティアダウン生成に必要な依存関係を保持する
type ServiceContainer struct {
	Controller *job.Controller
	Sweeper    *job.Sweeper
	Workspaces *workspace.Manager
	Metrics    *telemetry.Metrics
	// Admission は Redis 未設定なら nil
	Admission *redislimit.TokenBucket
	// Limiter は OpenAI 呼び出しのレート制限。APIキー未設定なら nil
	Limiter *openai.RateLimiter

	cfg      *config.Config
	logger   *slog.Logger
	synthErr error
	closers  []func()
}

type containerOptions struct {
	logger     *slog.Logger
	synth      teardown.TextSynthesis
	repo       job.Repository
	collectors []job.DataCollector
	// collectorsSet は空のコレクタ一覧を明示的に指定したかどうか
	collectorsSet bool
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerSynthesizer は回答合成の実装を差し替える
func WithContainerSynthesizer(synth teardown.TextSynthesis) ContainerOption {
	return func(opts *containerOptions) {
		opts.synth = synth
	}
}

// WithContainerRepository はジョブリポジトリを差し替える
func WithContainerRepository(repo job.Repository) ContainerOption {
	return func(opts *containerOptions) {
		opts.repo = repo
	}
}

// WithContainerCollectors はコレクタを差し替える
func WithContainerCollectors(collectors ...job.DataCollector) ContainerOption {
	return func(opts *containerOptions) {
		opts.collectors = collectors
		opts.collectorsSet = true
	}
}

// NewContainer は設定からコンテナを生成する。
// 失敗した場合はそれまでに開いた接続を閉じる
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (_ *ServiceContainer, err error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	c := &ServiceContainer{cfg: cfg, logger: logger, Metrics: telemetry.New()}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	repo := options.repo
	if repo == nil {
		repo, err = c.newRepository(ctx)
		if err != nil {
			return nil, err
		}
	}

	synth := options.synth
	if synth == nil {
		synth, err = c.newSynthesizer()
		if err != nil {
			return nil, err
		}
	}

	collectors := options.collectors
	if !options.collectorsSet {
		fetcher := collector.NewFetcher(
			collector.WithDelay(cfg.Collectors.ScrapeDelay),
			collector.WithUserAgent(cfg.Collectors.UserAgent),
		)
		collectors, err = collector.Build(collector.Config{
			Names:       cfg.Collectors.Names,
			SerpAPIKey:  cfg.Collectors.SerpAPIKey,
			MaxPages:    cfg.Collectors.MaxPages,
			MaxArticles: cfg.Collectors.MaxArticles,
		}, fetcher, logger)
		if err != nil {
			return nil, fmt.Errorf("コレクタの初期化に失敗しました: %w", err)
		}
	}

	if !supplementaryExists(cfg.Teardown.SupplementaryContextPath) {
		logger.Warn("補足コンテキストファイルが見つかりません", "path", cfg.Teardown.SupplementaryContextPath)
	}

	c.Workspaces = workspace.NewManager(cfg.WorkspaceDir, logger)
	table := job.NewTable()

	controllerOpts := []job.ControllerOption{
		job.WithControllerConfig(controllerConfig(cfg)),
		job.WithCollectors(collectors...),
		job.WithTable(table),
		job.WithMetrics(c.Metrics),
		job.WithObserver(c.Metrics),
		job.WithControllerLogger(logger),
	}

	if cfg.NATS.URL != "" {
		publisher, err := natsbus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return nil, fmt.Errorf("NATS 接続に失敗しました: %w", err)
		}
		c.closers = append(c.closers, publisher.Close)
		controllerOpts = append(controllerOpts, job.WithEventPublisher(publisher))
	}

	if cfg.S3.Bucket != "" {
		archiver, err := s3archive.New(ctx, s3archive.Config{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("S3 アーカイブの初期化に失敗しました: %w", err)
		}
		controllerOpts = append(controllerOpts, job.WithReportArchiver(archiver))
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("Redis 接続に失敗しました: %w", err)
		}
		c.Admission = redislimit.NewTokenBucket(rdb, cfg.Redis.KeyPrefix, cfg.Redis.Capacity, cfg.Redis.RefillPerSecond, cfg.Redis.TTL)
	}

	c.Controller = job.NewController(repo, c.Workspaces, synth, controllerOpts...)
	c.Sweeper = job.NewSweeper(repo, c.Workspaces, table, cfg.Cleanup.Retention, logger)

	logger.Debug("コンテナを初期化しました",
		"collectors", len(collectors),
		"persistent", cfg.Database.Enabled(),
		"events", cfg.NATS.URL != "",
		"archive", cfg.S3.Bucket != "",
		"admission", c.Admission != nil,
	)
	return c, nil
}

// newRepository は DB_HOST が設定されていれば PostgreSQL、なければメモリ上のリポジトリを返す
func (c *ServiceContainer) newRepository(ctx context.Context) (job.Repository, error) {
	if !c.cfg.Database.Enabled() {
		c.logger.Warn("DB_HOST が未設定のためジョブはメモリ上にのみ保持されます")
		return memory.NewRepository(), nil
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     c.cfg.Database.Host,
		Port:     c.cfg.Database.Port,
		User:     c.cfg.Database.User,
		Password: c.cfg.Database.Password,
		DBName:   c.cfg.Database.DBName,
		SSLMode:  c.cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}
	c.closers = append(c.closers, db.Close)

	applied, err := postgres.Migrate(ctx, database.NewTransactionProvider(db.Pool), c.logger)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションに失敗しました: %w", err)
	}
	if len(applied) > 0 {
		c.logger.Info("マイグレーションを適用しました", "versions", applied)
	}
	return postgres.NewRepository(db.Pool), nil
}

// newSynthesizer は OpenAI クライアントをレート制限付きで組み立てる。
// APIキーがなくても参照系コマンドは動くよう、呼び出し時にエラーを返す実装にする
func (c *ServiceContainer) newSynthesizer() (teardown.TextSynthesis, error) {
	ocfg := c.cfg.OpenAI
	if ocfg.APIKey == "" {
		c.synthErr = openai.ErrAPIKeyNotSet
		return unavailableSynthesizer{err: openai.ErrAPIKeyNotSet}, nil
	}

	counter, err := openai.NewTokenCounter()
	if err != nil {
		c.logger.Warn("トークンカウンタの初期化に失敗しました", "error", err)
	}

	client, err := openai.NewClient(ocfg.APIKey,
		openai.WithModel(ocfg.LLMModel),
		openai.WithTemperature(ocfg.Temperature),
		openai.WithMaxTokens(ocfg.MaxTokens),
		openai.WithTimeout(ocfg.Timeout),
		openai.WithRetryPolicy(ocfg.MaxRetries, openai.BaseBackoff, openai.MaxBackoff),
		openai.WithBaseURL(ocfg.BaseURL),
		openai.WithTokenCounter(counter),
		openai.WithUsageRecorder(c.Metrics),
		openai.WithLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("OpenAI クライアントの初期化に失敗しました: %w", err)
	}

	c.Limiter = openai.NewRateLimiter(ocfg.MaxRequestsPerMinute, ocfg.MaxConcurrent)
	return openai.NewThrottledSynthesizer(client, c.Limiter), nil
}

func controllerConfig(cfg *config.Config) job.ControllerConfig {
	cc := job.DefaultControllerConfig()
	cc.TemplatePath = cfg.Teardown.TemplatePath
	cc.SupplementaryContextPath = cfg.Teardown.SupplementaryContextPath
	if cfg.Teardown.ContextMarker != "" {
		cc.ContextMarker = cfg.Teardown.ContextMarker
	}
	cc.Planner.MaxTokens = cfg.Teardown.MaxTokens
	cc.Planner.ScaffoldingTokens = cfg.Teardown.ScaffoldingTokens
	cc.QuestionConcurrency = cfg.Teardown.QuestionConcurrency
	cc.OverlapCollection = cfg.Teardown.OverlapCollection
	return cc
}

// RequireSynthesis はジョブを実行できる状態かを返す
func (c *ServiceContainer) RequireSynthesis() error {
	return c.synthErr
}

// Close は内部リソースを解放する
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Config は設定を返す
func (c *ServiceContainer) Config() *config.Config {
	return c.cfg
}

// unavailableSynthesizer は APIキー未設定時の合成実装
type unavailableSynthesizer struct {
	err error
}

func (s unavailableSynthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	return "", s.err
}

// supplementaryExists は補足コンテキストのパスが読めるかを確認する
func supplementaryExists(path string) bool {
	if path == "" {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}
