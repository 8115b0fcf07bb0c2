package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/teardown/internal/core/teardown"
)

const (
	// DefaultModel はデフォルトで使用するOpenAIモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// MaxRetries はレート制限エラー時の最大リトライ回数
	MaxRetries = 3

	// BaseBackoff はExponential Backoffの基底時間
	BaseBackoff = 2 * time.Second

	// MaxBackoff はExponential Backoffの最大待機時間
	MaxBackoff = 32 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")

	// ErrEmptyCompletion は応答に選択肢が含まれない場合のエラー
	ErrEmptyCompletion = errors.New("no completion choices returned")

	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// UsageRecorder はトークン使用量の記録先
type UsageRecorder interface {
	RecordUsage(model string, usage TokenUsage, latency time.Duration, err error)
}

// Client は OpenAI Chat Completions を使ったテキスト合成の実装
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	counter     *TokenCounter
	recorder    UsageRecorder
	logger      *slog.Logger
}

type clientOptions struct {
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	baseURL     string
	counter     *TokenCounter
	recorder    UsageRecorder
	logger      *slog.Logger
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithModel はモデル名を設定する
func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTemperature は生成温度を設定する
func WithTemperature(t float64) ClientOption {
	return func(o *clientOptions) {
		o.temperature = t
	}
}

// WithMaxTokens は生成トークン数の上限を設定する
func WithMaxTokens(n int) ClientOption {
	return func(o *clientOptions) {
		o.maxTokens = n
	}
}

// WithTimeout は1回の呼び出しのタイムアウトを設定する
func WithTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetryPolicy はリトライ回数とバックオフを設定する
func WithRetryPolicy(maxRetries int, base, max time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.maxRetries = maxRetries
		o.baseBackoff = base
		o.maxBackoff = max
	}
}

// WithBaseURL は API のベースURLを差し替える
func WithBaseURL(url string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithTokenCounter は API が使用量を返さない場合のトークン数算出に使う
func WithTokenCounter(counter *TokenCounter) ClientOption {
	return func(o *clientOptions) {
		o.counter = counter
	}
}

// WithUsageRecorder はトークン使用量の記録先を設定する
func WithUsageRecorder(r UsageRecorder) ClientOption {
	return func(o *clientOptions) {
		o.recorder = r
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient は新しい Client を作成する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := clientOptions{
		model:       DefaultModel,
		timeout:     DefaultTimeout,
		maxRetries:  MaxRetries,
		baseBackoff: BaseBackoff,
		maxBackoff:  MaxBackoff,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	// リトライはこのクライアントで制御する
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(options.baseURL))
	}

	return &Client{
		client:      openai.NewClient(reqOpts...),
		model:       options.model,
		temperature: options.temperature,
		maxTokens:   options.maxTokens,
		timeout:     options.timeout,
		maxRetries:  options.maxRetries,
		baseBackoff: options.baseBackoff,
		maxBackoff:  options.maxBackoff,
		counter:     options.counter,
		recorder:    options.recorder,
		logger:      options.logger,
	}, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Synthesize はプロンプトから応答テキストを生成する
func (c *Client) Synthesize(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	content, usage, err := c.generateWithRetry(ctx, prompt)
	if c.recorder != nil {
		c.recorder.RecordUsage(c.model, usage, time.Since(start), err)
	}
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) generateWithRetry(ctx context.Context, prompt string) (string, TokenUsage, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoffDuration := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseBackoff
			if backoffDuration > c.maxBackoff {
				backoffDuration = c.maxBackoff
			}
			c.logger.Debug("レート制限のため再試行", "attempt", attempt, "backoff", backoffDuration)

			select {
			case <-ctx.Done():
				return "", TokenUsage{}, ctx.Err()
			case <-time.After(backoffDuration):
			}
		}

		content, usage, err := c.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				continue
			}
			return "", TokenUsage{}, err
		}
		return content, usage, nil
	}

	return "", TokenUsage{}, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (c *Client) complete(ctx context.Context, prompt string) (string, TokenUsage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", TokenUsage{}, ErrEmptyCompletion
	}

	content := completion.Choices[0].Message.Content
	usage := TokenUsage{
		PromptTokens:   int(completion.Usage.PromptTokens),
		ResponseTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:    int(completion.Usage.TotalTokens),
	}
	if usage.TotalTokens == 0 && c.counter != nil {
		usage = c.counter.CountPromptAndResponse(prompt, content)
	}
	return content, usage, nil
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}

	return false
}

// インターフェース実装の確認
var _ teardown.TextSynthesis = (*Client)(nil)
