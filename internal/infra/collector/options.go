package collector

import "log/slog"

type options struct {
	baseURL  string
	maxItems int
	apiKey   string
	keywords []string
	logger   *slog.Logger
}

// Option はコレクタ共通のオプション設定
type Option func(*options)

// WithBaseURL は取得先のベースURLを差し替える
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// WithMaxItems は取得するページ数や記事数の上限を設定する
func WithMaxItems(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxItems = n
		}
	}
}

// WithAPIKey は外部APIのキーを設定する
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithLinkKeywords はクロール時に優先するリンクのキーワードを設定する
func WithLinkKeywords(keywords []string) Option {
	return func(o *options) {
		o.keywords = keywords
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(defaults options, opts []Option) options {
	for _, opt := range opts {
		opt(&defaults)
	}
	if defaults.logger == nil {
		defaults.logger = slog.Default()
	}
	return defaults
}
