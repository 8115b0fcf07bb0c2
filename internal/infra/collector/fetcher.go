package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultUserAgent はスクレイピング時のUser-Agent
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"

	// DefaultDelay は記事取得間の待機時間
	DefaultDelay = 10 * time.Second

	// DefaultTimeout は1リクエストのタイムアウト
	DefaultTimeout = 15 * time.Second

	defaultMaxBodySize = 10 << 20
)

// StatusError は 200 以外の HTTP ステータスを表す
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (%s)", e.Code, http.StatusText(e.Code), e.URL)
}

// Fetcher はコレクタ共通の HTTP クライアント
type Fetcher struct {
	client      *http.Client
	userAgent   string
	delay       time.Duration
	maxBodySize int64
}

type fetcherOptions struct {
	client      *http.Client
	userAgent   string
	delay       time.Duration
	timeout     time.Duration
	maxBodySize int64
}

// FetcherOption は Fetcher のオプション設定
type FetcherOption func(*fetcherOptions)

// WithHTTPClient は HTTP クライアントを差し替える
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(o *fetcherOptions) {
		o.client = c
	}
}

// WithUserAgent は User-Agent を設定する
func WithUserAgent(ua string) FetcherOption {
	return func(o *fetcherOptions) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithDelay は記事取得間の待機時間を設定する。0 なら待機しない
func WithDelay(d time.Duration) FetcherOption {
	return func(o *fetcherOptions) {
		o.delay = d
	}
}

// WithRequestTimeout はリクエストのタイムアウトを設定する
func WithRequestTimeout(d time.Duration) FetcherOption {
	return func(o *fetcherOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewFetcher は新しい Fetcher を作成する
func NewFetcher(opts ...FetcherOption) *Fetcher {
	options := fetcherOptions{
		userAgent:   DefaultUserAgent,
		delay:       DefaultDelay,
		timeout:     DefaultTimeout,
		maxBodySize: defaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.client == nil {
		options.client = &http.Client{
			Timeout: options.timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		}
	}

	return &Fetcher{
		client:      options.client,
		userAgent:   options.userAgent,
		delay:       options.delay,
		maxBodySize: options.maxBodySize,
	}
}

// Body は GET した本文を返す
func (f *Fetcher) Body(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	return f.do(req)
}

// Document は GET した HTML を goquery のドキュメントとして返す
func (f *Fetcher) Document(ctx context.Context, url string) (*goquery.Document, error) {
	body, err := f.Body(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// GetJSON は GET した JSON を out にデコードする
func (f *Fetcher) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := f.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// PostJSON は payload を JSON で POST し、応答を out にデコードする
func (f *Fetcher) PostJSON(ctx context.Context, url string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	body, err := f.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func (f *Fetcher) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: req.URL.String(), Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Pause は記事取得間の待機を行う。コンテキストがキャンセルされた場合はエラー
func (f *Fetcher) Pause(ctx context.Context) error {
	if f.delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
