package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jinford/teardown/internal/core/job"
)

const (
	defaultSerpAPIURL = "https://serpapi.com/search.json"

	// DefaultNewsSites は最初の検索で絞り込むニュースサイト
	DefaultNewsSites = "techcrunch.com,venturebeat.com,crunchbase.com,techstartups.com,siliconangle.com"

	// 本文がこれより短い記事は保存しない
	minArticleLength = 100
)

// ErrSerpAPIKeyNotSet は SerpAPI のキーが未設定の場合のエラー
var ErrSerpAPIKeyNotSet = errors.New("SERPAPI_API_KEY not set")

// SerpAPI は Google 検索結果の記事を1件ずつ保存する
type SerpAPI struct {
	fetcher    *Fetcher
	converter  *Converter
	endpoint   string
	apiKey     string
	numResults int
	logger     *slog.Logger
}

// NewSerpAPI は新しい SerpAPI コレクタを作成する
func NewSerpAPI(fetcher *Fetcher, opts ...Option) *SerpAPI {
	o := buildOptions(options{baseURL: defaultSerpAPIURL, maxItems: 5}, opts)
	return &SerpAPI{
		fetcher:    fetcher,
		converter:  NewConverter(),
		endpoint:   o.baseURL,
		apiKey:     o.apiKey,
		numResults: o.maxItems,
		logger:     o.logger,
	}
}

func (s *SerpAPI) Name() string { return "serpapi" }

type serpResponse struct {
	Error          string       `json:"error"`
	OrganicResults []serpResult `json:"organic_results"`
}

type serpResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// searchStrategies は結果が得られるまで順に試す検索クエリ
func searchStrategies(company string) []string {
	return []string{
		fmt.Sprintf("site:%s %s", DefaultNewsSites, company),
		company,
		fmt.Sprintf("%q", company),
		company + " company",
		company + " startup",
	}
}

// Collect は記事ごとに `<company>_<n>.txt` を保存する。
// 1件でも保存できた検索戦略で打ち切る
func (s *SerpAPI) Collect(ctx context.Context, target job.Target, dir string) job.CollectResult {
	start := time.Now()
	if s.apiKey == "" {
		return result(s.Name(), start, "Error: SERPAPI_API_KEY not found in environment variables", nil, ErrSerpAPIKeyNotSet)
	}
	company := strings.TrimSpace(target.CompanyName)
	stem := fileStem(company)

	var files []string
	for _, query := range searchStrategies(company) {
		if ctx.Err() != nil {
			break
		}
		results, err := s.search(ctx, query)
		if err != nil {
			s.logger.Warn("検索に失敗", "collector", s.Name(), "query", query, "error", err)
			continue
		}

		for _, r := range results {
			if r.Link == "" {
				continue
			}
			if err := s.fetcher.Pause(ctx); err != nil {
				break
			}
			text := s.articleText(ctx, r.Link)
			if len(text) <= minArticleLength {
				s.logger.Debug("本文が短いため記事をスキップ", "collector", s.Name(), "url", r.Link)
				continue
			}

			title := r.Title
			if title == "" {
				title = "No Title"
			}
			name := fmt.Sprintf("%s_%d.txt", stem, len(files)+1)
			body := fmt.Sprintf("Title: %s\nURL: %s\nSnippet: %s\n\n%s", title, r.Link, r.Snippet, text)
			if _, err := writeDocument(dir, name, body); err != nil {
				s.logger.Warn("記事の保存に失敗", "collector", s.Name(), "file", name, "error", err)
				continue
			}
			files = append(files, name)
		}

		if len(files) > 0 {
			break
		}
	}

	status := fmt.Sprintf("Scraped and saved %d articles for '%s'", len(files), company)
	if len(files) == 0 {
		return result(s.Name(), start, status, nil, ErrNoContent)
	}
	return result(s.Name(), start, status, files, nil)
}

func (s *SerpAPI) search(ctx context.Context, query string) ([]serpResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	params.Set("engine", "google")
	params.Set("num", strconv.Itoa(s.numResults))

	var resp serpResponse
	if err := s.fetcher.GetJSON(ctx, s.endpoint+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("serpapi: %s", resp.Error)
	}
	return resp.OrganicResults, nil
}

// articleText は記事ページの本文を返す。取得できない場合は空文字列
func (s *SerpAPI) articleText(ctx context.Context, link string) string {
	body, err := s.fetcher.Body(ctx, link)
	if err != nil {
		s.logger.Debug("記事の取得に失敗", "collector", s.Name(), "url", link, "error", err)
		return ""
	}
	converted, err := s.converter.Convert(body)
	if err != nil {
		return ""
	}
	return converted.Text
}

var _ job.DataCollector = (*SerpAPI)(nil)
