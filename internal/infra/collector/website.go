package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jinford/teardown/internal/core/job"
)

// DefaultLinkKeywords はクロール時に先にたどるリンクのキーワード
var DefaultLinkKeywords = []string{"news", "press", "blog", "in the news", "media", "about", "team", "leadership"}

// Website は会社サイトを同一ホスト内で幅優先にクロールする
type Website struct {
	fetcher  *Fetcher
	maxPages int
	keywords []string
	logger   *slog.Logger
}

// NewWebsite は新しい Website コレクタを作成する
func NewWebsite(fetcher *Fetcher, opts ...Option) *Website {
	o := buildOptions(options{maxItems: 15, keywords: DefaultLinkKeywords}, opts)
	return &Website{fetcher: fetcher, maxPages: o.maxItems, keywords: o.keywords, logger: o.logger}
}

func (w *Website) Name() string { return "website" }

// Collect はサイトのテキストを `<host>.txt` に保存する
func (w *Website) Collect(ctx context.Context, target job.Target, dir string) job.CollectResult {
	start := time.Now()

	root, err := url.Parse(strings.TrimSpace(target.CompanyURL))
	if err != nil || (root.Scheme != "http" && root.Scheme != "https") || root.Host == "" {
		return result(w.Name(), start, fmt.Sprintf("Invalid company URL: %s", target.CompanyURL), nil, fmt.Errorf("invalid company url %q", target.CompanyURL))
	}
	root.Fragment = ""
	host := root.Hostname()

	queue := []string{root.String()}
	tried := make(map[string]bool)
	visited := 0
	var sections []string

	for len(queue) > 0 && visited < w.maxPages {
		if ctx.Err() != nil {
			break
		}
		current := queue[0]
		queue = queue[1:]
		if tried[current] {
			continue
		}
		tried[current] = true

		u, err := url.Parse(current)
		if err != nil || u.Hostname() != host {
			continue
		}

		doc, err := w.fetcher.Document(ctx, current)
		if err != nil {
			w.logger.Debug("ページの取得に失敗", "url", current, "error", err)
			continue
		}
		visited++

		if blocks := pageBlocks(doc); len(blocks) > 0 {
			title := cleanText(doc.Find("title").First())
			if title == "" {
				title = current
			}
			sections = append(sections, fmt.Sprintf("\n--- %s (%s) ---\n%s", title, current, strings.Join(blocks, "\n")))
		}

		queue = append(queue, w.discoverLinks(doc, u)...)
	}

	if len(sections) == 0 {
		return result(w.Name(), start, fmt.Sprintf("No content scraped from %s.", target.CompanyURL), nil, ErrNoContent)
	}

	name := strings.ReplaceAll(strings.TrimPrefix(host, "www."), ".", "_") + ".txt"
	if _, err := writeDocument(dir, name, strings.Join(sections, "\n\n")); err != nil {
		return result(w.Name(), start, fmt.Sprintf("Error scraping company website: %v", err), nil, err)
	}
	return result(w.Name(), start, fmt.Sprintf("Scraped data saved to '%s'", name), []string{name}, nil)
}

// pageBlocks は見出しをラベルとして先に並べ、本文要素のテキストを重複なく返す
func pageBlocks(doc *goquery.Document) []string {
	var blocks []string
	doc.Find("h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s); t != "" {
			blocks = append(blocks, "["+t+"]")
		}
	})
	for _, tag := range []string{"p", "li", "span", "article"} {
		blocks = append(blocks, paragraphs(doc.Selection, tag)...)
	}

	seen := make(map[string]bool, len(blocks))
	unique := blocks[:0]
	for _, b := range blocks {
		if seen[b] {
			continue
		}
		seen[b] = true
		unique = append(unique, b)
	}
	return unique
}

// discoverLinks はキーワードを含むリンクを先頭にしたリンク一覧を返す
func (w *Website) discoverLinks(doc *goquery.Document, page *url.URL) []string {
	var priority, other []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		link := page.ResolveReference(ref)
		if link.Scheme != "http" && link.Scheme != "https" {
			return
		}
		link.Fragment = ""
		abs := link.String()

		lower := strings.ToLower(abs)
		for _, kw := range w.keywords {
			if strings.Contains(lower, kw) {
				priority = append(priority, abs)
				return
			}
		}
		other = append(other, abs)
	})
	return append(priority, other...)
}

var _ job.DataCollector = (*Website)(nil)
