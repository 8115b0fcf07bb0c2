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

// newsSite はニュースサイトごとの検索と本文抽出の設定
type newsSite struct {
	name             string
	label            string
	defaultBaseURL   string
	searchPath       string
	listSelector     string
	contentSelectors []string
	notFound         string
	heading          string
}

var (
	spaceNewsSite = newsSite{
		name:             "spacenews",
		label:            "SpaceNews",
		defaultBaseURL:   "https://spacenews.com",
		searchPath:       "/?s=",
		listSelector:     "h2.entry-title a",
		contentSelectors: []string{".entry-content p", ".post-content p", "article p", ".content p"},
		notFound:         "No articles found on SpaceNews for '%s'.",
		heading:          "Articles related to '%s' from SpaceNews:",
	}

	globeNewswireSite = newsSite{
		name:             "globenewswire",
		label:            "GlobeNewswire",
		defaultBaseURL:   "https://www.globenewswire.com",
		searchPath:       "/Search?q=",
		listSelector:     ".main-content .news-title a",
		contentSelectors: []string{".article-body p"},
		notFound:         "No GlobeNewswire press releases found for '%s'.",
		heading:          "GlobeNewswire press releases related to '%s':",
	}
)

// News はニュースサイトを会社名で検索し、記事本文を1ファイルにまとめる
type News struct {
	site        newsSite
	fetcher     *Fetcher
	baseURL     string
	maxArticles int
	logger      *slog.Logger
}

// NewSpaceNews は SpaceNews の記事コレクタを作成する
func NewSpaceNews(fetcher *Fetcher, opts ...Option) *News {
	return newNews(spaceNewsSite, fetcher, opts)
}

// NewGlobeNewswire は GlobeNewswire のプレスリリースコレクタを作成する
func NewGlobeNewswire(fetcher *Fetcher, opts ...Option) *News {
	return newNews(globeNewswireSite, fetcher, opts)
}

func newNews(site newsSite, fetcher *Fetcher, opts []Option) *News {
	o := buildOptions(options{baseURL: site.defaultBaseURL, maxItems: 20}, opts)
	return &News{
		site:        site,
		fetcher:     fetcher,
		baseURL:     strings.TrimRight(o.baseURL, "/"),
		maxArticles: o.maxItems,
		logger:      o.logger,
	}
}

func (n *News) Name() string { return n.site.name }

type article struct {
	title string
	url   string
	text  string
}

// Collect は `<site>_<company>.txt` に記事本文を保存する
func (n *News) Collect(ctx context.Context, target job.Target, dir string) job.CollectResult {
	start := time.Now()
	company := strings.TrimSpace(target.CompanyName)

	searchURL := n.baseURL + n.site.searchPath + url.QueryEscape(company)
	doc, err := n.fetcher.Document(ctx, searchURL)
	if err != nil {
		return result(n.Name(), start, fmt.Sprintf("Failed to retrieve search results: %v", err), nil, err)
	}

	links := doc.Find(n.site.listSelector)
	if links.Length() == 0 {
		return result(n.Name(), start, fmt.Sprintf(n.site.notFound, company), nil, ErrNoContent)
	}

	base, _ := url.Parse(n.baseURL + "/")
	var articles []article
	links.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= n.maxArticles {
			return false
		}
		if err := n.fetcher.Pause(ctx); err != nil {
			return false
		}
		articles = append(articles, n.scrape(ctx, base, s))
		return true
	})

	if len(articles) == 0 {
		return result(n.Name(), start, fmt.Sprintf("Could not scrape any article content for '%s'.", company), nil, ErrNoContent)
	}

	var b strings.Builder
	fmt.Fprintf(&b, n.site.heading+"\n\n", company)
	for i, a := range articles {
		fmt.Fprintf(&b, "%d. %s\nURL: %s\nFull Text:\n%s\n\n%s\n\n", i+1, a.title, a.url, a.text, separator)
	}

	name := fmt.Sprintf("%s_%s.txt", n.site.name, fileStem(company))
	if _, err := writeDocument(dir, name, strings.TrimSpace(b.String())); err != nil {
		return result(n.Name(), start, fmt.Sprintf("An error occurred while scraping %s: %v", n.site.label, err), nil, err)
	}
	return result(n.Name(), start, fmt.Sprintf("Full article text saved to '%s'", name), []string{name}, nil)
}

// scrape は1記事を取得する。失敗しても記事のエントリ自体は残す
func (n *News) scrape(ctx context.Context, base *url.URL, link *goquery.Selection) article {
	a := article{title: cleanText(link)}
	href, _ := link.Attr("href")
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		a.url = href
		a.text = fmt.Sprintf("Error scraping article: %v", err)
		return a
	}
	a.url = base.ResolveReference(ref).String()

	doc, err := n.fetcher.Document(ctx, a.url)
	if err != nil {
		n.logger.Debug("記事の取得に失敗", "collector", n.Name(), "url", a.url, "error", err)
		a.text = fmt.Sprintf("Could not retrieve article content: %v", err)
		return a
	}

	for _, sel := range n.site.contentSelectors {
		if ps := paragraphs(doc.Selection, sel); len(ps) > 0 {
			a.text = strings.Join(ps, "\n")
			return a
		}
	}
	a.text = "Could not extract article content."
	return a
}

var _ job.DataCollector = (*News)(nil)
