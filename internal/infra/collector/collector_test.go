package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/teardown/internal/core/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFetcher() *Fetcher {
	return NewFetcher(WithDelay(0))
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}

func htmlPage(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, body)
}

func TestWebsite_Collect(t *testing.T) {
	var fetched atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fetched.Add(1)
		htmlPage(w, `<html><head><title>Acme Home</title></head><body>
			<nav><a href="/products">Products</a><a href="/about">About</a><a href="/missing">x</a>
			<a href="http://other.example/news">External</a><a href="mailto:info@acme.test">Mail</a></nav>
			<h1>Acme</h1><p>We build rockets.</p><p>We build rockets.</p></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fetched.Add(1)
		htmlPage(w, `<html><head><title>About Acme</title></head><body><h2>Leadership</h2><p>Jane Doe is CEO.</p><a href="/">Home</a></body></html>`)
	})
	mux.HandleFunc("/products", func(w http.ResponseWriter, r *http.Request) {
		fetched.Add(1)
		htmlPage(w, `<html><head><title>Products</title></head><body><ul><li>Falcon engines</li></ul></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("同一ホストのページを優先キーワード順にクロールする", func(t *testing.T) {
		fetched.Store(0)
		dir := t.TempDir()
		res := NewWebsite(testFetcher(), WithLogger(testLogger())).Collect(context.Background(), job.Target{CompanyName: "Acme", CompanyURL: srv.URL + "/"}, dir)

		require.NoError(t, res.Err)
		assert.Equal(t, "website", res.Collector)
		require.Equal(t, []string{"127_0_0_1.txt"}, res.Files)
		assert.Equal(t, int32(3), fetched.Load())

		content := readFile(t, dir, "127_0_0_1.txt")
		assert.Contains(t, content, "--- Acme Home ("+srv.URL+"/) ---")
		assert.Contains(t, content, "[Acme]\nWe build rockets.")
		assert.Equal(t, 1, strings.Count(content, "We build rockets."))
		assert.Contains(t, content, "[Leadership]\nJane Doe is CEO.")
		assert.Contains(t, content, "Falcon engines")
		assert.Less(t, strings.Index(content, "About Acme"), strings.Index(content, "--- Products ("))
		assert.NotContains(t, content, "other.example")
	})

	t.Run("ページ数の上限で打ち切る", func(t *testing.T) {
		dir := t.TempDir()
		res := NewWebsite(testFetcher(), WithMaxItems(1), WithLogger(testLogger())).Collect(context.Background(), job.Target{CompanyURL: srv.URL}, dir)
		require.NoError(t, res.Err)

		content := readFile(t, dir, "127_0_0_1.txt")
		assert.Contains(t, content, "Acme Home")
		assert.NotContains(t, content, "About Acme")
	})

	t.Run("不正なURLはファイルを書かずに失敗を返す", func(t *testing.T) {
		dir := t.TempDir()
		res := NewWebsite(testFetcher()).Collect(context.Background(), job.Target{CompanyURL: "not a url"}, dir)
		assert.Error(t, res.Err)
		assert.False(t, res.OK())
		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries)
	})
}

func TestNews_SpaceNews(t *testing.T) {
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("s") != "Acme Corp" {
			htmlPage(w, `<html><body><p>Nothing found</p></body></html>`)
			return
		}
		htmlPage(w, fmt.Sprintf(`<html><body>
			<h2 class="entry-title"><a href="/2024/launch">Acme launches satellite</a></h2>
			<h2 class="entry-title"><a href="%s/2024/broken">Broken story</a></h2>
			<h2 class="entry-title"><a href="/2024/empty">Empty story</a></h2>
			<h2 class="entry-title"><a href="/2024/extra">Over the limit</a></h2>
			</body></html>`, srvURL))
	})
	mux.HandleFunc("/2024/launch", func(w http.ResponseWriter, r *http.Request) {
		htmlPage(w, `<html><body><div class="entry-content"><p>Acme launched.</p><p>It worked.</p></div><article><p>ignored</p></article></body></html>`)
	})
	mux.HandleFunc("/2024/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/2024/empty", func(w http.ResponseWriter, r *http.Request) {
		htmlPage(w, `<html><body><div>no paragraphs</div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	collector := NewSpaceNews(testFetcher(), WithBaseURL(srv.URL), WithMaxItems(3), WithLogger(testLogger()))

	t.Run("検索結果の記事本文を1ファイルにまとめる", func(t *testing.T) {
		dir := t.TempDir()
		res := collector.Collect(context.Background(), job.Target{CompanyName: "Acme Corp"}, dir)
		require.NoError(t, res.Err)
		require.Equal(t, []string{"spacenews_acme_corp.txt"}, res.Files)

		content := readFile(t, dir, "spacenews_acme_corp.txt")
		assert.True(t, strings.HasPrefix(content, "Articles related to 'Acme Corp' from SpaceNews:\n\n1. Acme launches satellite\nURL: "+srv.URL+"/2024/launch\nFull Text:\nAcme launched.\nIt worked.\n\n"+separator))
		assert.Contains(t, content, "2. Broken story")
		assert.Contains(t, content, "Could not retrieve article content")
		assert.Contains(t, content, "3. Empty story\nURL: "+srv.URL+"/2024/empty\nFull Text:\nCould not extract article content.")
		assert.NotContains(t, content, "Over the limit")
		assert.NotContains(t, content, "ignored")
	})

	t.Run("検索結果がなければファイルを書かない", func(t *testing.T) {
		dir := t.TempDir()
		res := collector.Collect(context.Background(), job.Target{CompanyName: "Nobody"}, dir)
		assert.ErrorIs(t, res.Err, ErrNoContent)
		assert.Equal(t, "No articles found on SpaceNews for 'Nobody'.", res.Status)
		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries)
	})
}

func TestNews_GlobeNewswire(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Search", func(w http.ResponseWriter, r *http.Request) {
		htmlPage(w, `<html><body><div class="main-content"><div class="news-title"><a href="/news-release/1">Acme raises Series A</a></div></div></body></html>`)
	})
	mux.HandleFunc("/news-release/1", func(w http.ResponseWriter, r *http.Request) {
		htmlPage(w, `<html><body><div class="article-body"><p>Acme raised $10M.</p></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	res := NewGlobeNewswire(testFetcher(), WithBaseURL(srv.URL)).Collect(context.Background(), job.Target{CompanyName: "Acme"}, dir)
	require.NoError(t, res.Err)
	assert.Equal(t, "globenewswire", res.Collector)

	content := readFile(t, dir, "globenewswire_acme.txt")
	assert.Contains(t, content, "GlobeNewswire press releases related to 'Acme':")
	assert.Contains(t, content, "Acme raised $10M.")
}

func TestNews_SearchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	res := NewSpaceNews(testFetcher(), WithBaseURL(srv.URL)).Collect(context.Background(), job.Target{CompanyName: "Acme"}, t.TempDir())
	var statusErr *StatusError
	require.ErrorAs(t, res.Err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
	assert.Contains(t, res.Status, "Failed to retrieve search results")
}

func TestUSASpending_Collect(t *testing.T) {
	var got awardSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		if got.Filters.RecipientSearchText[0] == "Nobody" {
			_, _ = io.WriteString(w, `{"results": []}`)
			return
		}
		_, _ = io.WriteString(w, `{"results": [
			{"Award ID": "A1", "Recipient Name": "ACME CORP", "Start Date": "2021-03-01", "End Date": "2023-02-28", "Award Amount": 1000000.25, "Awarding Agency": "Department of Defense", "Award Description": "Satellite bus satellite"},
			{"Award ID": "A2", "Recipient Name": "ACME CORP", "Start Date": "2022-01-01", "End Date": null, "Award Amount": 500000.25, "Awarding Agency": "NASA", "Award Description": "Solar array"}
		]}`)
	}))
	defer srv.Close()

	collector := NewUSASpending(testFetcher(), WithBaseURL(srv.URL))

	t.Run("要約と明細を書き出す", func(t *testing.T) {
		dir := t.TempDir()
		res := collector.Collect(context.Background(), job.Target{CompanyName: "Acme Corp"}, dir)
		require.NoError(t, res.Err)
		require.Equal(t, []string{"acme_corp_contracts.txt"}, res.Files)

		assert.Equal(t, []string{"A", "B", "C", "D"}, got.Filters.AwardTypeCodes)
		assert.Equal(t, 10, got.Limit)
		assert.Equal(t, "Award Amount", got.Sort)

		content := readFile(t, dir, "acme_corp_contracts.txt")
		assert.Contains(t, content, "Summary of Government Contracts for Acme Corp\n")
		assert.Contains(t, content, "- Total Awarded: $1,500,000.50\n")
		assert.Contains(t, content, "- Agencies Involved: Department of Defense, NASA\n")
		assert.Contains(t, content, "- Years Active: 2021, 2022, 2023\n")
		assert.Contains(t, content, "- Common Keywords: satellite, bus, solar, array\n")
		assert.Contains(t, content, "#2\nAward ID: A2\n")
		assert.Contains(t, content, "End Date: N/A\n")
	})

	t.Run("契約がなければファイルを書かない", func(t *testing.T) {
		dir := t.TempDir()
		res := collector.Collect(context.Background(), job.Target{CompanyName: "Nobody"}, dir)
		assert.ErrorIs(t, res.Err, ErrNoContent)
		assert.Equal(t, "No contracts found for 'Nobody'.", res.Status)
	})
}

func TestSerpAPI_Collect(t *testing.T) {
	var searches atomic.Int32
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/search.json", func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "google", r.URL.Query().Get("engine"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("q") {
		case "site:" + DefaultNewsSites + " Acme":
			fmt.Fprintf(w, `{"organic_results": [{"title": "Short", "link": "%s/short"}]}`, srvURL)
		case "Acme":
			fmt.Fprintf(w, `{"organic_results": [{"title": "Acme profile", "link": "%s/long", "snippet": "Acme builds"}, {"title": "Dead", "link": "%s/dead"}]}`, srvURL, srvURL)
		default:
			_, _ = io.WriteString(w, `{"error": "should not be called"}`)
		}
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		htmlPage(w, `<html><body><p>Too short.</p></body></html>`)
	})
	mux.HandleFunc("/long", func(w http.ResponseWriter, r *http.Request) {
		htmlPage(w, `<html><head><title>Acme</title><script>var x = 1;</script></head><body><nav>Menu</nav><article><p>`+strings.Repeat("Acme builds spacecraft power systems. ", 5)+`</p></article></body></html>`)
	})
	mux.HandleFunc("/dead", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	t.Run("保存できた検索戦略で打ち切る", func(t *testing.T) {
		dir := t.TempDir()
		collector := NewSerpAPI(testFetcher(), WithBaseURL(srv.URL+"/search.json"), WithAPIKey("secret"), WithLogger(testLogger()))
		res := collector.Collect(context.Background(), job.Target{CompanyName: "Acme"}, dir)

		require.NoError(t, res.Err)
		assert.Equal(t, []string{"acme_1.txt"}, res.Files)
		assert.Equal(t, int32(2), searches.Load())
		assert.Equal(t, "Scraped and saved 1 articles for 'Acme'", res.Status)

		content := readFile(t, dir, "acme_1.txt")
		assert.True(t, strings.HasPrefix(content, "Title: Acme profile\nURL: "+srv.URL+"/long\nSnippet: Acme builds\n\n"))
		assert.Contains(t, content, "Acme builds spacecraft power systems.")
		assert.NotContains(t, content, "Menu")
		assert.NotContains(t, content, "var x")
	})

	t.Run("APIキーがなければ何もしない", func(t *testing.T) {
		dir := t.TempDir()
		res := NewSerpAPI(testFetcher(), WithBaseURL(srv.URL+"/search.json")).Collect(context.Background(), job.Target{CompanyName: "Acme"}, dir)
		assert.ErrorIs(t, res.Err, ErrSerpAPIKeyNotSet)
		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries)
	})
}

func TestConverter_Convert(t *testing.T) {
	c := NewConverter()

	res, err := c.Convert([]byte(`<html><head><title> Launch Day </title><style>p{}</style></head>
		<body><header>Site header</header><main><h1>Launch</h1><p>First <strong>orbit</strong>.</p></main><footer>Footer</footer></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Launch Day", res.Title)
	assert.Contains(t, res.Text, "# Launch")
	assert.Contains(t, res.Text, "First **orbit**.")
	assert.NotContains(t, res.Text, "Site header")
	assert.NotContains(t, res.Text, "Footer")

	t.Run("titleがなければ見出しから補う", func(t *testing.T) {
		res, err := c.Convert([]byte(`<body><article><h1>Headline</h1><p>Body</p></article></body>`))
		require.NoError(t, err)
		assert.Equal(t, "Headline", res.Title)
	})
}

func TestBuild(t *testing.T) {
	collectors, err := Build(Config{Names: []string{"website", " SpaceNews ", "globenewswire", "usaspending", "serpapi", "website"}}, testFetcher(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(collectors))
	for _, c := range collectors {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"website", "spacenews", "globenewswire", "usaspending", "serpapi"}, names)

	_, err = Build(Config{Names: []string{"linkedin"}}, testFetcher(), nil)
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	t.Run("formatUSD", func(t *testing.T) {
		assert.Equal(t, "$0.00", formatUSD(0))
		assert.Equal(t, "$999.99", formatUSD(999.99))
		assert.Equal(t, "$1,234,567.50", formatUSD(1234567.5))
		assert.Equal(t, "-$1,000.00", formatUSD(-1000))
	})

	t.Run("topWordsは同数なら出現順", func(t *testing.T) {
		assert.Equal(t, []string{"b", "a", "c"}, topWords([]string{"a", "b", "b", "c", "a", "b"}, 3))
		assert.Len(t, topWords([]string{"a", "b", "c"}, 2), 2)
	})

	t.Run("fileStem", func(t *testing.T) {
		assert.Equal(t, "acme_corp", fileStem(" Acme Corp "))
		assert.Equal(t, "ab", fileStem("a/b"))
		assert.Equal(t, "company", fileStem(".."))
	})
}
