package collector

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/teardown/internal/core/job"
)

// Config はコレクタ群の構成
type Config struct {
	Names          []string
	SerpAPIKey     string
	MaxPages       int
	MaxArticles    int
	SpaceNewsURL   string
	GlobeNewsURL   string
	USASpendingURL string
	SerpAPIURL     string
}

// Build は名前の一覧からコレクタを組み立てる。未知の名前はエラー
func Build(cfg Config, fetcher *Fetcher, logger *slog.Logger) ([]job.DataCollector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	collectors := make([]job.DataCollector, 0, len(cfg.Names))
	seen := make(map[string]bool)
	for _, raw := range cfg.Names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "website":
			collectors = append(collectors, NewWebsite(fetcher, WithMaxItems(cfg.MaxPages), WithLogger(logger)))
		case "spacenews":
			collectors = append(collectors, NewSpaceNews(fetcher, WithBaseURL(cfg.SpaceNewsURL), WithMaxItems(cfg.MaxArticles), WithLogger(logger)))
		case "globenewswire":
			collectors = append(collectors, NewGlobeNewswire(fetcher, WithBaseURL(cfg.GlobeNewsURL), WithMaxItems(cfg.MaxArticles), WithLogger(logger)))
		case "usaspending":
			collectors = append(collectors, NewUSASpending(fetcher, WithBaseURL(cfg.USASpendingURL), WithLogger(logger)))
		case "serpapi":
			collectors = append(collectors, NewSerpAPI(fetcher, WithBaseURL(cfg.SerpAPIURL), WithAPIKey(cfg.SerpAPIKey), WithLogger(logger)))
		default:
			return nil, fmt.Errorf("unknown collector: %q", raw)
		}
	}
	return collectors, nil
}
