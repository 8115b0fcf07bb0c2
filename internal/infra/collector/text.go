package collector

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jinford/teardown/internal/core/job"
	"github.com/jinford/teardown/internal/infra/workspace"
)

// ErrNoContent は収集対象が見つからずファイルを書かなかったことを表す
var ErrNoContent = errors.New("no content collected")

const separator = "================================================================================"

// fileStem は会社名をファイル名の一部に変換する
func fileStem(company string) string {
	s := strings.ToLower(strings.TrimSpace(company))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return -1
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "company"
	}
	return s
}

// cleanText は要素のテキストを連続空白を1つにまとめて返す
func cleanText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// paragraphs はセレクタに一致する要素の空でないテキストを返す
func paragraphs(doc *goquery.Selection, selector string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if t := cleanText(s); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// writeDocument はワークスペースにテキストファイルを書き込む
func writeDocument(dir, name, content string) (string, error) {
	if err := workspace.WriteFileAtomic(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// result は計測開始時刻から CollectResult を組み立てる
func result(name string, start time.Time, status string, files []string, err error) job.CollectResult {
	return job.CollectResult{
		Collector: name,
		Status:    status,
		Files:     files,
		Err:       err,
		Duration:  time.Since(start),
	}
}
