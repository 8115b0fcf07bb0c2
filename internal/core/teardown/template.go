package teardown

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultTemplate []byte

// ErrTemplateEmpty は有効な設問が1件も無いテンプレートを表す
var ErrTemplateEmpty = errors.New("template has no valid questions")

// RejectedQuestion は読み込み時に除外された設問レコード
type RejectedQuestion struct {
	Index  int
	ID     string
	Reason string
}

// Template は順序付きの設問リスト
type Template struct {
	Questions []Question
	Rejected  []RejectedQuestion
}

// IDs は設問IDをテンプレート順に返す
func (t *Template) IDs() []string {
	ids := make([]string, 0, len(t.Questions))
	for _, q := range t.Questions {
		ids = append(ids, q.ID)
	}
	return ids
}

// Find はIDに一致する設問を返す
func (t *Template) Find(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// DefaultTemplate は組み込みの設問テンプレートを返す
func DefaultTemplate() (*Template, error) {
	return ParseTemplate(defaultTemplate, "yaml")
}

// LoadTemplate はファイルから設問テンプレートを読み込む。path が空なら組み込みテンプレートを使う
func LoadTemplate(path string) (*Template, error) {
	if path == "" {
		return DefaultTemplate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("テンプレートの読み込みに失敗: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseTemplate(data, format)
}

// ParseTemplate は JSON または YAML の設問リストを解析する。
// id/title/instruction のいずれかが欠けたレコードと重複IDは除外する
func ParseTemplate(data []byte, format string) (*Template, error) {
	var records []Question
	switch format {
	case "json":
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("テンプレートの解析に失敗: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("テンプレートの解析に失敗: %w", err)
		}
	}

	tmpl := &Template{}
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		r.ID = strings.TrimSpace(r.ID)
		var missing []string
		if r.ID == "" {
			missing = append(missing, "id")
		}
		if strings.TrimSpace(r.Title) == "" {
			missing = append(missing, "title")
		}
		if strings.TrimSpace(r.Instruction) == "" {
			missing = append(missing, "instruction")
		}
		if len(missing) > 0 {
			tmpl.Rejected = append(tmpl.Rejected, RejectedQuestion{
				Index:  i,
				ID:     r.ID,
				Reason: "missing " + strings.Join(missing, ", "),
			})
			continue
		}
		if _, dup := seen[r.ID]; dup {
			tmpl.Rejected = append(tmpl.Rejected, RejectedQuestion{Index: i, ID: r.ID, Reason: "duplicate id"})
			continue
		}
		seen[r.ID] = struct{}{}
		tmpl.Questions = append(tmpl.Questions, r)
	}

	if len(tmpl.Questions) == 0 {
		return tmpl, ErrTemplateEmpty
	}
	return tmpl, nil
}
