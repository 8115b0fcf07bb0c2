package teardown

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// DefaultPriorityKeywords はファイル名に含まれるキーワードの優先順
var DefaultPriorityKeywords = []string{"website", "company", "homepage", "news", "space", "contract", "global"}

// PlannerConfig はチャンク分割の設定
type PlannerConfig struct {
	// MaxTokens は1回の合成呼び出しに渡すトークン上限
	MaxTokens int
	// ScaffoldingTokens はプロンプトの定型部分として予約するトークン数
	ScaffoldingTokens int
	// MinBudget は補足コンテキストを差し引いた後の予算の下限
	MinBudget int
	// Keywords は優先度の高い順に並べたファイル名キーワード
	Keywords []string
}

// DefaultPlannerConfig はデフォルトのチャンク分割設定を返す
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		MaxTokens:         12000,
		ScaffoldingTokens: 1000,
		MinBudget:         500,
		Keywords:          DefaultPriorityKeywords,
	}
}

// ChunkPlanner は収集済みドキュメントを予算内のチャンク列に詰める
type ChunkPlanner struct {
	cfg PlannerConfig
}

// NewChunkPlanner は新しいChunkPlannerを作成する
func NewChunkPlanner(cfg PlannerConfig) *ChunkPlanner {
	def := DefaultPlannerConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.ScaffoldingTokens < 0 {
		cfg.ScaffoldingTokens = def.ScaffoldingTokens
	}
	if cfg.MinBudget <= 0 {
		cfg.MinBudget = def.MinBudget
	}
	if cfg.Keywords == nil {
		cfg.Keywords = def.Keywords
	}
	return &ChunkPlanner{cfg: cfg}
}

// Budget はドキュメント本文に使えるトークン数を返す
func (p *ChunkPlanner) Budget(supplementary string) int {
	budget := p.cfg.MaxTokens - p.cfg.ScaffoldingTokens - EstimateTokens(supplementary)
	return max(budget, p.cfg.MinBudget)
}

// Plan はドキュメントを優先度順に並べ、予算を超えない範囲で貪欲にチャンクへ詰める。
// 常に1件以上のチャンクを返し、ドキュメントが無ければ番兵チャンクを返す
func (p *ChunkPlanner) Plan(docs []Document, supplementary string) []Chunk {
	budget := p.Budget(supplementary)

	ordered := make([]Document, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		ordered = append(ordered, d)
	}
	slices.SortStableFunc(ordered, func(a, b Document) int {
		if c := cmp.Compare(p.rank(a.Name), p.rank(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})

	var (
		chunks  []Chunk
		current chunkBuilder
	)
	for _, d := range ordered {
		tokens := EstimateTokens(d.Content)

		if tokens > budget {
			if !current.empty() {
				chunks = append(chunks, current.build())
				current = chunkBuilder{}
			}
			chunks = append(chunks, truncatedChunk(d, budget))
			continue
		}

		if !current.empty() && current.tokens+tokens > budget {
			chunks = append(chunks, current.build())
			current = chunkBuilder{}
		}
		current.add(d, tokens)
	}
	if !current.empty() {
		chunks = append(chunks, current.build())
	}

	if len(chunks) == 0 {
		return []Chunk{{Text: NoDataText}}
	}
	return chunks
}

// rank はファイル名に最初に一致したキーワードの位置を返す。一致しなければ最下位
func (p *ChunkPlanner) rank(name string) int {
	lower := strings.ToLower(name)
	for i, kw := range p.cfg.Keywords {
		if strings.Contains(lower, kw) {
			return i
		}
	}
	return len(p.cfg.Keywords)
}

type chunkBuilder struct {
	parts  []string
	names  []string
	tokens int
}

func (b *chunkBuilder) empty() bool {
	return len(b.parts) == 0
}

func (b *chunkBuilder) add(d Document, tokens int) {
	b.parts = append(b.parts, fmt.Sprintf("--- %s ---\n%s", d.Name, d.Content))
	b.names = append(b.names, d.Name)
	b.tokens += tokens
}

func (b *chunkBuilder) build() Chunk {
	return Chunk{
		Text:      strings.Join(b.parts, "\n\n"),
		Documents: b.names,
		Tokens:    b.tokens,
	}
}

func truncatedChunk(d Document, budget int) Chunk {
	prefix := truncateRunes(d.Content, budget*4)
	return Chunk{
		Text:      fmt.Sprintf("--- %s (truncated) ---\n%s", d.Name, prefix),
		Documents: []string{d.Name},
		Truncated: true,
		Tokens:    EstimateTokens(prefix),
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
