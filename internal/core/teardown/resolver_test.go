package teardown

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(synth TextSynthesis, docs DocumentSource, opts ...ResolverOption) (*AnswerResolver, *memStore, *memWriter) {
	store := newMemStore()
	writer := &memWriter{}
	compiler := NewReportCompiler("Acme", testQuestions, store, writer, WithCompilerLogger(discardLogger()))
	planner := NewChunkPlanner(DefaultPlannerConfig())
	opts = append([]ResolverOption{WithResolverLogger(discardLogger())}, opts...)
	return NewAnswerResolver("Acme", synth, planner, docs, store, compiler, opts...), store, writer
}

func TestAnswerResolver_Direct(t *testing.T) {
	ctx := context.Background()
	q := Question{ID: "company_description", Title: "Company Description", Instruction: "describe the company"}

	t.Run("先頭チャンクのみを使い後続チャンクは無視する", func(t *testing.T) {
		synth := &recordingSynth{respond: func(prompt string) (string, error) {
			if strings.Contains(prompt, "CONTRADICTION") {
				return "Acme is a bakery.", nil
			}
			return "  Acme builds rockets.\n", nil
		}}
		resolver, _, _ := newTestResolver(synth, staticDocs{})

		chunks := []Chunk{
			{Text: "--- acme_website.txt ---\nAcme builds rockets.", Documents: []string{"acme_website.txt"}},
			{Text: "--- other.txt ---\nCONTRADICTION", Documents: []string{"other.txt"}},
			{Text: "--- more.txt ---\nCONTRADICTION", Documents: []string{"more.txt"}},
		}
		res := resolver.Answer(ctx, q, chunks)

		assert.Equal(t, StrategyDirect, res.Strategy)
		assert.Equal(t, "Acme builds rockets.", res.Answer)
		assert.Equal(t, 1, res.Calls)
		require.Len(t, synth.Prompts(), 1)
		assert.NotContains(t, synth.Prompts()[0], "CONTRADICTION")

		// 後続チャンクを除いても結果は変わらない
		alone := resolver.Answer(ctx, q, chunks[:1])
		assert.Equal(t, res.Answer, alone.Answer)
	})

	t.Run("合成の失敗はエラー文言として回答になり保存される", func(t *testing.T) {
		synth := &recordingSynth{respond: func(string) (string, error) {
			return "", errors.New("upstream timeout")
		}}
		resolver, store, writer := newTestResolver(synth, staticDocs{{Name: "acme_website.txt", Content: "Acme"}})

		res := resolver.Resolve(ctx, q)

		assert.True(t, res.Degraded)
		assert.Error(t, res.Err)
		assert.Equal(t, "Error processing question: upstream timeout", res.Answer)
		assert.True(t, res.Stored)
		all, _ := store.All(ctx)
		assert.Equal(t, res.Answer, all[q.ID].Answer)
		assert.Contains(t, writer.Last(), "## company_description\nError processing question: upstream timeout\n")
	})

	t.Run("合成のパニックもエラーとして扱う", func(t *testing.T) {
		synth := SynthesisFunc(func(context.Context, string) (string, error) {
			panic("boom")
		})
		resolver, _, _ := newTestResolver(synth, staticDocs{})

		res := resolver.Answer(ctx, q, nil)
		assert.True(t, res.Degraded)
		assert.Contains(t, res.Answer, "Error processing question: synthesis panicked: boom")
	})
}

func TestAnswerResolver_MapReduce(t *testing.T) {
	ctx := context.Background()
	q := Question{ID: "recent_news", Title: "Recent News", Instruction: "summarize news"}
	chunks := []Chunk{
		{Text: "part one", Documents: []string{"a.txt"}},
		{Text: "part two", Documents: []string{"b.txt"}},
		{Text: "part three", Documents: []string{"c.txt"}},
	}

	t.Run("全チャンクが該当なしなら統合せず既定文言を返す", func(t *testing.T) {
		synth := &recordingSynth{respond: func(string) (string, error) {
			return "No relevant information.", nil
		}}
		resolver, _, _ := newTestResolver(synth, staticDocs{})

		res := resolver.Answer(ctx, q, chunks)

		assert.Equal(t, StrategyMapReduce, res.Strategy)
		assert.Equal(t, InformationNotAvailable, res.Answer)
		assert.True(t, res.Degraded)
		assert.Equal(t, 3, res.Calls)
		for _, p := range synth.Prompts() {
			assert.NotContains(t, p, "Provide a final, synthesized answer")
		}
	})

	t.Run("有効な部分回答だけを統合する", func(t *testing.T) {
		synth := &recordingSynth{respond: func(prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "Provide a final, synthesized answer"):
				return "Merged answer.", nil
			case strings.Contains(prompt, "part one"):
				return "Launched satellite.", nil
			case strings.Contains(prompt, "part two"):
				return "no relevant information", nil
			default:
				return "Won a NASA contract.", nil
			}
		}}
		resolver, _, _ := newTestResolver(synth, staticDocs{})

		res := resolver.Answer(ctx, q, chunks)

		assert.Equal(t, "Merged answer.", res.Answer)
		assert.False(t, res.Degraded)
		assert.Equal(t, 4, res.Calls)
		prompts := synth.Prompts()
		require.Len(t, prompts, 4)
		merge := prompts[3]
		assert.Contains(t, merge, "Launched satellite.\nWon a NASA contract.")
		assert.NotContains(t, merge, "no relevant information")
		assert.Contains(t, prompts[0], "Company Data (Part 1/3)")
	})

	t.Run("失敗したチャンクは読み飛ばす", func(t *testing.T) {
		synth := &recordingSynth{respond: func(prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "Provide a final, synthesized answer"):
				return "Only part three.", nil
			case strings.Contains(prompt, "part three"):
				return "Useful fact.", nil
			default:
				return "", errors.New("rate limited")
			}
		}}
		resolver, _, _ := newTestResolver(synth, staticDocs{})

		res := resolver.Answer(ctx, q, chunks)
		assert.Equal(t, "Only part three.", res.Answer)
		assert.NoError(t, res.Err)
	})

	t.Run("統合の失敗はエラー文言になる", func(t *testing.T) {
		synth := &recordingSynth{respond: func(prompt string) (string, error) {
			if strings.Contains(prompt, "Provide a final, synthesized answer") {
				return "", errors.New("quota exceeded")
			}
			return "fact", nil
		}}
		resolver, _, _ := newTestResolver(synth, staticDocs{})

		res := resolver.Answer(ctx, q, chunks)
		assert.Equal(t, "Error synthesizing answer: quota exceeded", res.Answer)
		assert.True(t, res.Degraded)
	})
}

func TestAnswerResolver_SupplementaryContext(t *testing.T) {
	ctx := context.Background()
	synth := &recordingSynth{respond: func(string) (string, error) { return "ok", nil }}
	resolver, _, _ := newTestResolver(synth, staticDocs{}, WithSupplementaryContext("OUR PRODUCT SHEET"))

	resolver.Answer(ctx, Question{ID: "klear_fit", Title: "Fit", Instruction: "assess fit"}, []Chunk{{Text: "data"}})
	resolver.Answer(ctx, Question{ID: "recent_news", Title: "News", Instruction: "news"}, []Chunk{{Text: "data"}})

	prompts := synth.Prompts()
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[0], "OUR PRODUCT SHEET")
	assert.NotContains(t, prompts[2], "OUR PRODUCT SHEET")
}

func TestAnswerResolver_RetryOverwrites(t *testing.T) {
	ctx := context.Background()
	q := Question{ID: "company_description", Title: "Company Description", Instruction: "describe"}

	answers := []string{"first answer", "second answer"}
	call := 0
	synth := SynthesisFunc(func(context.Context, string) (string, error) {
		out := answers[call]
		call++
		return out, nil
	})
	resolver, store, writer := newTestResolver(synth, staticDocs{{Name: "acme_website.txt", Content: "Acme"}})

	resolver.Resolve(ctx, q)
	resolver.Resolve(ctx, q)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "second answer", all[q.ID].Answer)
	assert.Contains(t, writer.Last(), "## company_description\nsecond answer\n")
	assert.NotContains(t, writer.Last(), "first answer")
}

func TestAnswerResolver_PersistFailure(t *testing.T) {
	ctx := context.Background()
	synth := SynthesisFunc(func(context.Context, string) (string, error) { return "text", nil })
	resolver, store, writer := newTestResolver(synth, staticDocs{})
	store.failPut = true

	res := resolver.Resolve(ctx, Question{ID: "recent_news", Title: "News", Instruction: "news"})

	assert.False(t, res.Stored)
	// 保存できなかった回答はプレースホルダのまま
	assert.Contains(t, writer.Last(), "## recent_news\n#\n")
}

func TestIsNoRelevantInformation(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{in: "No relevant information", want: true},
		{in: "no relevant information.", want: true},
		{in: "  \"No Relevant Information\"  ", want: true},
		{in: "", want: true},
		{in: "No relevant information about revenue, but they hired 20 people.", want: false},
		{in: "Acme launched a satellite.", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNoRelevantInformation(tt.in))
		})
	}
}
