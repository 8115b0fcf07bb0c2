package teardown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkPlanner_Plan(t *testing.T) {
	planner := NewChunkPlanner(PlannerConfig{MaxTokens: 1100, ScaffoldingTokens: 100})
	// 予算 = 1000 トークン = 4000 文字

	t.Run("ドキュメントが無い場合は番兵チャンクを返す", func(t *testing.T) {
		chunks := planner.Plan(nil, "")
		require.Len(t, chunks, 1)
		assert.Equal(t, NoDataText, chunks[0].Text)
		assert.True(t, chunks[0].IsSentinel())
	})

	t.Run("空のドキュメントは無視される", func(t *testing.T) {
		chunks := planner.Plan([]Document{{Name: "empty.txt", Content: "  \n"}}, "")
		require.Len(t, chunks, 1)
		assert.True(t, chunks[0].IsSentinel())
	})

	t.Run("合計が予算以内なら1チャンクに全ドキュメントが入る", func(t *testing.T) {
		docs := []Document{
			{Name: "b_contracts.txt", Content: strings.Repeat("c", 1000)},
			{Name: "acme_website.txt", Content: strings.Repeat("w", 1000)},
			{Name: "misc.txt", Content: strings.Repeat("m", 1000)},
		}
		chunks := planner.Plan(docs, "")
		require.Len(t, chunks, 1)
		assert.Equal(t, []string{"acme_website.txt", "b_contracts.txt", "misc.txt"}, chunks[0].Documents)
		assert.False(t, chunks[0].Truncated)
		assert.Equal(t, 750, chunks[0].Tokens)
		assert.True(t, strings.HasPrefix(chunks[0].Text, "--- acme_website.txt ---\n"))
		assert.Contains(t, chunks[0].Text, "\n\n--- b_contracts.txt ---\n")
	})

	t.Run("予算を超える単一ドキュメントは切り詰められた専用チャンクになる", func(t *testing.T) {
		docs := []Document{{Name: "huge.txt", Content: strings.Repeat("x", 10000)}}
		chunks := planner.Plan(docs, "")
		require.Len(t, chunks, 1)
		assert.True(t, chunks[0].Truncated)
		assert.Equal(t, []string{"huge.txt"}, chunks[0].Documents)
		assert.True(t, strings.HasPrefix(chunks[0].Text, "--- huge.txt (truncated) ---\n"))
		body := strings.TrimPrefix(chunks[0].Text, "--- huge.txt (truncated) ---\n")
		assert.Len(t, body, 4000)
	})

	t.Run("予算を超えた時点でチャンクを閉じる", func(t *testing.T) {
		docs := []Document{
			{Name: "a_news.txt", Content: strings.Repeat("a", 3000)},
			{Name: "b_news.txt", Content: strings.Repeat("b", 3000)},
			{Name: "c_news.txt", Content: strings.Repeat("c", 1000)},
		}
		chunks := planner.Plan(docs, "")
		require.Len(t, chunks, 2)
		assert.Equal(t, []string{"a_news.txt"}, chunks[0].Documents)
		assert.Equal(t, []string{"b_news.txt", "c_news.txt"}, chunks[1].Documents)
	})

	t.Run("巨大ドキュメントの前に詰めかけのチャンクを閉じて優先順を保つ", func(t *testing.T) {
		docs := []Document{
			{Name: "acme_website.txt", Content: strings.Repeat("w", 400)},
			{Name: "spacenews_acme.txt", Content: strings.Repeat("s", 20000)},
			{Name: "zzz.txt", Content: strings.Repeat("z", 400)},
		}
		chunks := planner.Plan(docs, "")
		require.Len(t, chunks, 3)
		assert.Equal(t, []string{"acme_website.txt"}, chunks[0].Documents)
		assert.True(t, chunks[1].Truncated)
		assert.Equal(t, []string{"spacenews_acme.txt"}, chunks[1].Documents)
		assert.Equal(t, []string{"zzz.txt"}, chunks[2].Documents)
	})

	t.Run("同順位はファイル名の辞書順で決まる", func(t *testing.T) {
		docs := []Document{
			{Name: "zeta_news.txt", Content: "z news"},
			{Name: "alpha_news.txt", Content: "a news"},
			{Name: "unranked.txt", Content: "other"},
			{Name: "globenewswire_acme.txt", Content: "press"},
		}
		first := planner.Plan(docs, "")
		// 入力順を変えても結果は同じ
		reversed := []Document{docs[3], docs[2], docs[1], docs[0]}
		second := planner.Plan(reversed, "")

		require.Len(t, first, 1)
		// globenewswire は "news" に先に一致する
		assert.Equal(t, []string{"alpha_news.txt", "globenewswire_acme.txt", "zeta_news.txt", "unranked.txt"}, first[0].Documents)
		assert.Equal(t, first, second)
	})
}

func TestChunkPlanner_Budget(t *testing.T) {
	planner := NewChunkPlanner(DefaultPlannerConfig())

	assert.Equal(t, 11000, planner.Budget(""))
	assert.Equal(t, 10000, planner.Budget(strings.Repeat("k", 4000)))

	// 補足コンテキストが大きすぎても下限で止まる
	assert.Equal(t, 500, planner.Budget(strings.Repeat("k", 100000)))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("12345678"))
	// マルチバイト文字も1文字として数える
	assert.Equal(t, 1, EstimateTokens("あいうえ"))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "空白と記号を除去して小文字化", in: "Acme Corp, Inc.", want: "acmecorpinc."},
		{name: "ハイフンとアンダースコアは保持", in: "Rocket-Lab_USA", want: "rocket-lab_usa"},
		{name: "何も残らない場合", in: "!!!", want: "company"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}
