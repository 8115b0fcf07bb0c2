package teardown

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	// NoDataText はドキュメントが1件もない場合に返す番兵チャンクの本文
	NoDataText = "No company data available"

	// NoRelevantInformation はチャンク単位の回答で「該当情報なし」を示す番兵
	NoRelevantInformation = "No relevant information"

	// InformationNotAvailable は有効な部分回答が残らなかった場合の最終回答
	InformationNotAvailable = "Information not available"

	// Placeholder は回答がまだ存在しないセクションに描画するマーカー
	Placeholder = "#"
)

// Question はテンプレートの1設問を表す
type Question struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Instruction string `json:"instruction" yaml:"instruction"`
}

// Document はワークスペースから読み込んだ収集テキストを表す
// 解決ごとに読み直すためキャッシュしない
type Document struct {
	Name    string
	Content string
}

// Chunk はトークン予算に収まるよう連結されたドキュメント群
type Chunk struct {
	Text      string
	Documents []string
	Truncated bool
	Tokens    int
}

// IsSentinel はドキュメントが存在しない場合の番兵チャンクかどうかを返す
func (c Chunk) IsSentinel() bool {
	return len(c.Documents) == 0 && c.Text == NoDataText
}

// AnswerRecord は設問ごとに1件だけ保持される回答
type AnswerRecord struct {
	QuestionID  string    `json:"question_id"`
	Answer      string    `json:"answer"`
	Timestamp   time.Time `json:"timestamp"`
	CompanyName string    `json:"company_name"`
}

// Strategy は設問の回答解決方式
type Strategy string

const (
	// StrategyDirect は先頭チャンクのみで1回だけ合成する
	StrategyDirect Strategy = "direct"
	// StrategyMapReduce はチャンクごとに抽出し、最後に統合する
	StrategyMapReduce Strategy = "map_reduce"
)

// DefaultDirectQuestionIDs は先頭チャンクのみで回答する設問ID
var DefaultDirectQuestionIDs = []string{"the_company_name", "company_description", "industry"}

// EstimateTokens は文字数÷4でトークン数を概算する
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// SanitizeName は会社名をファイル名に使える形へ変換する
// 英数字と "-_." 以外は取り除き、小文字化する。何も残らない場合は "company" を返す
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	if b.Len() == 0 {
		return "company"
	}
	return b.String()
}
