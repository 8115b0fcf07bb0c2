package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status はジョブの状態
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal は終端状態かどうかを返す
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus は文字列を Status に変換する
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(s)); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status: %q", s)
	}
}

var (
	// ErrInvalidTransition は許可されていない状態遷移
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobAlreadyActive は実行中テーブルに既に同じIDがある場合のエラー
	ErrJobAlreadyActive = errors.New("job is already active")

	// ErrJobNotFound はジョブが存在しない場合のエラー
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTarget は会社名またはURLが空の場合のエラー
	ErrInvalidTarget = errors.New("company name and company url are required")
)

// transitions は許可された遷移の一覧。終端状態からの遷移は存在しない
var transitions = map[Status][]Status{
	StatusPending: {StatusRunning},
	StatusRunning: {StatusCompleted, StatusFailed},
}

// CanTransition は from から to への遷移が許可されているかを返す
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Job は1社分のティアダウン生成ジョブ
type Job struct {
	ID            string     `json:"job_id"`
	CompanyName   string     `json:"company_name"`
	CompanyURL    string     `json:"company_url"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	WorkspacePath string     `json:"workspace_path,omitempty"`
	ReportPath    string     `json:"report_path,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// NewJob は Pending 状態の新しいジョブを作成する
func NewJob(companyName, companyURL string, now time.Time) (*Job, error) {
	companyName = strings.TrimSpace(companyName)
	companyURL = strings.TrimSpace(companyURL)
	if companyName == "" || companyURL == "" {
		return nil, ErrInvalidTarget
	}
	return &Job{
		ID:          NewJobID(now),
		CompanyName: companyName,
		CompanyURL:  companyURL,
		Status:      StatusPending,
		CreatedAt:   now,
	}, nil
}

// NewJobID は job_YYYYmmdd_HHMMSS_xxxxxxxx 形式のIDを生成する
func NewJobID(now time.Time) string {
	return fmt.Sprintf("job_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

// Transition は状態を遷移させ、対応するタイムスタンプを記録する
func (j *Job) Transition(to Status, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	switch {
	case to == StatusRunning:
		j.StartedAt = &now
	case to.IsTerminal():
		j.CompletedAt = &now
	}
	return nil
}

// Clone はジョブのコピーを返す
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Duration は実行時間を返す。未開始なら0
func (j *Job) Duration(now time.Time) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return now.Sub(*j.StartedAt)
}

// Teardown は完了したジョブのレポートを保存したレコード
type Teardown struct {
	ID          uuid.UUID `json:"id"`
	JobID       string    `json:"job_id"`
	CompanyName string    `json:"company_name"`
	CompanyURL  string    `json:"company_url"`
	Content     string    `json:"content"`
	FilePath    string    `json:"file_path"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// MissingReportContent はレポートファイルが生成されなかった場合の本文
func MissingReportContent(companyName string) string {
	return fmt.Sprintf("# Company Teardown: %s\n\nTeardown file not generated properly.", companyName)
}

// DownloadName はダウンロード時のファイル名を返す
func (t *Teardown) DownloadName() string {
	return strings.ReplaceAll(strings.ToLower(t.CompanyName), " ", "_") + "_teardown.md"
}
