package job

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/teardown/internal/core/teardown"
)

// Repository はジョブとティアダウンレコードの永続化インターフェース
type Repository interface {
	CreateJob(ctx context.Context, j *Job) error
	UpdateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (mo.Option[*Job], error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)

	SaveTeardown(ctx context.Context, t *Teardown) error
	GetTeardown(ctx context.Context, id uuid.UUID) (mo.Option[*Teardown], error)
	GetTeardownByJob(ctx context.Context, jobID string) (mo.Option[*Teardown], error)
	ListTeardowns(ctx context.Context, limit int) ([]*Teardown, error)
}

// Target は収集対象の会社
type Target struct {
	CompanyName string
	CompanyURL  string
}

// CollectResult は1つのコレクタの実行結果。失敗も値として返す
type CollectResult struct {
	Collector string
	Status    string
	Files     []string
	Err       error
	Duration  time.Duration
}

// OK は収集が成功したかどうかを返す
func (r CollectResult) OK() bool {
	return r.Err == nil
}

// DataCollector は外部ソースからテキストを収集しワークスペースへ書き込む。
// 失敗は内部で捕捉し、CollectResult.Err と状態文字列で表す
type DataCollector interface {
	Name() string
	Collect(ctx context.Context, target Target, workspace string) CollectResult
}

// Workspace はジョブ専用ディレクトリ
type Workspace interface {
	teardown.DocumentSource
	teardown.ReportWriter

	Path() string
	// AnswerStore は会社名に紐づく回答ストアを開く
	AnswerStore(ctx context.Context, companyName string) (teardown.AnswerStore, error)
	// ReadReport は現在のレポートを読み込む。未生成なら ok=false
	ReadReport(companyName string) (content []byte, path string, ok bool, err error)
}

// Workspaces はワークスペースの作成・参照・削除を行う
type Workspaces interface {
	Create(ctx context.Context, jobID string) (Workspace, error)
	Open(path string) Workspace
	Remove(path string) error
}

// Event はジョブの状態遷移イベント
type Event struct {
	JobID        string    `json:"job_id"`
	CompanyName  string    `json:"company_name"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	At           time.Time `json:"at"`
}

// EventPublisher は状態遷移イベントを外部へ通知する
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// ReportArchiver は完了レポートを外部ストレージへ保管する
type ReportArchiver interface {
	Archive(ctx context.Context, j *Job, reportPath string) (string, error)
}

// Metrics はジョブ実行の計測フック
type Metrics interface {
	JobTransitioned(to Status)
	ActiveJobs(n int)
	CollectorFinished(name string, ok bool, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) JobTransitioned(Status)                        {}
func (nopMetrics) ActiveJobs(int)                                {}
func (nopMetrics) CollectorFinished(string, bool, time.Duration) {}
