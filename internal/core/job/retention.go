package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SweepResult はワークスペース掃除の結果
type SweepResult struct {
	Removed []string
	Failed  map[string]error
}

// Sweeper は終端状態になってから保持期間を過ぎたジョブのワークスペースを削除する。
// 実行中テーブルにあるジョブには触れない
type Sweeper struct {
	repo       Repository
	workspaces Workspaces
	table      *Table
	retention  time.Duration
	scanLimit  int
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper は新しいSweeperを作成する
func NewSweeper(repo Repository, workspaces Workspaces, table *Table, retention time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if table == nil {
		table = NewTable()
	}
	return &Sweeper{
		repo:       repo,
		workspaces: workspaces,
		table:      table,
		retention:  retention,
		scanLimit:  1000,
		logger:     logger,
		now:        time.Now,
	}
}

// Candidates は削除対象のジョブを返す
func (s *Sweeper) Candidates(ctx context.Context) ([]*Job, error) {
	jobs, err := s.repo.ListJobs(ctx, s.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("ジョブ一覧の取得に失敗: %w", err)
	}

	cutoff := s.now().Add(-s.retention)
	var out []*Job
	for _, j := range jobs {
		if !j.Status.IsTerminal() || j.WorkspacePath == "" || j.CompletedAt == nil {
			continue
		}
		if s.table.Contains(j.ID) || j.CompletedAt.After(cutoff) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// Sweep は対象ジョブのワークスペースを削除し、ジョブからパスを外す
func (s *Sweeper) Sweep(ctx context.Context, jobs []*Job) SweepResult {
	res := SweepResult{Failed: make(map[string]error)}
	for _, j := range jobs {
		if s.table.Contains(j.ID) {
			continue
		}
		if err := s.workspaces.Remove(j.WorkspacePath); err != nil {
			res.Failed[j.ID] = err
			s.logger.Warn("ワークスペースの削除に失敗", "jobID", j.ID, "path", j.WorkspacePath, "error", err)
			continue
		}
		s.logger.Info("ワークスペースを削除", "jobID", j.ID, "path", j.WorkspacePath)
		j.WorkspacePath = ""
		if err := s.repo.UpdateJob(ctx, j); err != nil {
			s.logger.Warn("ジョブの更新に失敗", "jobID", j.ID, "error", err)
		}
		res.Removed = append(res.Removed, j.ID)
	}
	return res
}

// Run は対象の抽出と削除をまとめて行う
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	jobs, err := s.Candidates(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	return s.Sweep(ctx, jobs), nil
}

// SweepScheduler は cron 形式のスケジュールで Sweeper を定期実行する
type SweepScheduler struct {
	sweeper  *Sweeper
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewSweepScheduler は新しいSweepSchedulerを作成する
func NewSweepScheduler(sweeper *Sweeper, schedule string) *SweepScheduler {
	return &SweepScheduler{
		sweeper:  sweeper,
		schedule: schedule,
		cron:     cron.New(),
		logger:   sweeper.logger,
	}
}

// Start はスケジューラーを起動する
func (s *SweepScheduler) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		res, err := s.sweeper.Run(context.Background())
		if err != nil {
			s.logger.Error("ワークスペース掃除に失敗しました", "error", err)
			return
		}
		s.logger.Info("ワークスペース掃除が完了しました", "removed", len(res.Removed), "failed", len(res.Failed))
	})
	if err != nil {
		return fmt.Errorf("cron ジョブの登録に失敗: %w", err)
	}

	s.cron.Start()
	s.logger.Info("ワークスペース掃除を開始しました", "schedule", s.schedule)
	return nil
}

// Stop はスケジューラーを停止し、実行中の掃除が終わるまで待つ
func (s *SweepScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("ワークスペース掃除を停止しました")
}
