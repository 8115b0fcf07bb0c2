package job_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/teardown/internal/core/job"
	"github.com/jinford/teardown/internal/core/teardown"
	"github.com/jinford/teardown/internal/infra/memory"
	"github.com/jinford/teardown/internal/infra/workspace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fileCollector は固定のファイルをワークスペースへ書き込む
type fileCollector struct {
	name  string
	files map[string]string
	delay time.Duration
	done  atomic.Bool
}

func (c *fileCollector) Name() string { return c.name }

func (c *fileCollector) Collect(ctx context.Context, target job.Target, dir string) job.CollectResult {
	defer c.done.Store(true)
	time.Sleep(c.delay)
	res := job.CollectResult{Collector: c.name}
	for name, content := range c.files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			res.Err = err
			res.Status = "write failed"
			return res
		}
		res.Files = append(res.Files, name)
	}
	res.Status = "ok"
	return res
}

type failingCollector struct{}

func (failingCollector) Name() string { return "failing" }

func (failingCollector) Collect(ctx context.Context, target job.Target, dir string) job.CollectResult {
	return job.CollectResult{Collector: "failing", Status: "source unavailable", Err: errors.New("503")}
}

type panickingCollector struct{}

func (panickingCollector) Name() string { return "panicking" }

func (panickingCollector) Collect(ctx context.Context, target job.Target, dir string) job.CollectResult {
	panic("selector exploded")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []job.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e job.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Statuses() []job.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]job.Status, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Status)
	}
	return out
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "question.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const descriptionTemplate = `[{"id":"company_description","title":"Company Description","instruction":"describe the company"}]`

func newController(t *testing.T, synth teardown.TextSynthesis, cfg job.ControllerConfig, opts ...job.ControllerOption) (*job.Controller, *memory.Repository, *workspace.Manager) {
	t.Helper()
	repo := memory.NewRepository()
	ws := workspace.NewManager(filepath.Join(t.TempDir(), "output"), discardLogger())
	opts = append([]job.ControllerOption{
		job.WithControllerConfig(cfg),
		job.WithControllerLogger(discardLogger()),
	}, opts...)
	return job.NewController(repo, ws, synth, opts...), repo, ws
}

func testConfig(templatePath string) job.ControllerConfig {
	cfg := job.DefaultControllerConfig()
	cfg.TemplatePath = templatePath
	return cfg
}

func TestController_EndToEnd(t *testing.T) {
	ctx := context.Background()
	synth := teardown.SynthesisFunc(func(ctx context.Context, prompt string) (string, error) {
		return "Acme is a test company.", nil
	})
	collector := &fileCollector{
		name:  "website",
		files: map[string]string{"acme_website.txt": strings.Repeat("A", 50)},
	}
	publisher := &recordingPublisher{}
	ctrl, repo, _ := newController(t, synth, testConfig(writeTemplate(t, descriptionTemplate)),
		job.WithCollectors(collector),
		job.WithEventPublisher(publisher),
	)

	submitted, err := ctrl.Submit(ctx, "Acme", "https://acme.test")
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, submitted.Status)
	ctrl.Wait()

	view, err := ctrl.Status(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, view.Job.Status)
	assert.False(t, view.Active)
	assert.Empty(t, view.Job.ErrorMessage)
	require.True(t, view.ReportAvailable)
	assert.Equal(t, "# Company Teardown: Acme\n\n## company_description\nAcme is a test company.\n\n", view.Report)

	store, err := workspace.OpenAnswerStore(view.Job.WorkspacePath, "Acme", discardLogger())
	require.NoError(t, err)
	answers, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "Acme is a test company.", answers["company_description"].Answer)

	td, err := repo.GetTeardownByJob(ctx, submitted.ID)
	require.NoError(t, err)
	record, ok := td.Get()
	require.True(t, ok)
	assert.Equal(t, view.Report, record.Content)
	assert.Equal(t, view.Job.ReportPath, record.FilePath)

	assert.Equal(t, []job.Status{job.StatusPending, job.StatusRunning, job.StatusCompleted}, publisher.Statuses())
	assert.Equal(t, 0, ctrl.Table().Len())
}

func TestController_DegradedUnitsDoNotFailJob(t *testing.T) {
	ctx := context.Background()
	synth := teardown.SynthesisFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("model overloaded")
	})
	ctrl, _, _ := newController(t, synth, testConfig(writeTemplate(t, descriptionTemplate)),
		job.WithCollectors(failingCollector{}, panickingCollector{}),
	)

	j, err := job.NewJob("Acme", "https://acme.test", time.Now())
	require.NoError(t, err)
	done, err := ctrl.Run(ctx, j)
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, done.Status)
	view, err := ctrl.Status(ctx, done.ID)
	require.NoError(t, err)
	assert.Contains(t, view.Report, "## company_description\nError processing question: model overloaded\n")
}

func TestController_OrchestrationFailures(t *testing.T) {
	ctx := context.Background()
	synth := teardown.SynthesisFunc(func(ctx context.Context, prompt string) (string, error) { return "x", nil })

	t.Run("テンプレートが読めなければ Failed", func(t *testing.T) {
		ctrl, _, _ := newController(t, synth, testConfig(filepath.Join(t.TempDir(), "missing.json")))
		j, _ := job.NewJob("Acme", "https://acme.test", time.Now())

		done, err := ctrl.Run(ctx, j)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, done.Status)
		assert.Contains(t, done.ErrorMessage, "設問テンプレートの読み込みに失敗")
		assert.NotNil(t, done.CompletedAt)
	})

	t.Run("有効な設問が無ければ Failed", func(t *testing.T) {
		ctrl, _, _ := newController(t, synth, testConfig(writeTemplate(t, `[{"id":"x"}]`)))
		j, _ := job.NewJob("Acme", "https://acme.test", time.Now())

		done, err := ctrl.Run(ctx, j)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, done.Status)
		assert.Contains(t, done.ErrorMessage, teardown.ErrTemplateEmpty.Error())
	})

	t.Run("ワークスペースを作成できなければ Failed", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))
		repo := memory.NewRepository()
		ctrl := job.NewController(repo, workspace.NewManager(blocker, discardLogger()), synth,
			job.WithControllerConfig(testConfig(writeTemplate(t, descriptionTemplate))),
			job.WithControllerLogger(discardLogger()),
		)

		submitted, err := ctrl.Submit(ctx, "Acme", "https://acme.test")
		require.NoError(t, err)
		ctrl.Wait()

		view, err := ctrl.Status(ctx, submitted.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, view.Job.Status)
		assert.Contains(t, view.Job.ErrorMessage, "ワークスペースの作成に失敗")
		assert.False(t, view.ReportAvailable)
	})
}

func TestController_DispatchRejection(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	synth := teardown.SynthesisFunc(func(ctx context.Context, prompt string) (string, error) {
		<-release
		return "ok", nil
	})
	ctrl, _, _ := newController(t, synth, testConfig(writeTemplate(t, descriptionTemplate)))

	j, err := job.NewJob("Acme", "https://acme.test", time.Now())
	require.NoError(t, err)
	require.NoError(t, ctrl.Dispatch(ctx, j))

	t.Run("実行中ジョブの再ディスパッチは拒否される", func(t *testing.T) {
		dup := &job.Job{ID: j.ID, CompanyName: "Acme", CompanyURL: "https://acme.test", Status: job.StatusPending}
		assert.ErrorIs(t, ctrl.Dispatch(ctx, dup), job.ErrJobAlreadyActive)
	})

	t.Run("実行中は部分レポートを参照できる", func(t *testing.T) {
		require.Eventually(t, func() bool {
			view, err := ctrl.Status(ctx, j.ID)
			return err == nil && view.ReportAvailable
		}, 2*time.Second, 10*time.Millisecond)

		view, err := ctrl.Status(ctx, j.ID)
		require.NoError(t, err)
		assert.True(t, view.Active)
		assert.Equal(t, job.StatusRunning, view.Job.Status)
		assert.Contains(t, view.Report, "## company_description\n#\n")
	})

	close(release)
	ctrl.Wait()

	t.Run("終端状態のジョブの再ディスパッチは拒否される", func(t *testing.T) {
		view, err := ctrl.Status(ctx, j.ID)
		require.NoError(t, err)
		require.Equal(t, job.StatusCompleted, view.Job.Status)
		assert.ErrorIs(t, ctrl.Dispatch(ctx, view.Job), job.ErrInvalidTransition)
	})

	t.Run("存在しないジョブ", func(t *testing.T) {
		_, err := ctrl.Status(ctx, "job_missing")
		assert.ErrorIs(t, err, job.ErrJobNotFound)
	})
}

func TestController_WaitsForCollectorsBeforeTerminal(t *testing.T) {
	ctx := context.Background()
	synth := teardown.SynthesisFunc(func(ctx context.Context, prompt string) (string, error) { return "fast", nil })
	slow := &fileCollector{
		name:  "slow",
		files: map[string]string{"slow_news.txt": "late news"},
		delay: 100 * time.Millisecond,
	}
	cfg := testConfig(writeTemplate(t, descriptionTemplate))
	cfg.OverlapCollection = true
	ctrl, _, _ := newController(t, synth, cfg, job.WithCollectors(slow))

	j, _ := job.NewJob("Acme", "https://acme.test", time.Now())
	done, err := ctrl.Run(ctx, j)
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.True(t, slow.done.Load())
}

func TestController_SubmitValidation(t *testing.T) {
	synth := teardown.SynthesisFunc(func(ctx context.Context, prompt string) (string, error) { return "x", nil })
	ctrl, repo, _ := newController(t, synth, job.DefaultControllerConfig())

	_, err := ctrl.Submit(context.Background(), " ", "https://acme.test")
	assert.ErrorIs(t, err, job.ErrInvalidTarget)

	jobs, err := repo.ListJobs(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestController_ParallelQuestions(t *testing.T) {
	ctx := context.Background()
	var inFlight, peak atomic.Int32
	synth := teardown.SynthesisFunc(func(ctx context.Context, prompt string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return "answer", nil
	})
	cfg := job.DefaultControllerConfig()
	cfg.QuestionConcurrency = 4
	ctrl, _, _ := newController(t, synth, cfg)

	j, _ := job.NewJob("Acme", "https://acme.test", time.Now())
	done, err := ctrl.Run(ctx, j)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, done.Status)

	view, err := ctrl.Status(ctx, done.ID)
	require.NoError(t, err)
	tmpl, err := teardown.DefaultTemplate()
	require.NoError(t, err)
	// 並列に解決しても全セクションがテンプレート順に揃う
	var last int
	for _, id := range tmpl.IDs() {
		idx := strings.Index(view.Report, "## "+id+"\n")
		require.Greater(t, idx, last-1, id)
		last = idx
	}
	assert.NotContains(t, view.Report, "\n#\n")
	assert.Greater(t, peak.Load(), int32(1))
	assert.LessOrEqual(t, peak.Load(), int32(4))
}
