package container

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/teardown/internal/core/job"
	"github.com/jinford/teardown/internal/infra/openai"
	"github.com/jinford/teardown/internal/platform/config"
)

type echoSynth struct{}

func (echoSynth) Synthesize(ctx context.Context, prompt string) (string, error) {
	return "answer", nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		WorkspaceDir: filepath.Join(t.TempDir(), "output"),
		Teardown: config.TeardownConfig{
			MaxTokens:           12000,
			ScaffoldingTokens:   1000,
			QuestionConcurrency: 1,
		},
		Collectors: config.CollectorsConfig{
			Names:       []string{"website", "usaspending"},
			ScrapeDelay: time.Millisecond,
		},
		OpenAI: config.OpenAIConfig{
			MaxRequestsPerMinute: 60,
			MaxConcurrent:        1,
		},
		Cleanup: config.CleanupConfig{Retention: time.Hour},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewContainer_InMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("APIキーがなくても参照系は使える", func(t *testing.T) {
		c, err := NewContainer(ctx, testConfig(t), WithContainerLogger(discardLogger()))
		require.NoError(t, err)
		defer c.Close()

		assert.ErrorIs(t, c.RequireSynthesis(), openai.ErrAPIKeyNotSet)
		assert.Nil(t, c.Limiter)
		assert.Nil(t, c.Admission)

		jobs, err := c.Controller.ListJobs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("APIキーがあればレート制限付きの合成を使う", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.OpenAI.APIKey = "sk-test"
		c, err := NewContainer(ctx, cfg, WithContainerLogger(discardLogger()))
		require.NoError(t, err)
		defer c.Close()

		assert.NoError(t, c.RequireSynthesis())
		require.NotNil(t, c.Limiter)
	})

	t.Run("差し替えた合成でジョブを完了できる", func(t *testing.T) {
		cfg := testConfig(t)
		c, err := NewContainer(ctx, cfg,
			WithContainerLogger(discardLogger()),
			WithContainerSynthesizer(echoSynth{}),
			WithContainerCollectors(),
		)
		require.NoError(t, err)
		defer c.Close()

		j, err := c.Controller.Submit(ctx, "Acme", "https://acme.test")
		require.NoError(t, err)
		c.Controller.Wait()

		view, err := c.Controller.Status(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, view.Job.Status)
		assert.True(t, view.ReportAvailable)
		assert.FileExists(t, view.Job.ReportPath)
	})

	t.Run("未知のコレクタ名はエラー", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Collectors.Names = []string{"website", "linkedin"}
		_, err := NewContainer(ctx, cfg, WithContainerLogger(discardLogger()))
		assert.Error(t, err)
	})
}

func TestControllerConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Teardown.ContextMarker = "acme"
	cfg.Teardown.MaxTokens = 8000
	cfg.Teardown.OverlapCollection = true

	cc := controllerConfig(cfg)
	assert.Equal(t, "acme", cc.ContextMarker)
	assert.Equal(t, 8000, cc.Planner.MaxTokens)
	assert.Equal(t, 500, cc.Planner.MinBudget)
	assert.True(t, cc.OverlapCollection)
}
