package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/jinford/teardown/internal/core/job"
)

// Repository はプロセス内メモリにジョブとティアダウンを保持する。
// DB を使わないローカル実行やテストで使う
type Repository struct {
	mu        sync.RWMutex
	jobs      map[string]*job.Job
	teardowns map[uuid.UUID]*job.Teardown
}

// NewRepository は空のRepositoryを作成する
func NewRepository() *Repository {
	return &Repository{
		jobs:      make(map[string]*job.Job),
		teardowns: make(map[uuid.UUID]*job.Teardown),
	}
}

func (r *Repository) CreateJob(ctx context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = j.Clone()
	return nil
}

func (r *Repository) UpdateJob(ctx context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; !ok {
		return job.ErrJobNotFound
	}
	r.jobs[j.ID] = j.Clone()
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id string) (mo.Option[*job.Job], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return mo.None[*job.Job](), nil
	}
	return mo.Some(j.Clone()), nil
}

// ListJobs は作成日時の新しい順に返す。limit が0以下なら全件
func (r *Repository) ListJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*job.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) SaveTeardown(ctx context.Context, t *job.Teardown) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *t
	r.teardowns[t.ID] = &c
	return nil
}

func (r *Repository) GetTeardown(ctx context.Context, id uuid.UUID) (mo.Option[*job.Teardown], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.teardowns[id]
	if !ok {
		return mo.None[*job.Teardown](), nil
	}
	c := *t
	return mo.Some(&c), nil
}

func (r *Repository) GetTeardownByJob(ctx context.Context, jobID string) (mo.Option[*job.Teardown], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.teardowns {
		if t.JobID == jobID {
			c := *t
			return mo.Some(&c), nil
		}
	}
	return mo.None[*job.Teardown](), nil
}

// ListTeardowns は作成日時の新しい順に返す。limit が0以下なら全件
func (r *Repository) ListTeardowns(ctx context.Context, limit int) ([]*job.Teardown, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*job.Teardown, 0, len(r.teardowns))
	for _, t := range r.teardowns {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ job.Repository = (*Repository)(nil)
