package job

import (
	"sort"
	"sync"
)

// Table はプロセス内で実行中のジョブを管理する。
// ディスパッチ時に登録し、終端状態へ遷移した時点で取り除く
type Table struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewTable は空のTableを作成する
func NewTable() *Table {
	return &Table{jobs: make(map[string]*Job)}
}

// Insert はジョブを登録する。同じIDが既にあれば ErrJobAlreadyActive を返す
func (t *Table) Insert(j *Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[j.ID]; ok {
		return ErrJobAlreadyActive
	}
	t.jobs[j.ID] = j.Clone()
	return nil
}

// Update は登録済みジョブのスナップショットを更新する。未登録なら何もしない
func (t *Table) Update(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[j.ID]; ok {
		t.jobs[j.ID] = j.Clone()
	}
}

// Remove はジョブを取り除く
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
}

// Get は登録済みジョブのコピーを返す
func (t *Table) Get(id string) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// Contains はIDが登録済みかどうかを返す
func (t *Table) Contains(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[id]
	return ok
}

// List は登録済みジョブを作成日時順に返す
func (t *Table) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

// Len は登録数を返す
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}
