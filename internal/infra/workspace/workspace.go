package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jinford/teardown/internal/core/job"
	"github.com/jinford/teardown/internal/core/teardown"
)

// Manager はベースディレクトリ配下にジョブ専用ワークスペースを作成する
type Manager struct {
	baseDir string
	logger  *slog.Logger
}

// NewManager は新しいManagerを作成する
func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{baseDir: baseDir, logger: logger}
}

// BaseDir はベースディレクトリを返す
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Create はジョブIDのディレクトリを作成する。既に存在する場合はエラー
func (m *Manager) Create(ctx context.Context, jobID string) (job.Workspace, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, fmt.Errorf("invalid job id for workspace: %q", jobID)
	}
	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace base: %w", err)
	}
	path := filepath.Join(m.baseDir, jobID)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	m.logger.Debug("ワークスペースを作成", "path", path)
	return m.open(path), nil
}

// Open は既存ワークスペースを参照する
func (m *Manager) Open(path string) job.Workspace {
	return m.open(path)
}

func (m *Manager) open(path string) *Workspace {
	return &Workspace{path: path, logger: m.logger, stores: make(map[string]*FileAnswerStore)}
}

// Remove はベースディレクトリ配下のワークスペースを削除する
func (m *Manager) Remove(path string) error {
	base, err := filepath.Abs(m.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace base: %w", err)
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("refusing to remove path outside workspace base: %s", path)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

// Workspace は1ジョブ専用のディレクトリ
type Workspace struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*FileAnswerStore
}

// Path はディレクトリのパスを返す
func (w *Workspace) Path() string {
	return w.path
}

// Documents はコレクタが書き込んだ .txt ファイルを毎回読み直して返す
func (w *Workspace) Documents(ctx context.Context) ([]teardown.Document, error) {
	entries, err := os.ReadDir(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []teardown.Document
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(w.path, e.Name()))
		if err != nil {
			w.logger.Warn("ドキュメントの読み込みに失敗", "file", e.Name(), "error", err)
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		docs = append(docs, teardown.Document{Name: e.Name(), Content: string(data)})
	}
	return docs, nil
}

// AnswerStore は会社名ごとの回答ストアを返す。同じ会社名には同じストアを返す
func (w *Workspace) AnswerStore(ctx context.Context, companyName string) (teardown.AnswerStore, error) {
	key := teardown.SanitizeName(companyName)

	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.stores[key]; ok {
		return s, nil
	}
	s, err := OpenAnswerStore(w.path, companyName, w.logger)
	if err != nil {
		return nil, err
	}
	w.stores[key] = s
	return s, nil
}

// ReportPath はレポートファイルのパスを返す
func (w *Workspace) ReportPath(companyName string) string {
	return filepath.Join(w.path, teardown.SanitizeName(companyName)+"_teardown.md")
}

// WriteReport はレポート全体をアトミックに書き出す
func (w *Workspace) WriteReport(ctx context.Context, companyName string, content []byte) (string, error) {
	path := w.ReportPath(companyName)
	if err := WriteFileAtomic(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadReport は現在のレポートを読み込む。未生成なら ok=false
func (w *Workspace) ReadReport(companyName string) ([]byte, string, bool, error) {
	path := w.ReportPath(companyName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, path, false, nil
		}
		return nil, path, false, fmt.Errorf("failed to read report: %w", err)
	}
	return data, path, true, nil
}

var (
	_ job.Workspaces = (*Manager)(nil)
	_ job.Workspace  = (*Workspace)(nil)
)
