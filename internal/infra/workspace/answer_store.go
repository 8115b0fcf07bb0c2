package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jinford/teardown/internal/core/teardown"
)

// FileAnswerStore は設問ごとの回答を JSON ファイルとして保存する。
// 参照は同じ書き込み経路で更新するメモリ上の索引から返し、ファイル名の解析には頼らない
type FileAnswerStore struct {
	dir      string
	safeName string
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	index map[string]teardown.AnswerRecord
}

// OpenAnswerStore はディレクトリ内の既存回答を読み込んでストアを開く
func OpenAnswerStore(dir, companyName string, logger *slog.Logger) (*FileAnswerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileAnswerStore{
		dir:      dir,
		safeName: teardown.SanitizeName(companyName),
		logger:   logger,
		now:      time.Now,
		index:    make(map[string]teardown.AnswerRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load は既存の回答ファイルを内容の question_id で索引に登録する
func (s *FileAnswerStore) load() error {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.safeName+"_*.json"))
	if err != nil {
		return fmt.Errorf("failed to list answer files: %w", err)
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("回答ファイルの読み込みに失敗", "path", path, "error", err)
			continue
		}
		var rec teardown.AnswerRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.QuestionID == "" {
			s.logger.Warn("回答ファイルを無視", "path", path, "error", err)
			continue
		}
		if path != s.pathFor(rec.QuestionID) {
			continue
		}
		s.index[rec.QuestionID] = rec
	}
	return nil
}

func (s *FileAnswerStore) pathFor(questionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", s.safeName, questionID))
}

// Put は回答ファイルをアトミックに置き換え、成功した場合のみ索引を更新する
func (s *FileAnswerStore) Put(ctx context.Context, questionID, answer, companyName string) (teardown.AnswerRecord, error) {
	if strings.TrimSpace(questionID) == "" || strings.ContainsAny(questionID, `/\`) {
		return teardown.AnswerRecord{}, fmt.Errorf("invalid question id: %q", questionID)
	}
	rec := teardown.AnswerRecord{
		QuestionID:  questionID,
		Answer:      answer,
		Timestamp:   s.now(),
		CompanyName: companyName,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return teardown.AnswerRecord{}, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteFileAtomic(s.pathFor(questionID), data, 0o644); err != nil {
		return teardown.AnswerRecord{}, err
	}
	s.index[questionID] = rec
	return rec, nil
}

// All は索引のコピーを返す
func (s *FileAnswerStore) All(ctx context.Context) (map[string]teardown.AnswerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]teardown.AnswerRecord, len(s.index))
	for k, v := range s.index {
		out[k] = v
	}
	return out, nil
}

var _ teardown.AnswerStore = (*FileAnswerStore)(nil)
