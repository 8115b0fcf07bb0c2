package teardown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]AnswerRecord
	puts    int
	failPut bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]AnswerRecord)}
}

func (s *memStore) Put(ctx context.Context, questionID, answer, companyName string) (AnswerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return AnswerRecord{}, errors.New("disk full")
	}
	rec := AnswerRecord{QuestionID: questionID, Answer: answer, CompanyName: companyName, Timestamp: time.Now()}
	s.records[questionID] = rec
	s.puts++
	return rec, nil
}

func (s *memStore) All(ctx context.Context) (map[string]AnswerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]AnswerRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

type memWriter struct {
	mu     sync.Mutex
	last   string
	writes int
}

func (w *memWriter) WriteReport(ctx context.Context, companyName string, content []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = string(content)
	w.writes++
	return "/tmp/" + SanitizeName(companyName) + "_teardown.md", nil
}

func (w *memWriter) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

type staticDocs []Document

func (d staticDocs) Documents(ctx context.Context) ([]Document, error) {
	return d, nil
}

// recordingSynth はプロンプトを記録し、応答関数の結果を返す
type recordingSynth struct {
	mu      sync.Mutex
	prompts []string
	respond func(prompt string) (string, error)
}

func (s *recordingSynth) Synthesize(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.respond(prompt)
}

func (s *recordingSynth) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
