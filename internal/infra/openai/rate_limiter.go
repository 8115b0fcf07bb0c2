package openai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jinford/teardown/internal/core/teardown"
)

// RateLimiter は1分あたりの呼び出し回数と同時実行数を制限する
type RateLimiter struct {
	mu sync.Mutex

	maxPerWindow int
	window       time.Duration
	tokens       int
	lastRefill   time.Time
	waiting      int

	// semaphore は同時実行数を制御する
	semaphore chan struct{}
}

// NewRateLimiter は新しいRateLimiterを作成する。maxConcurrent が0以下なら maxRequestsPerMinute を使う
func NewRateLimiter(maxRequestsPerMinute, maxConcurrent int) *RateLimiter {
	return newRateLimiter(maxRequestsPerMinute, maxConcurrent, time.Minute)
}

func newRateLimiter(maxPerWindow, maxConcurrent int, window time.Duration) *RateLimiter {
	if maxPerWindow <= 0 {
		maxPerWindow = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = maxPerWindow
	}
	return &RateLimiter{
		maxPerWindow: maxPerWindow,
		window:       window,
		tokens:       maxPerWindow,
		lastRefill:   time.Now(),
		semaphore:    make(chan struct{}, maxConcurrent),
	}
}

// Wait は実行権限を取得するまで待機する。
// 成功した場合は Release を必ず呼ぶこと
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case rl.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for {
		rl.refill()
		if rl.tokens > 0 {
			rl.tokens--
			return nil
		}

		rl.waiting++
		wait := time.Until(rl.lastRefill.Add(rl.window))
		if wait <= 0 || wait > time.Second {
			wait = time.Second
		}
		rl.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			rl.mu.Lock()
			rl.waiting--
			<-rl.semaphore
			return ctx.Err()
		}

		rl.mu.Lock()
		rl.waiting--
	}
}

// Release は実行権限を解放する
func (rl *RateLimiter) Release() {
	<-rl.semaphore
}

// refill は呼び出し側でロックを取得していることを前提とする
func (rl *RateLimiter) refill() {
	elapsed := time.Since(rl.lastRefill)
	if elapsed < rl.window {
		return
	}
	windows := int(elapsed / rl.window)
	rl.tokens = min(rl.tokens+windows*rl.maxPerWindow, rl.maxPerWindow)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(windows) * rl.window)
}

// Status は現在の状態を返す
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	return RateLimiterStatus{
		MaxRequestsPerMinute: rl.maxPerWindow,
		AvailableTokens:      rl.tokens,
		WaitingRequests:      rl.waiting,
		ActiveRequests:       len(rl.semaphore),
	}
}

// RateLimiterStatus はレート制限の状態
type RateLimiterStatus struct {
	MaxRequestsPerMinute int
	AvailableTokens      int
	WaitingRequests      int
	ActiveRequests       int
}

// String はステータスを文字列表現で返す
func (s RateLimiterStatus) String() string {
	return fmt.Sprintf(
		"RateLimiter: max=%d/min, available=%d, waiting=%d, active=%d",
		s.MaxRequestsPerMinute,
		s.AvailableTokens,
		s.WaitingRequests,
		s.ActiveRequests,
	)
}

// ThrottledSynthesizer はレート制限付きのテキスト合成
type ThrottledSynthesizer struct {
	next    teardown.TextSynthesis
	limiter *RateLimiter
}

// NewThrottledSynthesizer はレート制限付きのテキスト合成を作成する
func NewThrottledSynthesizer(next teardown.TextSynthesis, limiter *RateLimiter) *ThrottledSynthesizer {
	return &ThrottledSynthesizer{next: next, limiter: limiter}
}

// Synthesize はレート制限に従って合成を呼び出す
func (t *ThrottledSynthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}
	defer t.limiter.Release()

	return t.next.Synthesize(ctx, prompt)
}

// Status はレート制限の状態を返す
func (t *ThrottledSynthesizer) Status() RateLimiterStatus {
	return t.limiter.Status()
}

var _ teardown.TextSynthesis = (*ThrottledSynthesizer)(nil)
