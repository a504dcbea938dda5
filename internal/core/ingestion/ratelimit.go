package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter はEmbedding API呼び出しのレート制限を管理する
type RateLimiter struct {
	mu sync.Mutex

	// maxRequestsPerMinute は1分あたりの最大リクエスト数
	maxRequestsPerMinute int

	// tokens はトークンバケットの残量
	tokens float64

	// lastRefill は最後にトークンを補充した時刻
	lastRefill time.Time

	// semaphore は並列実行を制御するセマフォ
	semaphore chan struct{}
}

// NewRateLimiter は新しいRateLimiterを作成する
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	if maxRequestsPerMinute <= 0 {
		maxRequestsPerMinute = 60
	}
	return &RateLimiter{
		maxRequestsPerMinute: maxRequestsPerMinute,
		tokens:               float64(maxRequestsPerMinute),
		lastRefill:           time.Now(),
		semaphore:            make(chan struct{}, maxRequestsPerMinute),
	}
}

// Wait はレート制限に従って待機し、実行権限を取得する
// contextがキャンセルされた場合はエラーを返す
func (rl *RateLimiter) Wait(ctx context.Context) error {
	// セマフォで並列度を制御
	select {
	case rl.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for {
		rl.refillTokens()

		if rl.tokens >= 1 {
			rl.tokens--
			return nil
		}

		// 次の補充まで待機
		rl.mu.Unlock()
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			rl.mu.Lock()
			<-rl.semaphore // セマフォを解放
			return ctx.Err()
		}
		rl.mu.Lock()
	}
}

// Release は実行権限を解放する
// Wait()の後に必ずRelease()を呼ぶこと（通常はdefer文で）
func (rl *RateLimiter) Release() {
	<-rl.semaphore
}

// refillTokens は経過時間に応じてトークンを補充する（内部用）
// 呼び出し側でロックを取得していることを前提とする
func (rl *RateLimiter) refillTokens() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}

	refill := elapsed.Minutes() * float64(rl.maxRequestsPerMinute)
	rl.tokens = minFloat(rl.tokens+refill, float64(rl.maxRequestsPerMinute))
	rl.lastRefill = now
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Status は現在の状態を返す（デバッグ・監視用）
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillTokens()

	return RateLimiterStatus{
		MaxRequestsPerMinute: rl.maxRequestsPerMinute,
		AvailableTokens:      int(rl.tokens),
		ActiveRequests:       len(rl.semaphore),
	}
}

// RateLimiterStatus はレート制限の状態
type RateLimiterStatus struct {
	MaxRequestsPerMinute int
	AvailableTokens      int
	ActiveRequests       int
}

// String はステータスを文字列表現で返す
func (s RateLimiterStatus) String() string {
	return fmt.Sprintf("RateLimiter: max=%d/min, available=%d, active=%d",
		s.MaxRequestsPerMinute, s.AvailableTokens, s.ActiveRequests)
}

// ThrottledEmbedder はレート制限付きのEmbedder
type ThrottledEmbedder struct {
	inner       Embedder
	rateLimiter *RateLimiter
}

// NewThrottledEmbedder はレート制限付きのEmbedderを作成する
func NewThrottledEmbedder(inner Embedder, maxRequestsPerMinute int) *ThrottledEmbedder {
	return &ThrottledEmbedder{
		inner:       inner,
		rateLimiter: NewRateLimiter(maxRequestsPerMinute),
	}
}

// Embed はレート制限に従ってEmbeddingを生成する
func (t *ThrottledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	defer t.rateLimiter.Release()

	return t.inner.Embed(ctx, text)
}

// BatchEmbed はレート制限に従ってバッチEmbeddingを生成する。
// バッチ1回をAPI呼び出し1回として数える。
func (t *ThrottledEmbedder) BatchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := t.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	defer t.rateLimiter.Release()

	return t.inner.BatchEmbed(ctx, texts)
}

// ModelName はモデル名を返す
func (t *ThrottledEmbedder) ModelName() string { return t.inner.ModelName() }

// Dimension はベクトル次元数を返す
func (t *ThrottledEmbedder) Dimension() int { return t.inner.Dimension() }

// MaxBatchSize はバッチ処理の最大サイズを返す
func (t *ThrottledEmbedder) MaxBatchSize() int { return t.inner.MaxBatchSize() }

// RateLimiterStatus はレート制限の状態を返す
func (t *ThrottledEmbedder) RateLimiterStatus() RateLimiterStatus {
	return t.rateLimiter.Status()
}

// インターフェース実装の確認
var _ Embedder = (*ThrottledEmbedder)(nil)
