package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy はリトライの方針
type Policy struct {
	// MaxAttempts は初回実行を含む最大試行回数
	MaxAttempts int

	// InitialInterval は初回リトライまでの待機時間
	InitialInterval time.Duration

	// MaxInterval はリトライ待機時間の上限
	MaxInterval time.Duration
}

// DefaultPolicy はデフォルトのリトライ方針を返す
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// Interval はattempt回目（1始まり）の失敗後に待機する時間を返す。
// InitialIntervalを初項とする指数バックオフで、MaxIntervalを上限とする。
// リトライのタイミングを自前で制御するコールバック型のAPI（collyのOnError等）から使う。
func (p Policy) Interval(attempt int) time.Duration {
	interval := p.InitialInterval
	if interval <= 0 {
		interval = time.Second
	}
	for i := 1; i < attempt; i++ {
		interval *= 2
		if p.MaxInterval > 0 && interval >= p.MaxInterval {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && interval > p.MaxInterval {
		return p.MaxInterval
	}
	return interval
}

// RetryAfterHinter はAPIが指示した待機時間を持つエラーが実装する
type RetryAfterHinter interface {
	RetryAfterHint() (time.Duration, bool)
}

// permanentError はリトライしても回復しないエラーを表す
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent はリトライ対象外のエラーとしてマークする
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do はfnを指数バックオフ付きでリトライ実行する。
// エラーがRetryAfterHinterを実装している場合は、バックオフよりその指示を優先する。
func Do(ctx context.Context, logger *slog.Logger, operation string, policy Policy, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		bo.MaxInterval = policy.MaxInterval
	}
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}

		// APIのretry-after指示があればそちらに従う
		var hinter RetryAfterHinter
		if errors.As(lastErr, &hinter) {
			if after, ok := hinter.RetryAfterHint(); ok && after > wait {
				wait = after
			}
		}

		logger.Warn("リトライ待機中",
			"operation", operation,
			"attempt", attempt,
			"maxAttempts", policy.MaxAttempts,
			"wait", wait.String(),
			"error", lastErr,
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: %d回の試行後に失敗: %w", operation, policy.MaxAttempts, lastErr)
}
