// Package retry は一時的なインフラ障害だけを対象にした
// 指数バックオフ付きリトライを提供する。
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 5 * time.Second
)

type Executor struct {
	logger *slog.Logger

	//テストで差し替える
	sleep func(time.Duration)
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger, sleep: time.Sleep}
}

// Do は fn を実行し、一時的エラーなら retries 回まで追加で再実行する。
// 恒久的エラー、またはリトライ回数を使い切った場合は最後のエラーをそのまま返す。
// 総実行回数は retries+1 を超えない。
func (e *Executor) Do(ctx context.Context, op string, retries int, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= retries+1; attempt++ {
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !IsTransient(last) || attempt == retries+1 {
			return last
		}

		delay := Backoff(attempt)
		e.logger.Warn("retrying after transient failure",
			"op", op,
			"attempt", attempt,
			"delay", delay.String(),
			"error", last.Error(),
		)
		e.sleep(delay)
	}
	return last
}

// Backoff は min(1s * 2^(attempt-1), 5s)。
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := baseDelay << (attempt - 1)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// IsTransient はリトライしてよいエラーか判定する。
// 対象: ネットワークのタイムアウト/切断、Postgresの接続系・
// シリアライズ失敗・デッドロック・管理者シャットダウン。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01": // admin_shutdown
			return true
		}
		// class 08: connection exceptions
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "08" {
			return true
		}
	}

	return false
}
