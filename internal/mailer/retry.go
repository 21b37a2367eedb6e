package mailer

import (
	"context"
	"net/http"
	"time"
)

// sendResult はHTTPステータスコードに基づく送信結果の分類。
type sendResult int

const (
	// sendResultOK は送信APIが受け付けた（2xx）。
	sendResultOK sendResult = iota
	// sendResultRetry は時間をおけば成功しうるステータス（429/5xx）。
	sendResultRetry
	// sendResultFail は再送しても成功しないステータス（4xxなど）。
	sendResultFail
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// classifyStatus はHTTPステータスコードを送信結果に分類する。
func classifyStatus(statusCode int) sendResult {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return sendResultOK
	case statusCode == http.StatusTooManyRequests:
		return sendResultRetry
	case statusCode >= 500:
		return sendResultRetry
	default:
		return sendResultFail
	}
}

// backoffDelay は再送回数に基づく指数バックオフ遅延を計算する。
// initialから2倍ずつ増加し、maxで頭打ちになる。
func backoffDelay(retry int, initial, max time.Duration) time.Duration {
	delay := initial
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	return delay
}

// sleepContext はdの経過かctxの終了まで待つ。ctxが先に終了した場合はその理由を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
