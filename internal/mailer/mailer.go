// Package mailer はメンバーへの通知メール送信を提供する。
// Resend互換のHTTP APIへ送信するSenderと、API未設定時にログへ出力するSenderを含む。
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxErrorBody はエラーレスポンスから読み取る最大バイト数。
const maxErrorBody = 4 << 10

// Message は送信するメール1通を表す。
type Message struct {
	Template string // メトリクスとログに使うテンプレート名
	To       string
	Subject  string
	HTML     string
	Text     string
}

// Sender はメール送信のインターフェース。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Recorder は送信結果を記録する。
type Recorder interface {
	RecordMailSent(template string, ok bool)
}

// HTTPConfig はHTTPSenderの設定。
// 再送関連の値が0の場合はデフォルト値を使う。
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	From     string

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// HTTPSender はResend互換のメール送信APIのクライアント。
type HTTPSender struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     HTTPConfig
	recorder   Recorder
}

// NewHTTPSender はHTTPSenderを生成する。
// httpClientには内部ネットワーク宛ての接続を拒否するクライアントを渡す。
func NewHTTPSender(httpClient *http.Client, logger *slog.Logger, config HTTPConfig, recorder Recorder) *HTTPSender {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaultInitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaultMaxBackoff
	}
	return &HTTPSender{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		recorder:   recorder,
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send はメールを送信する。429と5xx、通信エラーは指数バックオフで再送し、
// それ以外の2xx以外のステータスは即座にエラーとして返す。
func (s *HTTPSender) Send(ctx context.Context, msg Message) (err error) {
	defer func() {
		if s.recorder != nil {
			s.recorder.RecordMailSent(msg.Template, err == nil)
		}
	}()

	if msg.To == "" {
		return fmt.Errorf("宛先が指定されていません")
	}

	body, err := json.Marshal(sendRequest{
		From:    s.config.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	for attempt := 1; ; attempt++ {
		id, result, sendErr := s.post(ctx, msg.Template, body)
		switch result {
		case sendResultOK:
			s.logger.Info("mail sent",
				slog.String("template", msg.Template),
				slog.String("message_id", id),
				slog.Int("attempts", attempt),
			)
			return nil
		case sendResultFail:
			return sendErr
		}

		if attempt >= s.config.MaxAttempts || ctx.Err() != nil {
			return sendErr
		}
		delay := backoffDelay(attempt-1, s.config.InitialBackoff, s.config.MaxBackoff)
		s.logger.Warn("メール送信を再試行します",
			slog.String("template", msg.Template),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if err := sleepContext(ctx, delay); err != nil {
			return fmt.Errorf("メール送信の再試行が中断されました: %w", err)
		}
	}
}

// post は送信APIを1回呼び出す。
func (s *HTTPSender) post(ctx context.Context, template string, body []byte) (string, sendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", sendResultFail, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("メール送信APIの呼び出しに失敗しました",
			slog.String("template", template),
			slog.String("error", err.Error()),
		)
		return "", sendResultRetry, fmt.Errorf("メール送信APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	result := classifyStatus(resp.StatusCode)
	if result != sendResultOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.logger.Error("メール送信APIがエラーステータスを返しました",
			slog.String("template", template),
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", string(detail)),
		)
		return "", result, fmt.Errorf("メール送信APIがステータス %d を返しました", resp.StatusCode)
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// 送信自体は受け付けられている
		s.logger.Warn("メール送信APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return parsed.ID, sendResultOK, nil
}

// LogSender はメールを送信せずにログへ出力する。
// 送信APIが設定されていない環境で使う。
type LogSender struct {
	logger   *slog.Logger
	recorder Recorder
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger, recorder Recorder) *LogSender {
	return &LogSender{logger: logger, recorder: recorder}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("mail delivery disabled, message logged",
		slog.String("template", msg.Template),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	if s.recorder != nil {
		s.recorder.RecordMailSent(msg.Template, true)
	}
	return nil
}

var (
	_ Sender = (*HTTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
