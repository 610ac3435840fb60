package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/infra/i18n"
)

// WeComNotifier posts markdown reports to a WeCom group-bot webhook.
type WeComNotifier struct {
	webhookURL string
	client     *http.Client
	tr         *i18n.Translator
	log        *zerolog.Logger
}

var _ Channel = (*WeComNotifier)(nil)

type wecomMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Content string `json:"content"`
	} `json:"markdown"`
}

type wecomResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// NewWeComNotifier builds the channel; a nil tr means English.
func NewWeComNotifier(webhookURL string, timeout time.Duration, tr *i18n.Translator, logger *zerolog.Logger) (*WeComNotifier, error) {
	if webhookURL == "" {
		return nil, errors.New("wecom webhook url is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if tr == nil {
		tr = i18n.English()
	}
	l := logger.With().Str("component", "WeComNotifier").Logger()
	return &WeComNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		tr:         tr,
		log:        &l,
	}, nil
}

func (w *WeComNotifier) Name() string { return "wecom" }

func (w *WeComNotifier) SendReport(ctx context.Context, r *model.RunSummary) error {
	return w.post(ctx, renderReport(r, wecomMarkdown{}, w.tr))
}

func (w *WeComNotifier) SendStartup(ctx context.Context, rep *adapter.StartupReport, at time.Time) error {
	return w.post(ctx, renderStartup(rep, at, wecomMarkdown{}, w.tr))
}

func (w *WeComNotifier) post(ctx context.Context, content string) error {
	var msg wecomMessage
	msg.MsgType = "markdown"
	msg.Markdown.Content = content
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wecom: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("wecom: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("wecom: post: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("wecom: http %d: %s", resp.StatusCode, string(raw))
	}
	var out wecomResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("wecom: decode response: %w", err)
	}
	if out.ErrCode != 0 {
		return fmt.Errorf("wecom: errcode %d: %s", out.ErrCode, out.ErrMsg)
	}
	return nil
}
