package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts through the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a sender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURL points the sender at another Bot API host.
func (t *TelegramSender) WithBaseURL(u string) *TelegramSender {
	t.baseURL = strings.TrimRight(u, "/")
	return t
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification"`
	DisablePreview      bool   `json:"disable_web_page_preview"`
}

type telegramResult struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts the title in bold and the body as a preformatted block so
// addresses are not mangled by Markdown. Non-severe alerts are delivered
// silently.
func (t *TelegramSender) Send(ctx context.Context, alert Alert) error {
	body, err := sonnet.Marshal(telegramMessage{
		ChatID:              t.chatID,
		Text:                fmt.Sprintf("*%s*\n```\n%s\n```", alert.Title, alert.Message),
		ParseMode:           "Markdown",
		DisableNotification: !alert.Severe(),
		DisablePreview:      true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the error.
		return fmt.Errorf("telegram: send message: %w", stripURL(err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var res telegramResult
	if err := sonnet.Unmarshal(raw, &res); err == nil && !res.OK && res.Description != "" {
		return fmt.Errorf("telegram: api error %d: %s", res.ErrorCode, res.Description)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram: status %d", resp.StatusCode)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
