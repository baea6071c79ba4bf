package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
)

const defaultTelegramAPIBaseURL = "https://api.telegram.org"

// TelegramClient sends Bot API messages.
type TelegramClient struct {
	Token      string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewTelegramClientFromEnv() *TelegramClient {
	return &TelegramClient{
		Token:      strings.TrimSpace(env.GetEnv("BOT_TOKEN", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("TELEGRAM_API_BASE_URL", defaultTelegramAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type inlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64        `json:"chat_id"`
	Text        string       `json:"text"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// SendMessage posts text to chatID, with one URL button when linkURL is set.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text, linkText, linkURL string) error {
	if c.Token == "" {
		return errors.New("BOT_TOKEN is not configured")
	}

	body := sendMessageRequest{ChatID: chatID, Text: text}
	if linkURL != "" {
		if linkText == "" {
			linkText = linkURL
		}
		body.ReplyMarkup = &replyMarkup{InlineKeyboard: [][]inlineButton{{{Text: linkText, URL: linkURL}}}}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(c.APIBaseURL, "/"), c.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		// the token is part of the URL; never let it reach the logs
		return fmt.Errorf("telegram sendMessage to %d: %w", chatID, redactToken(err, c.Token))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("telegram sendMessage to %d: read body: %w", chatID, redactToken(err, c.Token))
	}
	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("telegram sendMessage to %d: status=%d undecodable body", chatID, resp.StatusCode)
	}
	if !out.OK {
		return fmt.Errorf("telegram sendMessage to %d: %d %s", chatID, out.ErrorCode, out.Description)
	}
	return nil
}

func redactToken(err error, token string) error {
	if token == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}
