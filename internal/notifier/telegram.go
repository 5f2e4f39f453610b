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
)

// Messenger delivers the buyer-facing fulfillment message.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
}

var ErrSendFailed = errors.New("telegram_send_failed")

const defaultTelegramAPIURL = "https://api.telegram.org"

type telegramClient struct {
	apiURL   string
	botToken string
	client   *http.Client
}

func newTelegramClient(apiURL, botToken string) *telegramClient {
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		apiURL = defaultTelegramAPIURL
	}
	return &telegramClient{
		apiURL:   apiURL,
		botToken: strings.TrimSpace(botToken),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK bool `json:"ok"`
}

func (c *telegramClient) Send(ctx context.Context, chatID int64, text string) error {
	if c.botToken == "" {
		return ErrSendFailed
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.apiURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ErrSendFailed
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode != http.StatusOK {
		return ErrSendFailed
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || !parsed.OK {
		return ErrSendFailed
	}
	return nil
}
