package ddns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultTelegramURL is the base URL of the Telegram Bot API.
const DefaultTelegramURL = "https://api.telegram.org"

// maxMessageLength is the Telegram limit for the text of one message.
const maxMessageLength = 4096

// Telegram implements ddns.Notifier with the sendMessage method of the Telegram Bot API.
//
// It should be constructed with NewTelegram.
type Telegram struct {
	baseURL    string
	botToken   string
	chatID     string
	httpClient *http.Client
}

// NewTelegram returns a notifier that posts to chatID as the bot identified by botToken.
// An empty baseURL selects DefaultTelegramURL.
func NewTelegram(baseURL, botToken, chatID string) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramURL
	}
	return &Telegram{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		botToken: botToken,
		chatID:   chatID,
	}
}

func (t *Telegram) SetHTTPClient(httpClient *http.Client) { t.httpClient = httpClient }

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify sends text, truncated to the Telegram message limit.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: truncate(text, maxMessageLength)})
	if err != nil {
		return fmt.Errorf("error encoding message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/bot"+t.botToken+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		// the URL holds the bot token, keep it out of the error
		return errors.New("error creating telegram request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := t.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		// *url.Error carries the full URL, bot token included
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var res sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("error decoding telegram response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode/100 != 2 || !res.OK {
		return fmt.Errorf("telegram returned %s: %s", resp.Status, res.Description)
	}
	return nil
}

// truncate shortens s to at most n characters.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string) error { return nil }

// changeMessage is the notification text for one completed update.
func changeMessage(ip string, hostnames []string) string {
	var b strings.Builder
	b.WriteString("-----------------------------------------\n")
	b.WriteString("DNS Updater\n")
	b.WriteString("-----------------------------------------\n\n")
	b.WriteString("IP Update Detected!\n\n")
	b.WriteString("-- IP --\n")
	b.WriteString(ip)
	b.WriteString("\n\nName - ")
	b.WriteString(strings.Join(hostnames, ","))
	return b.String()
}
