package fakeapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Message is one decoded sendMessage call.
type Message struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Telegram records sendMessage calls.
type Telegram struct {
	*httptest.Server

	mu       sync.Mutex
	fail     bool
	paths    []string
	messages []Message
}

func NewTelegram(t testing.TB) *Telegram {
	t.Helper()
	f := &Telegram{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.paths = append(f.paths, r.URL.Path)
		var msg Message
		_ = json.NewDecoder(r.Body).Decode(&msg)
		f.messages = append(f.messages, msg)

		if f.fail {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": map[string]any{"message_id": len(f.messages)}})
	}))
	t.Cleanup(f.Close)
	return f
}

// Fail makes every later call answer 400 with ok false.
func (f *Telegram) Fail() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = true
}

func (f *Telegram) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *Telegram) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}
