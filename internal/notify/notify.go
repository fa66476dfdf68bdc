// Package notify delivers fleet status and event notifications to a
// Discord-compatible webhook. The status message is edited in place so the
// channel carries a single live dashboard instead of a scrolling feed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Embed colors.
const (
	ColorInfo    = 0x3A82F6
	ColorSuccess = 0x22C55E
	ColorWarning = 0xF59E0B
	ColorError   = 0xEF4444
)

type EmbedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Embed is one Discord rich embed.
type Embed struct {
	Author      *EmbedAuthor `json:"author,omitempty"`
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// Notifier publishes fleet status and one-off event messages.
type Notifier interface {
	// PublishStatus replaces the live status embed.
	PublishStatus(ctx context.Context, embed Embed) error
	// Notify posts a one-off event embed.
	Notify(ctx context.Context, title, message string, color int) error
}

// Webhook is a Notifier backed by a Discord webhook URL.
type Webhook struct {
	URL    string
	Client *http.Client

	mu        sync.Mutex
	messageID string
}

// NewWebhook returns a webhook notifier, or a no-op notifier when url is
// empty.
func NewWebhook(url string) Notifier {
	if url == "" {
		return Nop{}
	}
	return &Webhook{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *Webhook) PublishStatus(ctx context.Context, embed Embed) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.messageID != "" {
		status, err := w.send(ctx, http.MethodPatch,
			fmt.Sprintf("%s/messages/%s", w.URL, w.messageID), embed, nil)
		if err == nil && status < 300 {
			return nil
		}
		// Message was deleted or the edit failed: fall through and post
		// a fresh one.
		w.messageID = ""
	}

	var created struct {
		ID string `json:"id"`
	}
	status, err := w.send(ctx, http.MethodPost, w.URL+"?wait=true", embed, &created)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	w.messageID = created.ID
	return nil
}

func (w *Webhook) Notify(ctx context.Context, title, message string, color int) error {
	status, err := w.send(ctx, http.MethodPost, w.URL, Embed{
		Title:       title,
		Description: message,
		Color:       color,
	}, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}

func (w *Webhook) send(ctx context.Context, method, url string, embed Embed, out any) (int, error) {
	body, err := json.Marshal(map[string]any{"embeds": []Embed{embed}})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) PublishStatus(context.Context, Embed) error        { return nil }
func (Nop) Notify(context.Context, string, string, int) error { return nil }
