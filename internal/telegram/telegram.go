// Package telegram delivers digests through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/retry"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// MaxMessageLength is the Bot API limit for one text message.
	MaxMessageLength = 4096
	// MaxCaptionLength is the Bot API limit for a photo caption.
	MaxCaptionLength = 1024
)

type Client struct {
	token   string
	baseURL string
	http    *http.Client
	retry   retry.RetryConfig
	log     *slog.Logger
}

var _ news.MessageSender = (*Client)(nil)

func NewClient(token, baseURL string, log *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true},
		log:     log,
	}
}

// WithRetry replaces the retry policy used for every call.
func (c *Client) WithRetry(cfg retry.RetryConfig) *Client {
	c.retry = cfg
	return c
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
}

// IsConnected calls getMe to check the token and the network.
func (c *Client) IsConnected(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getMe"), nil)
	if err != nil {
		return false
	}
	if err := c.do(req); err != nil {
		c.log.Warn("Telegram unreachable", "error", err)
		return false
	}
	return true
}

// Send delivers text as HTML. Texts over the message limit are split on
// paragraph boundaries and sent in order.
func (c *Client) Send(ctx context.Context, recipient, text string) error {
	for i, chunk := range SplitMessage(text, MaxMessageLength) {
		payload := map[string]interface{}{
			"chat_id":                  recipient,
			"text":                     chunk,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		}
		if err := c.postJSON(ctx, "sendMessage", payload); err != nil {
			return fmt.Errorf("send message part %d: %w", i+1, err)
		}
	}
	c.log.Debug("Message sent to Telegram", "recipient", recipient)
	return nil
}

// SendImage sends a photo with a caption. path is either an http(s) URL
// Telegram downloads itself or a local file that is uploaded.
func (c *Client) SendImage(ctx context.Context, recipient, path, caption string) error {
	caption = news.Truncate(caption, MaxCaptionLength)

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return c.postJSON(ctx, "sendPhoto", map[string]interface{}{
			"chat_id":    recipient,
			"photo":      path,
			"caption":    caption,
			"parse_mode": "HTML",
		})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read photo: %w", err)
	}
	return retry.WithRetry(ctx, c.retry, func() error {
		var body bytes.Buffer
		w := multipart.NewWriter(&body)
		_ = w.WriteField("chat_id", recipient)
		_ = w.WriteField("caption", caption)
		_ = w.WriteField("parse_mode", "HTML")
		part, err := w.CreateFormFile("photo", filepath.Base(path))
		if err != nil {
			return retry.Permanent(err)
		}
		if _, err := part.Write(data); err != nil {
			return retry.Permanent(err)
		}
		if err := w.Close(); err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendPhoto"), &body)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return c.do(req)
	})
}

func (c *Client) postJSON(ctx context.Context, method string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error make JSON: %w", err)
	}

	return retry.WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		err = c.do(req)
		if err != nil {
			c.log.Debug("Telegram call failed", "method", method, "error", err)
		}
		return err
	})
}

// do executes req. Client errors other than 429 are not retried.
func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error HTTP request: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("Failed to close response body", "error", err)
		}
	}(resp.Body)

	var out apiResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)

	if resp.StatusCode == http.StatusOK && out.OK {
		return nil
	}
	err = fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, out.Description)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(err)
	}
	return err
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// SplitMessage splits text into chunks of at most limit runes, preferring
// blank-line, then line, boundaries. A hard cut never lands inside an HTML
// tag or entity.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}

	var chunks []string
	rest := []rune(text)
	for len(rest) > limit {
		window := string(rest[:limit])
		cut := strings.LastIndex(window, "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(window, "\n")
		}
		if cut <= 0 {
			cut = markupSafeCut(window)
		}
		chunk := window[:cut]
		chunks = append(chunks, strings.TrimRight(chunk, "\n"))
		rest = []rune(strings.TrimLeft(string(rest[len([]rune(chunk)):]), "\n"))
	}
	if len(rest) > 0 {
		chunks = append(chunks, string(rest))
	}
	return chunks
}

// markupSafeCut returns the byte length of window with any trailing,
// unterminated tag or entity left for the next chunk.
func markupSafeCut(window string) int {
	cut := len(window)
	if lt := strings.LastIndex(window, "<"); lt > 0 && lt > strings.LastIndex(window, ">") {
		cut = lt
	}
	if amp := strings.LastIndex(window[:cut], "&"); amp > 0 && amp > strings.LastIndex(window[:cut], ";") {
		cut = amp
	}
	return cut
}
