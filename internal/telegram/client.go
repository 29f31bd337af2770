// Package telegram is a minimal Bot API client covering the three calls the
// projection needs: send, edit and delete a message with an inline keyboard.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sauerdaniel/ticketsync/internal/render"
	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

const (
	DefaultAPIURL = "https://api.telegram.org"

	// maxRetryAfter bounds how long a single 429 may stall a tick.
	maxRetryAfter = 30 * time.Second
)

// Config holds bot credentials and transport settings.
type Config struct {
	Token      string
	APIURL     string
	Silent     bool // send with disable_notification
	HTTPClient *http.Client
}

// Client calls the Bot API for a single bot.
type Client struct {
	apiURL     string
	token      string
	silent     bool
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(cfg Config) *Client {
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		apiURL:     apiURL,
		token:      strings.TrimSpace(cfg.Token),
		silent:     cfg.Silent,
		httpClient: cfg.HTTPClient,
		maxRetries: 3,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   maxRetryAfter,
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type linkPreviewOptions struct {
	IsDisabled bool `json:"is_disabled"`
}

type sendMessageRequest struct {
	ChatID              int64               `json:"chat_id"`
	MessageThreadID     int64               `json:"message_thread_id,omitempty"`
	Text                string              `json:"text"`
	ParseMode           string              `json:"parse_mode"`
	LinkPreviewOptions  *linkPreviewOptions `json:"link_preview_options,omitempty"`
	DisableNotification bool                `json:"disable_notification,omitempty"`
	ReplyMarkup         *replyMarkup        `json:"reply_markup,omitempty"`
}

type editMessageTextRequest struct {
	ChatID             int64               `json:"chat_id"`
	MessageID          int64               `json:"message_id"`
	Text               string              `json:"text"`
	ParseMode          string              `json:"parse_mode"`
	LinkPreviewOptions *linkPreviewOptions `json:"link_preview_options,omitempty"`
	ReplyMarkup        *replyMarkup        `json:"reply_markup,omitempty"`
}

type deleteMessageRequest struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int64 `json:"message_id"`
}

type message struct {
	MessageID int64 `json:"message_id"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts a new message and returns its message id.
func (c *Client) Send(ctx context.Context, dest ticket.Destination, text string, actions render.ActionSet) (int64, error) {
	req := sendMessageRequest{
		ChatID:              dest.ChatID,
		MessageThreadID:     dest.TopicID,
		Text:                text,
		ParseMode:           "HTML",
		LinkPreviewOptions:  &linkPreviewOptions{IsDisabled: true},
		DisableNotification: c.silent,
		ReplyMarkup:         keyboard(actions),
	}
	var msg message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return 0, err
	}
	if msg.MessageID == 0 {
		return 0, &ticket.TransportError{Op: "sendMessage", Err: errors.New("response carried no message_id")}
	}
	return msg.MessageID, nil
}

// Edit replaces the text and keyboard of an existing message.
func (c *Client) Edit(ctx context.Context, dest ticket.Destination, messageID int64, text string, actions render.ActionSet) error {
	req := editMessageTextRequest{
		ChatID:             dest.ChatID,
		MessageID:          messageID,
		Text:               text,
		ParseMode:          "HTML",
		LinkPreviewOptions: &linkPreviewOptions{IsDisabled: true},
		ReplyMarkup:        keyboard(actions),
	}
	return c.call(ctx, "editMessageText", req, nil)
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, dest ticket.Destination, messageID int64) error {
	return c.call(ctx, "deleteMessage", deleteMessageRequest{ChatID: dest.ChatID, MessageID: messageID}, nil)
}

func keyboard(actions render.ActionSet) *replyMarkup {
	if len(actions) == 0 {
		return nil
	}
	rows := make([][]inlineButton, 0, len(actions))
	for _, row := range actions {
		buttons := make([]inlineButton, 0, len(row))
		for _, a := range row {
			buttons = append(buttons, inlineButton{Text: a.Label, CallbackData: a.Data, URL: a.URL})
		}
		rows = append(rows, buttons)
	}
	return &replyMarkup{InlineKeyboard: rows}
}

// call POSTs payload to method, retrying network failures, 429 and 5xx.
func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}
	endpoint := c.apiURL + "/bot" + c.token + "/" + method

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return &ticket.TransportError{Op: method, Err: c.redact(err)}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.backoff(attempt+1)); waitErr != nil {
					return &ticket.TransportError{Op: method, Err: waitErr}
				}
				continue
			}
			return &ticket.TransportError{Op: method, Err: c.redact(err)}
		}
		raw, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return &ticket.TransportError{Op: method, StatusCode: resp.StatusCode, Err: readErr}
		}

		var parsed apiResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			if resp.StatusCode >= 500 && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.backoff(attempt+1)); waitErr != nil {
					return &ticket.TransportError{Op: method, Err: waitErr}
				}
				continue
			}
			return &ticket.TransportError{Op: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
		}

		if parsed.OK {
			if out == nil || len(parsed.Result) == 0 {
				return nil
			}
			if err := json.Unmarshal(parsed.Result, out); err != nil {
				return &ticket.TransportError{Op: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding result: %w", err)}
			}
			return nil
		}

		if classified := classify(parsed.Description); classified != nil {
			return classified
		}

		code := parsed.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		if (code == http.StatusTooManyRequests || code >= 500) && attempt < c.maxRetries {
			delay := c.backoff(attempt + 1)
			if parsed.Parameters != nil && parsed.Parameters.RetryAfter > 0 {
				delay = min(time.Duration(parsed.Parameters.RetryAfter)*time.Second, c.maxDelay)
			}
			if waitErr := waitWithContext(ctx, delay); waitErr != nil {
				return &ticket.TransportError{Op: method, Err: waitErr}
			}
			continue
		}

		return &ticket.TransportError{Op: method, StatusCode: code, Err: errors.New(parsed.Description)}
	}
}

// classify maps Bot API descriptions that the projection reacts to.
func classify(description string) error {
	d := strings.ToLower(description)
	switch {
	case strings.Contains(d, "message is not modified"):
		return ticket.ErrNotModified
	case strings.Contains(d, "message to edit not found"),
		strings.Contains(d, "message to delete not found"),
		strings.Contains(d, "message can't be deleted"),
		strings.Contains(d, "message_id_invalid"):
		return ticket.ErrMessageNotFound
	}
	return nil
}

// IsChatNotFound reports a misconfigured destination.
func IsChatNotFound(err error) bool {
	var te *ticket.TransportError
	if !errors.As(err, &te) || te.Err == nil {
		return false
	}
	msg := strings.ToLower(te.Err.Error())
	return strings.Contains(msg, "chat not found") || strings.Contains(msg, "chat_id is empty")
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return min(delay, c.maxDelay)
}

// redact strips the bot token from URL errors before they reach a log.
func (c *Client) redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && c.token != "" {
		uerr.URL = strings.ReplaceAll(uerr.URL, c.token, "<token>")
	}
	return err
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
