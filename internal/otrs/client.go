// Package otrs is a read-only client for the OTRS GenericInterface
// TicketSearch and TicketGet operations.
package otrs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sauerdaniel/ticketsync/internal/ticket"
)

// DefaultStates are the OTRS state types treated as "open".
var DefaultStates = []string{"new", "open", "pending reminder", "pending auto close"}

const (
	DefaultWebservice  = "TelegramBot"
	DefaultSearchLimit = 50

	createdLayout = "2006-01-02 15:04:05"
)

// Config holds connection settings for a GenericInterface web service.
type Config struct {
	BaseURL    string
	Webservice string
	Username   string
	Password   string
	States     []string
	Queues     []string
	Limit      int
	Location   *time.Location // zone of the Created timestamps; UTC if nil
	HTTPClient *http.Client
	Logger     Logger // discards if nil
}

// Logger is the subset of *log.Logger the client needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Client talks to one OTRS web service.
type Client struct {
	baseURL    string
	webservice string
	username   string
	password   string
	states     []string
	queues     []string
	limit      int
	location   *time.Location
	httpClient *http.Client
	logger     Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a client. BaseURL is the helpdesk root, with or without
// the trailing "/otrs" segment.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	base = strings.TrimSuffix(base, "/index.pl")
	if cfg.Webservice == "" {
		cfg.Webservice = DefaultWebservice
	}
	if len(cfg.States) == 0 {
		cfg.States = DefaultStates
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultSearchLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL:    base,
		webservice: cfg.Webservice,
		username:   cfg.Username,
		password:   cfg.Password,
		states:     cfg.States,
		queues:     cfg.Queues,
		limit:      cfg.Limit,
		location:   cfg.Location,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// BaseURL returns the normalized helpdesk root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiURL builds the GenericInterface endpoint for an operation.
func (c *Client) apiURL(operation string) string {
	root := c.baseURL
	if !strings.Contains(root, "/otrs") {
		root += "/otrs"
	}
	return fmt.Sprintf("%s/nph-genericinterface.pl/Webservice/%s/%s", root, url.PathEscape(c.webservice), operation)
}

// apiError is the GenericInterface error envelope. OTRS reports failures
// with HTTP 200 and this object in the body.
type apiError struct {
	ErrorCode    string `json:"ErrorCode"`
	ErrorMessage string `json:"ErrorMessage"`
}

type searchResponse struct {
	TicketID []json.Number `json:"TicketID"`
	Error    *apiError     `json:"Error"`
}

type article struct {
	Body string `json:"Body"`
}

type ticketPayload struct {
	TicketID       json.Number `json:"TicketID"`
	TicketNumber   string      `json:"TicketNumber"`
	Title          string      `json:"Title"`
	State          string      `json:"State"`
	Priority       string      `json:"Priority"`
	Queue          string      `json:"Queue"`
	Owner          string      `json:"Owner"`
	CustomerUserID string      `json:"CustomerUserID"`
	CustomerUser   string      `json:"CustomerUser"`
	Created        string      `json:"Created"`
	Article        []article   `json:"Article"`
}

type getResponse struct {
	Ticket []ticketPayload `json:"Ticket"`
	Error  *apiError       `json:"Error"`
}

// ListOpenItemIDs returns ids of tickets in the configured open state types,
// newest first. Zero matches is an empty slice, not an error.
func (c *Client) ListOpenItemIDs(ctx context.Context) ([]int64, error) {
	q := c.authParams()
	for _, state := range c.states {
		q.Add("StateType", state)
	}
	for _, queue := range c.queues {
		q.Add("Queues", queue)
	}
	q.Set("Limit", strconv.Itoa(c.limit))
	q.Set("SortBy", "Created")
	q.Set("OrderBy", "Down")

	var resp searchResponse
	if err := c.getJSON(ctx, "TicketSearch", q, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &ticket.TransportError{Op: "TicketSearch", Err: fmt.Errorf("%s: %s", resp.Error.ErrorCode, resp.Error.ErrorMessage)}
	}

	ids := make([]int64, 0, len(resp.TicketID))
	for _, raw := range resp.TicketID {
		id, err := raw.Int64()
		if err != nil {
			return nil, &ticket.TransportError{Op: "TicketSearch", Err: fmt.Errorf("parsing ticket id %q: %w", raw, err)}
		}
		ids = append(ids, id)
	}
	if len(ids) >= c.limit {
		// Tickets past the limit look closed to the caller.
		c.logger.Printf("Warning: TicketSearch returned %d tickets, the search limit; older open tickets are cut off (raise otrs.search_limit)", len(ids))
	}
	return ids, nil
}

// GetItem fetches one ticket with its first article body.
func (c *Client) GetItem(ctx context.Context, id int64) (ticket.WorkItem, error) {
	q := c.authParams()
	q.Set("TicketID", strconv.FormatInt(id, 10))
	q.Set("AllArticles", "1")
	q.Set("DynamicFields", "0")

	var resp getResponse
	if err := c.getJSON(ctx, "TicketGet", q, &resp); err != nil {
		return ticket.WorkItem{}, err
	}
	if resp.Error != nil {
		if isNoSuchTicket(resp.Error.ErrorCode) {
			return ticket.WorkItem{}, &ticket.NotFoundError{Kind: "ticket", ID: strconv.FormatInt(id, 10)}
		}
		return ticket.WorkItem{}, &ticket.TransportError{Op: "TicketGet", Err: fmt.Errorf("%s: %s", resp.Error.ErrorCode, resp.Error.ErrorMessage)}
	}
	if len(resp.Ticket) == 0 {
		return ticket.WorkItem{}, &ticket.NotFoundError{Kind: "ticket", ID: strconv.FormatInt(id, 10)}
	}

	return c.normalize(id, resp.Ticket[0]), nil
}

// normalize maps a TicketGet payload onto a WorkItem. Absent fields stay empty.
func (c *Client) normalize(id int64, p ticketPayload) ticket.WorkItem {
	item := ticket.WorkItem{
		ID:        id,
		Number:    p.TicketNumber,
		Title:     p.Title,
		State:     p.State,
		Priority:  p.Priority,
		Queue:     p.Queue,
		Owner:     p.Owner,
		Requester: p.CustomerUserID,
	}
	if parsed, err := p.TicketID.Int64(); err == nil && parsed != 0 {
		item.ID = parsed
	}
	if item.Requester == "" {
		item.Requester = p.CustomerUser
	}
	if p.Created != "" {
		if created, err := time.ParseInLocation(createdLayout, p.Created, c.location); err == nil {
			item.CreatedAt = created
		}
	}
	if len(p.Article) > 0 {
		item.Body = p.Article[0].Body
	}
	return item
}

// isNoSuchTicket reports whether a TicketGet error code means the id is unknown.
func isNoSuchTicket(code string) bool {
	switch {
	case strings.HasSuffix(code, ".NotValidTicketID"),
		strings.HasSuffix(code, ".InvalidParameter"),
		strings.HasSuffix(code, ".NotFound"):
		return true
	}
	return false
}

func (c *Client) authParams() url.Values {
	q := url.Values{}
	q.Set("UserLogin", c.username)
	q.Set("Password", c.password)
	return q
}

// getJSON performs a GET with retries on network errors, 429 and 5xx.
func (c *Client) getJSON(ctx context.Context, operation string, q url.Values, out any) error {
	endpoint := c.apiURL(operation) + "?" + q.Encode()
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &ticket.TransportError{Op: operation, Err: err}
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", uuid.NewString())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return &ticket.TransportError{Op: operation, Err: waitErr}
				}
				continue
			}
			return &ticket.TransportError{Op: operation, Err: err}
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return &ticket.TransportError{Op: operation, StatusCode: resp.StatusCode, Err: readErr}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return &ticket.TransportError{Op: operation, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return &ticket.TransportError{Op: operation, Err: waitErr}
			}
			continue
		}

		return &ticket.TransportError{Op: operation, StatusCode: resp.StatusCode, Err: errors.New(truncate(strings.TrimSpace(string(payload)), 200))}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
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

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
