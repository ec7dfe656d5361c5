package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL    = "https://graph.microsoft.com/v1.0"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 4
	backoffStart      = 2 * time.Second

	// Honored 429s do not consume the backoff budget, but they are still
	// bounded to keep a misbehaving server from looping us forever.
	rateLimitCap = 10

	defaultRetryAfter = 60 * time.Second
)

// TokenSource supplies bearer tokens for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Options configures the Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Client is the Graph API transport: it authenticates, paces, and retries
// individual requests, and drains paginated collections.
type Client struct {
	http    *http.Client
	opts    Options
	tokens  TokenSource
	limiter *RateLimiter
	log     *zap.Logger

	requests atomic.Int64

	sleep func(context.Context, time.Duration) error
}

func NewClient(tokens TokenSource, limiter *RateLimiter, log *zap.Logger, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		tokens:  tokens,
		limiter: limiter,
		log:     log,
		sleep:   sleepCtx,
	}
}

// RequestCount reports the total number of HTTP attempts issued, for
// diagnostics.
func (c *Client) RequestCount() int64 {
	return c.requests.Load()
}

func (c *Client) url(endpoint string, params url.Values) string {
	// Pagination next-links come back absolute.
	full := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		full = c.opts.BaseURL + "/" + strings.TrimPrefix(endpoint, "/")
	}
	if len(params) > 0 {
		full += "?" + params.Encode()
	}
	return full
}

// Do issues one authenticated request against the Graph API.
//
// 429 responses arm the rate limiter with the server's Retry-After and are
// reissued. 5xx responses and transport failures are retried with
// exponential backoff starting at 2s; other 4xx responses fail
// immediately with the parsed Graph error message.
func (c *Client) Do(ctx context.Context, method, endpoint string, params url.Values, body any) (json.RawMessage, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	target := c.url(endpoint, params)
	backoff := backoffStart
	retries := 0
	rateRetries := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		c.requests.Add(1)

		if err != nil {
			if retries >= c.opts.MaxRetries {
				return nil, &TransportError{Attempts: retries + 1, Err: err}
			}
			c.log.Warn("graph transport failure, retrying",
				zap.Error(err),
				zap.Duration("backoff", backoff),
				zap.Int("attempt", retries+1))
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			retries++
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header)
			drain(resp)
			c.limiter.SetRetryAfter(retryAfter)
			rateRetries++
			if rateRetries > rateLimitCap {
				return nil, &ServerError{StatusCode: resp.StatusCode, Attempts: rateRetries}
			}
			c.log.Warn("graph rate limited",
				zap.Duration("retry_after", retryAfter),
				zap.String("endpoint", endpoint))
			continue

		case resp.StatusCode >= 500:
			drain(resp)
			if retries >= c.opts.MaxRetries {
				return nil, &ServerError{StatusCode: resp.StatusCode, Attempts: retries + 1}
			}
			c.log.Warn("graph server error, retrying",
				zap.Int("status", resp.StatusCode),
				zap.Duration("backoff", backoff),
				zap.Int("attempt", retries+1))
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			retries++
			continue

		case resp.StatusCode >= 400:
			msg := parseGraphError(resp)
			return nil, &ClientError{StatusCode: resp.StatusCode, Message: msg}

		default:
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("reading response body: %w", err)
			}
			return data, nil
		}
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

func parseRetryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

func parseGraphError(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}

type page struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// DrainAll follows @odata.nextLink cursors until the collection is
// exhausted (or maxPages is hit, when maxPages > 0), concatenating pages
// in response order. On a page fetch error it returns the items
// accumulated so far alongside the error.
func (c *Client) DrainAll(ctx context.Context, endpoint string, params url.Values, maxPages int) ([]json.RawMessage, error) {
	var items []json.RawMessage
	pages := 0
	next := ""

	for {
		if maxPages > 0 && pages >= maxPages {
			break
		}

		var (
			data json.RawMessage
			err  error
		)
		if next != "" {
			data, err = c.Do(ctx, http.MethodGet, next, nil, nil)
		} else {
			data, err = c.Do(ctx, http.MethodGet, endpoint, params, nil)
		}
		if err != nil {
			return items, err
		}

		var p page
		if err := json.Unmarshal(data, &p); err != nil {
			return items, fmt.Errorf("decoding page %d of %s: %w", pages+1, endpoint, err)
		}
		items = append(items, p.Value...)
		pages++

		c.log.Debug("fetched page",
			zap.String("endpoint", endpoint),
			zap.Int("page", pages),
			zap.Int("items", len(p.Value)),
			zap.Int("total", len(items)))

		if p.NextLink == "" {
			break
		}
		next = p.NextLink
	}

	return items, nil
}

// Teams lists the teams the caller can see. Delegated tokens use
// me/joinedTeams; if that is rejected (service principals cannot call
// /me) it falls back to the groups listing filtered to teams.
func (c *Client) Teams(ctx context.Context) ([]json.RawMessage, error) {
	teams, err := c.DrainAll(ctx, "me/joinedTeams", nil, 0)
	if err == nil {
		return teams, nil
	}

	params := url.Values{
		"$filter": {"resourceProvisioningOptions/Any(x:x eq 'Team')"},
	}
	teams, fallbackErr := c.DrainAll(ctx, "groups", params, 0)
	if fallbackErr != nil {
		return nil, fmt.Errorf("listing teams: %w", fallbackErr)
	}
	c.log.Debug("listed teams via groups fallback", zap.Int("count", len(teams)), zap.NamedError("joined_teams_error", err))
	return teams, nil
}

// TeamChannels lists all channels of a team.
func (c *Client) TeamChannels(ctx context.Context, teamID string) ([]json.RawMessage, error) {
	return c.DrainAll(ctx, fmt.Sprintf("teams/%s/channels", teamID), nil, 0)
}

// ChannelMessages lists a channel's top-level messages with replies
// expanded. top controls the page size; maxPages of 0 drains everything.
func (c *Client) ChannelMessages(ctx context.Context, teamID, channelID string, top, maxPages int) ([]json.RawMessage, error) {
	if top <= 0 {
		top = 50
	}
	params := url.Values{
		"$top":    {strconv.Itoa(top)},
		"$expand": {"replies"},
	}
	endpoint := fmt.Sprintf("teams/%s/channels/%s/messages", teamID, channelID)
	return c.DrainAll(ctx, endpoint, params, maxPages)
}

// MessageReplies lists the replies of one message.
func (c *Client) MessageReplies(ctx context.Context, teamID, channelID, messageID string) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("teams/%s/channels/%s/messages/%s/replies", teamID, channelID, messageID)
	return c.DrainAll(ctx, endpoint, nil, 0)
}
