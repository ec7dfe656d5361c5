package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

// newTestClient wires a client against srv with an instant limiter and a
// recorded backoff sleep.
func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *[]time.Duration) {
	t.Helper()
	limiter := NewRateLimiter(time.Nanosecond)
	limiter.sleep = func(context.Context, time.Duration) error { return nil }
	c := NewClient(staticTokens("test-token"), limiter, zaptest.NewLogger(t), Options{
		BaseURL: srv.URL,
	})
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestDoSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	data, err := c.Do(context.Background(), http.MethodGet, "me/joinedTeams", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.Equal(t, int64(1), c.RequestCount())
}

func TestDoRetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv)
	_, err := c.Do(context.Background(), http.MethodGet, "teams/t1/channels", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
}

func TestDoServerErrorExhaustsRetries(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	c.opts.MaxRetries = 2

	_, err := c.Do(context.Background(), http.MethodGet, "teams", nil, nil)
	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusInternalServerError, srvErr.StatusCode)
	assert.Equal(t, 3, srvErr.Attempts)
	assert.Equal(t, int64(3), hits.Load())
}

func TestDoClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":"Forbidden","message":"Missing role permissions"}}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Do(context.Background(), http.MethodGet, "teams", nil, nil)
	var cliErr *ClientError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, http.StatusForbidden, cliErr.StatusCode)
	assert.Equal(t, "Missing role permissions", cliErr.Message)
	assert.Equal(t, int64(1), hits.Load())
}

func TestDoRateLimitArmsLimiter(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	limiter := NewRateLimiter(time.Nanosecond)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }
	var limiterSlept []time.Duration
	limiter.sleep = func(_ context.Context, d time.Duration) error {
		limiterSlept = append(limiterSlept, d)
		return nil
	}

	c := NewClient(staticTokens("tok"), limiter, zaptest.NewLogger(t), Options{BaseURL: srv.URL})
	_, err := c.Do(context.Background(), http.MethodGet, "teams", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
	// The reissue waited out the server-supplied Retry-After.
	assert.Contains(t, limiterSlept, 7*time.Second)
}

func TestDoRateLimitCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Do(context.Background(), http.MethodGet, "teams", nil, nil)
	var srvErr *ServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusTooManyRequests, srvErr.StatusCode)
	assert.Equal(t, rateLimitCap+1, srvErr.Attempts)
}

func TestDrainAllFollowsNextLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items":
			assert.Equal(t, "1", r.URL.Query().Get("$top"))
			fmt.Fprintf(w, `{"value":[{"id":"a"},{"id":"b"}],"@odata.nextLink":"%s/items2"}`, srv.URL)
		case "/items2":
			fmt.Fprint(w, `{"value":[{"id":"c"}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	items, err := c.DrainAll(context.Background(), "items", map[string][]string{"$top": {"1"}}, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)

	var ids []string
	for _, raw := range items {
		var v struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &v))
		ids = append(ids, v.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestDrainAllMaxPages(t *testing.T) {
	var srv *httptest.Server
	var hits atomic.Int64
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		fmt.Fprintf(w, `{"value":[{"id":"%d"}],"@odata.nextLink":"%s/more"}`, n, srv.URL)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	items, err := c.DrainAll(context.Background(), "items", nil, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, int64(2), hits.Load())
}

func TestDrainAllPartialResultOnError(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/items":
			fmt.Fprintf(w, `{"value":[{"id":"a"}],"@odata.nextLink":"%s/broken"}`, srv.URL)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"message":"gone"}}`)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	items, err := c.DrainAll(context.Background(), "items", nil, 0)
	require.Error(t, err)
	assert.Len(t, items, 1, "items fetched before the failure are kept")
}

func TestTeamsFallsBackToGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/joinedTeams":
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"/me request is only valid with delegated authentication flow."}}`)
		case "/groups":
			assert.Contains(t, r.URL.Query().Get("$filter"), "resourceProvisioningOptions")
			fmt.Fprint(w, `{"value":[{"id":"g1","displayName":"Ops"}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	teams, err := c.Teams(context.Background())
	require.NoError(t, err)
	assert.Len(t, teams, 1)
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(h))

	h.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, parseRetryAfter(h))

	h.Set("Retry-After", "soon")
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(h))
}
