package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/teams-extractor/internal/models"
)

func testResolution() models.Resolution {
	return models.Resolution{
		Channel:        "incidents",
		MessageID:      "msg-1",
		Author:         "ada@example.com",
		ResolutionText: "restarted the worker",
	}
}

func TestForwardPostsBundle(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "sekrit", r.Header.Get("X-API-Key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		fmt.Fprint(w, `{"received":true}`)
	}))
	defer srv.Close()

	f := NewWebhookForwarder(srv.URL, "sekrit", zaptest.NewLogger(t))
	require.True(t, f.Configured())

	payload := &models.Payload{IssueType: "Güncelleştirme", Summary: "worker restart"}
	code, body, err := f.Forward(context.Background(), 7, testResolution(), payload)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"received":true}`, body)

	proc, ok := received["processor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(7), proc["id"])
	assert.Equal(t, "processed", proc["status"])

	res, ok := received["resolution"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "incidents", res["channel"])

	jp, ok := received["jira_payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Güncelleştirme", jp["issue_type"])
}

func TestForwardNoAPIKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, present := r.Header["X-Api-Key"]
		assert.False(t, present)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := NewWebhookForwarder(srv.URL, "", zaptest.NewLogger(t))
	code, _, err := f.Forward(context.Background(), 1, testResolution(), &models.Payload{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestForwardRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream workflow failed")
	}))
	defer srv.Close()

	f := NewWebhookForwarder(srv.URL, "", zaptest.NewLogger(t))
	code, body, err := f.Forward(context.Background(), 1, testResolution(), &models.Payload{})

	var fwdErr *ForwardError
	require.ErrorAs(t, err, &fwdErr)
	assert.Equal(t, http.StatusBadGateway, fwdErr.StatusCode)
	assert.Equal(t, "upstream workflow failed", fwdErr.Body)
	assert.Equal(t, http.StatusBadGateway, code, "the code and body are returned for persistence")
	assert.Equal(t, "upstream workflow failed", body)
}

func TestForwardTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	f := NewWebhookForwarder(srv.URL, "", zaptest.NewLogger(t))
	_, _, err := f.Forward(context.Background(), 1, testResolution(), &models.Payload{})
	require.Error(t, err)
	var fwdErr *ForwardError
	assert.False(t, errors.As(err, &fwdErr), "transport failures are not ForwardErrors")
}
