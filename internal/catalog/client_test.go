package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirinyoku/bookd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return New(nil, Config{
		BaseURL:     url,
		Timeout:     time.Second,
		ReadRetries: 2,
	})
}

func TestGetEvent_OK(t *testing.T) {
	snap := domain.EventSnapshot{
		ID:             "e1",
		Title:          "Concert",
		OrganizerID:    "org-1",
		Capacity:       100,
		ConfirmedCount: 40,
		Active:         true,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/events/e1", r.URL.Path)
		json.NewEncoder(w).Encode(snap)
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).GetEvent(context.Background(), "e1")

	require.NoError(t, err)
	assert.Equal(t, snap, *got)
}

func TestGetEvent_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetEvent(context.Background(), "missing")

	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestGetEvent_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(domain.EventSnapshot{ID: "e1", Capacity: 10, Active: true})
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).GetEvent(context.Background(), "e1")

	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGetEvent_UnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetEvent(context.Background(), "e1")

	require.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 3, calls.Load())
}

func TestGetEvent_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv.URL).GetEvent(context.Background(), "e1")

	require.ErrorIs(t, err, ErrUnavailable)
}

func TestTryIncrement_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/events/e1/capacity", r.URL.Path)

		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body["increment"])

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).TryIncrement(context.Background(), "e1")

	require.NoError(t, err)
}

func TestTryIncrement_Refused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).TryIncrement(context.Background(), "e1")

	require.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestTryIncrement_NeverRetried(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).TryIncrement(context.Background(), "e1")

	require.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 1, calls.Load())
}

func TestDecrement_Accepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.False(t, body["increment"])

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Decrement(context.Background(), "e1")

	require.NoError(t, err)
}

func TestDecrement_ClientErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	// A 4xx on a release is not a capacity refusal; the outcome is unknown.
	err := newTestClient(srv.URL).Decrement(context.Background(), "e1")

	require.ErrorIs(t, err, ErrUnavailable)
}
