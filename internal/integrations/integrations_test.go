package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/carevisits/libs/events"
)

func TestHTTPSummarizerPostsVisit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/summaries/visit", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req summaryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "visit", req.Kind)
		require.Equal(t, "visit-1", req.Visit.VisitID)

		_, _ = w.Write([]byte(`{"summary":"  Client settled, lunch eaten.  "}`))
	}))
	defer srv.Close()

	s := NewHTTPSummarizer(srv.URL+"/", "secret", time.Second)
	summary, err := s.SummarizeVisit(context.Background(), events.VisitCompleted{VisitID: "visit-1"})
	require.NoError(t, err)
	require.Equal(t, "Client settled, lunch eaten.", summary)
}

func TestHTTPSummarizerReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPSummarizer(srv.URL, "", time.Second).SummarizeVisit(context.Background(), events.VisitCompleted{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
}

func TestWebhookNotifierPostsNotification(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := Notification{
		EventType: events.TypeIncidentReported,
		Subject:   "Incident reported: fall",
		Severity:  "high",
		Details:   json.RawMessage(`{"incident_id":"inc-1"}`),
		At:        time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewWebhookNotifier(srv.URL, time.Second).Notify(context.Background(), n))
	require.Equal(t, n.Subject, got.Subject)
	require.JSONEq(t, `{"incident_id":"inc-1"}`, string(got.Details))
	require.True(t, n.At.Equal(got.At))
}

func TestNoopCollaborators(t *testing.T) {
	summary, err := NoopSummarizer{}.SummarizeVisit(context.Background(), events.VisitCompleted{})
	require.NoError(t, err)
	require.Empty(t, summary)
	require.NoError(t, NoopNotifier{}.Notify(context.Background(), Notification{}))
}
