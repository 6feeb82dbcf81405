package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"example.com/carevisits/internal/domain"
	"example.com/carevisits/internal/integrations"
	"example.com/carevisits/libs/events"
)

func TestRouterRunsAlwaysThenRoutedHandlers(t *testing.T) {
	var order []string
	audit := HandlerFunc(func(context.Context, Message) error { order = append(order, "audit"); return nil })
	notify := HandlerFunc(func(context.Context, Message) error { order = append(order, "notify"); return nil })
	summary := HandlerFunc(func(context.Context, Message) error { order = append(order, "summary"); return nil })

	router := NewRouter(audit).
		Route(notify, events.TypeIncidentReported).
		Route(summary, events.TypeVisitCompleted)

	require.NoError(t, router.Handle(context.Background(), Message{EventType: events.TypeIncidentReported}))
	require.Equal(t, []string{"audit", "notify"}, order)

	order = nil
	require.NoError(t, router.Handle(context.Background(), Message{EventType: events.TypeVisitStarted}))
	require.Equal(t, []string{"audit"}, order)
}

func TestRouterStopsOnAuditFailureAndJoinsRoutedErrors(t *testing.T) {
	called := false
	routed := HandlerFunc(func(context.Context, Message) error { called = true; return errors.New("webhook down") })
	other := HandlerFunc(func(context.Context, Message) error { return errors.New("summarizer down") })

	failingAudit := NewRouter(HandlerFunc(func(context.Context, Message) error { return errors.New("db down") })).
		Route(routed, events.TypeIncidentReported)
	require.ErrorContains(t, failingAudit.Handle(context.Background(), Message{EventType: events.TypeIncidentReported}), "db down")
	require.False(t, called)

	err := NewRouter().Route(routed, "x").Route(other, "x").Handle(context.Background(), Message{EventType: "x"})
	require.ErrorContains(t, err, "webhook down")
	require.ErrorContains(t, err, "summarizer down")
}

func TestSummaryHandlerStoresSummary(t *testing.T) {
	store := &stubSummaryStore{}
	summarizer := &stubSummarizer{summary: "Routine visit."}
	h := NewSummaryHandler(summarizer, store, log.New(testWriter{t}, "", 0))

	before := testutil.ToFloat64(summariesCounter)
	require.NoError(t, h.Handle(context.Background(), completedMessage(t, "visit-1")))

	require.Equal(t, "visit-1", summarizer.last.VisitID)
	require.Equal(t, map[string]string{"visit-1": "Routine visit."}, store.summaries)
	require.InDelta(t, before+1, testutil.ToFloat64(summariesCounter), 0.0001)
}

func TestSummaryHandlerIgnoresOtherEventsAndEmptySummaries(t *testing.T) {
	store := &stubSummaryStore{}
	summarizer := &stubSummarizer{}
	h := NewSummaryHandler(summarizer, store, nil)

	require.NoError(t, h.Handle(context.Background(), Message{EventType: events.TypeVisitStarted, Payload: json.RawMessage(`{}`)}))
	require.Zero(t, summarizer.calls)

	require.NoError(t, h.Handle(context.Background(), completedMessage(t, "visit-1")))
	require.Equal(t, 1, summarizer.calls)
	require.Empty(t, store.summaries)
}

func TestSummaryHandlerDropsUnknownVisitButSurfacesSummarizerErrors(t *testing.T) {
	store := &stubSummaryStore{err: fmt.Errorf("%w: visit gone", domain.ErrNotFound)}
	h := NewSummaryHandler(&stubSummarizer{summary: "x"}, store, log.New(testWriter{t}, "", 0))
	require.NoError(t, h.Handle(context.Background(), completedMessage(t, "gone")))

	failing := NewSummaryHandler(&stubSummarizer{err: errors.New("timeout")}, &stubSummaryStore{}, nil)
	require.ErrorContains(t, failing.Handle(context.Background(), completedMessage(t, "visit-1")), "timeout")
}

func TestNotificationHandlerBuildsNotifications(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		msg      Message
		subject  string
		severity string
	}{
		{
			name:     "conflict",
			msg:      eventMessage(t, events.TypeConflictFlagged, events.ConflictFlagged{RecordID: "rec-1", StaffID: "staff-1", RecordType: "check-in", Kind: "overlap", FlaggedAt: at}),
			subject:  "Offline check-in record rec-1 needs review: overlap",
			severity: "medium",
		},
		{
			name:     "single anomaly",
			msg:      eventMessage(t, events.TypeVisitAnomaliesDetected, events.VisitAnomaliesDetected{VisitID: "visit-1", Anomalies: []string{"short-visit"}, DetectedAt: at}),
			subject:  "Visit visit-1 completed with anomalies: short-visit",
			severity: "low",
		},
		{
			name:     "several anomalies",
			msg:      eventMessage(t, events.TypeVisitAnomaliesDetected, events.VisitAnomaliesDetected{VisitID: "visit-1", Anomalies: []string{"short-visit", "gps-missing"}, DetectedAt: at}),
			subject:  "Visit visit-1 completed with anomalies: short-visit, gps-missing",
			severity: "medium",
		},
		{
			name:     "safeguarding default severity",
			msg:      eventMessage(t, events.TypeSafeguardingConcern, events.SafeguardingConcern{ClientID: "client-1", RaisedAt: at}),
			subject:  "Safeguarding concern raised for client client-1",
			severity: "high",
		},
		{
			name:     "incident",
			msg:      eventMessage(t, events.TypeIncidentReported, events.IncidentReported{IncidentType: "fall", OccurredAt: at}),
			subject:  "Incident reported: fall",
			severity: "high",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			notifier := &stubNotifier{}
			require.NoError(t, NewNotificationHandler(notifier).Handle(context.Background(), tc.msg))
			require.Len(t, notifier.sent, 1)
			require.Equal(t, tc.subject, notifier.sent[0].Subject)
			require.Equal(t, tc.severity, notifier.sent[0].Severity)
			require.True(t, at.Equal(notifier.sent[0].At))
		})
	}
}

func TestNotificationHandlerSkipsUnroutedEvents(t *testing.T) {
	notifier := &stubNotifier{}
	require.NoError(t, NewNotificationHandler(notifier).Handle(context.Background(), Message{EventType: events.TypeVisitStarted}))
	require.Empty(t, notifier.sent)
}

func completedMessage(t *testing.T, visitID string) Message {
	return eventMessage(t, events.TypeVisitCompleted, events.VisitCompleted{VisitID: visitID, DurationMinutes: 30})
}

func eventMessage(t *testing.T, eventType string, payload any) Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return Message{EventType: eventType, Topic: events.Catalog[eventType].Topic, Payload: body}
}

type stubSummarizer struct {
	summary string
	err     error
	calls   int
	last    events.VisitCompleted
}

func (s *stubSummarizer) SummarizeVisit(_ context.Context, visit events.VisitCompleted) (string, error) {
	s.calls++
	s.last = visit
	return s.summary, s.err
}

type stubSummaryStore struct {
	err       error
	summaries map[string]string
}

func (s *stubSummaryStore) SetVisitSummary(_ context.Context, visitID, summary string) error {
	if s.err != nil {
		return s.err
	}
	if s.summaries == nil {
		s.summaries = map[string]string{}
	}
	s.summaries[visitID] = summary
	return nil
}

type stubNotifier struct {
	sent []integrations.Notification
}

func (s *stubNotifier) Notify(_ context.Context, n integrations.Notification) error {
	s.sent = append(s.sent, n)
	return nil
}
