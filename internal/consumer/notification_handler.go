package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"example.com/carevisits/internal/integrations"
	"example.com/carevisits/libs/events"
)

// NotificationEventTypes lists the events that page a supervisor.
var NotificationEventTypes = []string{
	events.TypeConflictFlagged,
	events.TypeVisitAnomaliesDetected,
	events.TypeSafeguardingConcern,
	events.TypeIncidentReported,
}

// NotificationHandler turns supervisor-facing events into webhook notifications.
type NotificationHandler struct {
	notifier integrations.Notifier
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(notifier integrations.Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

// Handle implements Handler.
func (h *NotificationHandler) Handle(ctx context.Context, msg Message) error {
	n, ok, err := buildNotification(msg)
	if err != nil || !ok {
		return err
	}
	if err := h.notifier.Notify(ctx, n); err != nil {
		recordCollaboratorError("notifier")
		return err
	}
	recordNotificationSent(msg.EventType)
	return nil
}

func buildNotification(msg Message) (integrations.Notification, bool, error) {
	n := integrations.Notification{EventType: msg.EventType, Details: msg.Payload, At: msg.Timestamp}

	switch msg.EventType {
	case events.TypeConflictFlagged:
		var e events.ConflictFlagged
		if err := decodePayload(msg, &e); err != nil {
			return n, false, err
		}
		n.Subject = fmt.Sprintf("Offline %s record %s needs review: %s", e.RecordType, e.RecordID, e.Kind)
		n.StaffID = e.StaffID
		n.Severity = "medium"
		n.At = e.FlaggedAt
	case events.TypeVisitAnomaliesDetected:
		var e events.VisitAnomaliesDetected
		if err := decodePayload(msg, &e); err != nil {
			return n, false, err
		}
		n.Subject = fmt.Sprintf("Visit %s completed with anomalies: %s", e.VisitID, strings.Join(e.Anomalies, ", "))
		n.StaffID = e.StaffID
		n.ClientID = e.ClientID
		n.Severity = "low"
		if len(e.Anomalies) > 1 {
			n.Severity = "medium"
		}
		n.At = e.DetectedAt
	case events.TypeSafeguardingConcern:
		var e events.SafeguardingConcern
		if err := decodePayload(msg, &e); err != nil {
			return n, false, err
		}
		n.Subject = "Safeguarding concern raised for client " + e.ClientID
		n.StaffID = e.StaffID
		n.ClientID = e.ClientID
		n.Severity = e.Severity
		if n.Severity == "" {
			n.Severity = "high"
		}
		n.At = e.RaisedAt
	case events.TypeIncidentReported:
		var e events.IncidentReported
		if err := decodePayload(msg, &e); err != nil {
			return n, false, err
		}
		n.Subject = fmt.Sprintf("Incident reported: %s", e.IncidentType)
		n.StaffID = e.StaffID
		n.ClientID = e.ClientID
		n.Severity = "high"
		n.At = e.OccurredAt
	default:
		return n, false, nil
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	return n, true, nil
}

func decodePayload(msg Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", msg.EventType, err)
	}
	return nil
}
