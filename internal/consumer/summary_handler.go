package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"example.com/carevisits/internal/domain"
	"example.com/carevisits/internal/integrations"
	"example.com/carevisits/libs/events"
)

// SummaryStore persists generated visit summaries.
type SummaryStore interface {
	SetVisitSummary(ctx context.Context, visitID, summary string) error
}

// SummaryHandler fills a completed visit's AI summary.
type SummaryHandler struct {
	summarizer integrations.Summarizer
	store      SummaryStore
	logger     *log.Logger
}

// NewSummaryHandler constructs a SummaryHandler.
func NewSummaryHandler(summarizer integrations.Summarizer, store SummaryStore, logger *log.Logger) *SummaryHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &SummaryHandler{summarizer: summarizer, store: store, logger: logger}
}

// Handle summarizes visit.completed events. Other event types are ignored.
func (h *SummaryHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeVisitCompleted {
		return nil
	}
	var visit events.VisitCompleted
	if err := json.Unmarshal(msg.Payload, &visit); err != nil {
		return fmt.Errorf("decode %s: %w", msg.EventType, err)
	}

	summary, err := h.summarizer.SummarizeVisit(ctx, visit)
	if err != nil {
		recordCollaboratorError("summarizer")
		return err
	}
	if summary == "" {
		return nil
	}

	err = h.store.SetVisitSummary(ctx, visit.VisitID, summary)
	if errors.Is(err, domain.ErrNotFound) {
		h.logger.Printf("summary for unknown visit %s dropped", visit.VisitID)
		return nil
	}
	if err != nil {
		return err
	}
	recordSummaryStored()
	return nil
}
