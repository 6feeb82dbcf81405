package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"example.com/carevisits/internal/domain"
	"example.com/carevisits/internal/offline"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSyncText(w io.Writer, res offline.SyncResult) {
	fmt.Fprintf(w, "staff %s: %d synced, %d failed, %d to review", res.StaffID, res.SyncedCount, res.FailedCount, res.ReviewCount)
	if res.Cancelled {
		fmt.Fprint(w, " (cancelled)")
	}
	fmt.Fprintln(w)
	for _, r := range res.Results {
		switch r.Outcome {
		case offline.OutcomeFailed:
			fmt.Fprintf(w, "  %s %s failed [%s]: %s\n", r.RecordID, r.Type, r.ErrorKind, r.Error)
		case offline.OutcomeManualReview:
			fmt.Fprintf(w, "  %s %s parked for review\n", r.RecordID, r.Type)
		}
	}
	for _, c := range res.Conflicts {
		fmt.Fprintf(w, "  conflict %s (%s): %s\n", c.RecordID, c.Kind, c.Notes)
	}
}

func writeReviewText(w io.Writer, records []domain.OfflineRecord, next string) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records awaiting review.")
		return
	}
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.StaffID, rec.Type,
			rec.DeviceTimestamp.Format("2006-01-02T15:04:05Z07:00"), firstLine(rec.ConflictNotes))
	}
	if next != "" {
		fmt.Fprintf(w, "next cursor: %s\n", next)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
