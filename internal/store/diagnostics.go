package store

import (
	"fmt"

	"github.com/dotcommander/ink/internal/models"
)

// Diagnostic represents a single consistency check finding.
type Diagnostic struct {
	Level           string `json:"level"` // "warning" or "error"
	Code            string `json:"code"`
	Message         string `json:"message"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// VerifyFeedLog performs consistency checks over a stored feed event log, in
// the order Restore returns it, and reports findings. An empty result means
// the log would replay into the exact timeline that was originally emitted.
func VerifyFeedLog(events []models.FeedEvent) []Diagnostic {
	var diags []Diagnostic
	diags = append(diags, checkSequenceOrder(events)...)
	diags = append(diags, checkCauseLinks(events)...)
	diags = append(diags, checkRunBoundaries(events)...)
	return diags
}

// checkSequenceOrder verifies sequence numbers are strictly increasing in
// stored order. A violation means two writers interleaved or a row was
// rewritten, both of which the exclusive session lock exists to prevent.
func checkSequenceOrder(events []models.FeedEvent) []Diagnostic {
	var diags []Diagnostic
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1].Seq, events[i].Seq
		if cur > prev {
			continue
		}
		diags = append(diags, Diagnostic{
			Level:           "error",
			Code:            "SEQ_NOT_INCREASING",
			Message:         fmt.Sprintf("feed event %s has seq %d after seq %d", events[i].ID, cur, prev),
			SuggestedAction: "the log was written by more than one process; do not resume from this store",
		})
	}
	return diags
}

// checkCauseLinks verifies every parent_event_id points at an event that
// appears earlier in the log.
func checkCauseLinks(events []models.FeedEvent) []Diagnostic {
	var diags []Diagnostic
	seen := make(map[string]bool, len(events))
	for i := range events {
		fe := &events[i]
		if fe.Cause != nil && fe.Cause.ParentEventID != "" && !seen[fe.Cause.ParentEventID] {
			diags = append(diags, Diagnostic{
				Level:           "error",
				Code:            "DANGLING_CAUSE",
				Message:         fmt.Sprintf("feed event %s (%s) links to missing parent %s", fe.ID, fe.Kind, fe.Cause.ParentEventID),
				SuggestedAction: "the log is missing rows; inspect the database for a partial write",
			})
		}
		seen[fe.ID] = true
	}
	return diags
}

// checkRunBoundaries verifies run.start/run.end pairing: no run.end without
// an open run, no run.start while one is open. A trailing open run is only a
// warning, since it is exactly the state a resumable session leaves behind.
func checkRunBoundaries(events []models.FeedEvent) []Diagnostic {
	var diags []Diagnostic
	openRun := ""
	for i := range events {
		fe := &events[i]
		switch fe.Kind {
		case models.FeedRunStart:
			if openRun != "" {
				diags = append(diags, Diagnostic{
					Level:           "error",
					Code:            "RUN_NOT_CLOSED",
					Message:         fmt.Sprintf("run %s started while run %s was still open", fe.RunID, openRun),
					SuggestedAction: "the mapper never emits overlapping runs; inspect the database for a partial write",
				})
			}
			openRun = fe.RunID
		case models.FeedRunEnd:
			if openRun == "" {
				diags = append(diags, Diagnostic{
					Level:           "error",
					Code:            "RUN_END_WITHOUT_START",
					Message:         fmt.Sprintf("run %s ended but its run.start is not in the log", fe.RunID),
					SuggestedAction: "the log is missing rows; inspect the database for a partial write",
				})
			}
			openRun = ""
		}
	}
	if openRun != "" {
		diags = append(diags, Diagnostic{
			Level:           "warning",
			Code:            "RUN_OPEN",
			Message:         fmt.Sprintf("run %s is still open", openRun),
			SuggestedAction: "resume the session to continue the run, or ignore if the harness is still working",
		})
	}
	return diags
}

// HasErrors reports whether any diagnostic is an error, as opposed to
// warnings a live or resumable session produces normally.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Level == "error" {
			return true
		}
	}
	return false
}
