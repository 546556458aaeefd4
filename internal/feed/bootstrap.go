package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/dotcommander/ink/internal/models"
)

// Bootstrap is the stored state a mapper is rebuilt from after a restart.
// FeedEvents must be in ascending seq order, which is how the store returns
// them.
type Bootstrap struct {
	SessionID         string
	CreatedAt         int64
	AdapterSessionIDs []string
	FeedEvents        []models.FeedEvent
}

// NewFromBootstrap rebuilds a mapper from persisted feed events. The
// sequence counter resumes past the stored high-water mark so restarted
// sessions never reuse a seq. The last run is reopened if no run.end closed
// it; its counters, trigger, and tool correlation index are rebuilt from
// the stored events. The subagent stack is not reconstructed: attribution
// for tools that were in flight across the restart falls back to the root
// agent rather than guessing at a stack the harness may have since
// unwound.
func NewFromBootstrap(b Bootstrap, opts ...Option) *Mapper {
	m := New(b.SessionID, opts...)
	if b.CreatedAt != 0 {
		m.createdAt = b.CreatedAt
	}
	for _, id := range b.AdapterSessionIDs {
		m.registerAdapterSession(id)
	}

	var openRunStart *models.FeedEvent
	for i := range b.FeedEvents {
		fe := &b.FeedEvents[i]
		if fe.Seq > m.seq {
			m.seq = fe.Seq
		}
		m.restoreActor(fe)

		switch fe.Kind {
		case models.FeedRunStart:
			openRunStart = fe
			if idx := runIndexFromID(fe.RunID); idx > m.runIndex {
				m.runIndex = idx
			}
		case models.FeedRunEnd:
			openRunStart = nil
		}
	}

	if openRunStart != nil {
		m.restoreRun(openRunStart, b.FeedEvents)
	}
	return m
}

func (m *Mapper) restoreActor(fe *models.FeedEvent) {
	if !strings.HasPrefix(fe.ActorID, "subagent:") {
		return
	}
	agentType := ""
	if fe.Kind == models.FeedSubagentStart {
		var data subagentData
		if err := json.Unmarshal(fe.Data, &data); err == nil {
			agentType = data.AgentType
		}
	}
	m.registerActor(models.Actor{ID: fe.ActorID, Type: models.ActorTypeSubagent, AgentType: agentType})
}

// restoreRun reopens the run started by start, replaying its stored events
// to rebuild counters and the tool correlation index.
func (m *Mapper) restoreRun(start *models.FeedEvent, events []models.FeedEvent) {
	run := &models.Run{
		ID:        start.RunID,
		Index:     runIndexFromID(start.RunID),
		Status:    models.RunActive,
		StartedAt: start.TS,
	}
	var data runStartData
	if err := json.Unmarshal(start.Data, &data); err == nil {
		run.Trigger = data.Trigger
	}

	for i := range events {
		fe := &events[i]
		if fe.Seq <= start.Seq || fe.RunID != run.ID {
			continue
		}
		switch fe.Kind {
		case models.FeedToolPre:
			run.Counters.ToolUses++
			var pre toolPreData
			if err := json.Unmarshal(fe.Data, &pre); err == nil && pre.ToolUseID != "" {
				m.correlation[pre.ToolUseID] = fe.ID
			}
		case models.FeedPermissionRequest:
			run.Counters.PermissionRequests++
		}
	}
	m.currentRun = run
}

func runIndexFromID(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "R"))
	if err != nil {
		return 0
	}
	return n
}

// RestoredAt reports the wall-clock moment the mapper considers the
// session created, for logging after a bootstrap.
func (m *Mapper) RestoredAt() time.Time {
	return time.UnixMilli(m.createdAt)
}
