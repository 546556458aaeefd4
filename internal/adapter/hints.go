package adapter

import "github.com/dotcommander/ink/internal/models"

// Decision timeouts in milliseconds. Permission and pre-tool hooks wait for
// a human; stop hooks get a shorter window; informational hooks only need
// enough slack for the pipeline to observe them before auto-passthrough.
const (
	decisionTimeoutMs      = 300000
	stopTimeoutMs          = 60000
	informationalTimeoutMs = 4000
)

var informationalHints = models.InteractionHints{
	ExpectsDecision:  false,
	DefaultTimeoutMs: informationalTimeoutMs,
	CanBlock:         false,
}

// hintsByKind is the static interaction table. Kinds absent from the table
// fall back to the safest default: no decision expected, short timeout,
// cannot block.
var hintsByKind = map[models.EventKind]models.InteractionHints{
	models.KindPermissionRequest: {ExpectsDecision: true, DefaultTimeoutMs: decisionTimeoutMs, CanBlock: true},
	models.KindToolPre:           {ExpectsDecision: true, DefaultTimeoutMs: decisionTimeoutMs, CanBlock: true},
	models.KindStopRequest:       {ExpectsDecision: true, DefaultTimeoutMs: stopTimeoutMs, CanBlock: true},

	models.KindSessionStart:  informationalHints,
	models.KindSessionEnd:    informationalHints,
	models.KindUserPrompt:    informationalHints,
	models.KindToolPost:      informationalHints,
	models.KindToolFailure:   informationalHints,
	models.KindSubagentStart: informationalHints,
	models.KindSubagentStop:  informationalHints,
	models.KindNotification:  informationalHints,
	models.KindCompactPre:    informationalHints,
	models.KindSetup:         informationalHints,
	models.KindTeammateIdle:  informationalHints,
	models.KindTaskCompleted: informationalHints,
	models.KindConfigChange:  informationalHints,
}

// HintsFor returns the interaction hints for a kind.
func HintsFor(kind models.EventKind) models.InteractionHints {
	if h, ok := hintsByKind[kind]; ok {
		return h
	}
	return informationalHints
}
