package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ID prefixes keep stored ids self-describing when they show up in logs or
// SQL dumps.
const (
	sessionIDPrefix = "ses"
	eventIDPrefix   = "evt"
	requestIDPrefix = "req"
	ruleIDPrefix    = "rule"
)

func prefixedID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// NewSessionID returns a fresh control-plane session id.
func NewSessionID() string { return prefixedID(sessionIDPrefix) }

// NewEventID returns a fresh feed event id.
func NewEventID() string { return prefixedID(eventIDPrefix) }

// NewRequestID returns a fresh hook request id, used by the forwarder when
// the harness payload does not already carry one.
func NewRequestID() string { return prefixedID(requestIDPrefix) }

// NewRuleID returns a fresh hook rule id.
func NewRuleID() string { return prefixedID(ruleIDPrefix) }

// RunID formats the id for the run at a given 1-based index.
func RunID(index int) string { return fmt.Sprintf("R%d", index) }
