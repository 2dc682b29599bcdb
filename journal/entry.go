// Package journal defines the append-only business log attached to workflow
// and activity instances.
package journal

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexus-link/durable/id"
)

// Severity is the level of a journal entry.
type Severity int

// Severity levels, lowest first.
const (
	SeverityVerbose Severity = iota
	SeverityDebug
	SeverityInformation
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"verbose", "debug", "information", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity converts a case-insensitive name into a Severity.
func ParseSeverity(s string) (Severity, error) {
	for i, name := range severityNames {
		if strings.EqualFold(s, name) {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("journal: unknown severity %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Entry is one append-only log record. Entries are never mutated.
type Entry struct {
	ID                 id.ID     `json:"id"`
	WorkflowInstanceID id.ID     `json:"workflow_instance_id"`
	ActivityInstanceID id.ID     `json:"activity_instance_id,omitempty"`
	Severity           Severity  `json:"severity"`
	Message            string    `json:"message"`
	Data               []byte    `json:"data,omitempty"`
	TimeStamp          time.Time `json:"time_stamp"`
}
