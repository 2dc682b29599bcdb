package durable

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-link/durable/id"
)

// Kind classifies the signals that travel between activities, workflows
// and the executors.
type Kind int

const (
	// KindActivityFailed reports a failed activity. Escaping the workflow
	// function it halts the instance.
	KindActivityFailed Kind = iota + 1
	// KindWorkflowFailed ends the instance in the Failed state.
	KindWorkflowFailed
	// KindPostponed ends the pass; the instance is re-entered later.
	KindPostponed
	// KindTryAgain ends the pass; the caller should retry shortly.
	KindTryAgain
	// KindRetryActivity resets a failed activity and postpones.
	KindRetryActivity
	// KindInternal is an engine failure unrelated to a specific activity.
	KindInternal
	// KindActivityInternal is an engine failure tied to one activity.
	KindActivityInternal
	// KindCancelled reports an administratively cancelled instance.
	KindCancelled
)

var kindNames = map[Kind]string{
	KindActivityFailed:   "activity_failed",
	KindWorkflowFailed:   "workflow_failed",
	KindPostponed:        "postponed",
	KindTryAgain:         "try_again",
	KindRetryActivity:    "retry_activity",
	KindInternal:         "internal",
	KindActivityInternal: "activity_internal",
	KindCancelled:        "cancelled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("durable: unknown error kind %q", b)
}

// Category is the failure classification recorded on failed activities and
// workflows.
type Category string

// Failure categories.
const (
	CategoryNone                        Category = ""
	CategoryBusinessError               Category = "BusinessError"
	CategoryTechnicalError              Category = "TechnicalError"
	CategoryMaxTimeReachedError         Category = "MaxTimeReachedError"
	CategoryWorkflowCapabilityError     Category = "WorkflowCapabilityError"
	CategoryWorkflowImplementationError Category = "WorkflowImplementationError"
)

// Error is the single tagged error type used for every engine signal.
type Error struct {
	Kind               Kind
	Category           Category
	TechnicalMessage   string
	FriendlyMessage    string
	ActivityInstanceID id.ID
	AsyncRequestID     string
	RetryAfter         time.Duration
	// Fallback is set on postponements caused by the primary store being
	// unavailable after the summary blob was written.
	Fallback bool
	Err      error
}

func (e *Error) Error() string {
	msg := e.TechnicalMessage
	if msg == "" {
		msg = e.FriendlyMessage
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Category != CategoryNone {
		return fmt.Sprintf("durable: %s (%s): %s", e.Kind, e.Category, msg)
	}
	if msg == "" {
		return "durable: " + e.Kind.String()
	}
	return fmt.Sprintf("durable: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of the *Error in err's chain, or zero.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return 0
}

// IsPostponement reports whether err ends a pass without a terminal
// outcome.
func IsPostponement(err error) bool {
	switch KindOf(err) {
	case KindPostponed, KindTryAgain:
		return true
	default:
		return false
	}
}

// ──────────────────────────────────────────────────
// Constructors
// ──────────────────────────────────────────────────

// ActivityFailed reports an activity failure with the given category.
func ActivityFailed(category Category, technical, friendly string) *Error {
	return &Error{
		Kind:             KindActivityFailed,
		Category:         category,
		TechnicalMessage: technical,
		FriendlyMessage:  friendly,
	}
}

// WorkflowFailed ends the workflow instance as Failed.
func WorkflowFailed(category Category, technical, friendly string) *Error {
	return &Error{
		Kind:             KindWorkflowFailed,
		Category:         category,
		TechnicalMessage: technical,
		FriendlyMessage:  friendly,
	}
}

// PostponeOption configures a postponement.
type PostponeOption func(*Error)

// WithAsyncRequestID records the outstanding async request the activity is
// waiting for.
func WithAsyncRequestID(requestID string) PostponeOption {
	return func(e *Error) { e.AsyncRequestID = requestID }
}

// WithRetryAfter hints when the instance should be re-entered.
func WithRetryAfter(d time.Duration) PostponeOption {
	return func(e *Error) { e.RetryAfter = d }
}

// Postpone signals that the current pass cannot complete now.
func Postpone(opts ...PostponeOption) *Error {
	e := &Error{Kind: KindPostponed}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TryAgain signals a transient condition; the caller should retry soon.
func TryAgain(reason string, cause error) *Error {
	return &Error{Kind: KindTryAgain, TechnicalMessage: reason, Err: cause}
}

// RetryActivityFromCatch asks the engine to reset the activity that caused
// failed and re-run it on a later pass.
func RetryActivityFromCatch(failed error, retryAfter time.Duration) *Error {
	e := &Error{Kind: KindRetryActivity, RetryAfter: retryAfter, Err: failed}
	if src, ok := AsError(failed); ok {
		e.ActivityInstanceID = src.ActivityInstanceID
		e.TechnicalMessage = src.TechnicalMessage
	}
	return e
}

// Internal reports an engine failure.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, TechnicalMessage: msg, Err: cause}
}

// ActivityInternal reports an engine failure tied to an activity.
func ActivityInternal(activityInstanceID id.ID, msg string, cause error) *Error {
	return &Error{
		Kind:               KindActivityInternal,
		ActivityInstanceID: activityInstanceID,
		TechnicalMessage:   msg,
		Err:                cause,
	}
}

// Cancelled reports an administratively cancelled instance.
func Cancelled(reason string) *Error {
	return &Error{Kind: KindCancelled, TechnicalMessage: reason}
}

// ──────────────────────────────────────────────────
// Serialization
// ──────────────────────────────────────────────────

type wireError struct {
	Kind               Kind          `json:"kind"`
	Category           Category      `json:"category,omitempty"`
	TechnicalMessage   string        `json:"technical_message,omitempty"`
	FriendlyMessage    string        `json:"friendly_message,omitempty"`
	ActivityInstanceID id.ID         `json:"activity_instance_id,omitempty"`
	AsyncRequestID     string        `json:"async_request_id,omitempty"`
	RetryAfter         time.Duration `json:"retry_after,omitempty"`
	Fallback           bool          `json:"fallback,omitempty"`
	Cause              string        `json:"cause,omitempty"`
}

// Encode serializes the error for transport across process boundaries.
// The wrapped cause survives as text only.
func (e *Error) Encode() string {
	w := wireError{
		Kind:               e.Kind,
		Category:           e.Category,
		TechnicalMessage:   e.TechnicalMessage,
		FriendlyMessage:    e.FriendlyMessage,
		ActivityInstanceID: e.ActivityInstanceID,
		AsyncRequestID:     e.AsyncRequestID,
		RetryAfter:         e.RetryAfter,
		Fallback:           e.Fallback,
	}
	if e.Err != nil {
		w.Cause = e.Err.Error()
	}
	b, err := json.Marshal(w)
	if err != nil {
		// Only text and scalar fields; Marshal cannot fail.
		panic(fmt.Sprintf("durable: encode error: %v", err))
	}
	return string(b)
}

// DecodeError parses the output of Encode.
func DecodeError(s string) (*Error, error) {
	var w wireError
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return nil, fmt.Errorf("durable: decode error: %w", err)
	}
	e := &Error{
		Kind:               w.Kind,
		Category:           w.Category,
		TechnicalMessage:   w.TechnicalMessage,
		FriendlyMessage:    w.FriendlyMessage,
		ActivityInstanceID: w.ActivityInstanceID,
		AsyncRequestID:     w.AsyncRequestID,
		RetryAfter:         w.RetryAfter,
		Fallback:           w.Fallback,
	}
	if w.Cause != "" {
		e.Err = errors.New(w.Cause)
	}
	return e, nil
}
