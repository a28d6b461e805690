package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// AnalysisStatus is the state of one identity in the analysis cache.
// Idle is never stored: it is the absence of a record.
type AnalysisStatus string

const (
	StatusIdle      AnalysisStatus = "idle"
	StatusInFlight  AnalysisStatus = "in_flight"
	StatusCompleted AnalysisStatus = "completed"
	StatusFailed    AnalysisStatus = "failed"
)

// AnalysisRecord is a read-only snapshot of one identity's analysis state.
type AnalysisRecord struct {
	Identity   ContentIdentity  `json:"identity"`
	Status     AnalysisStatus   `json:"status"`
	Verdict    *CombinedVerdict `json:"verdict,omitempty"`
	LastError  FailureKind      `json:"last_error,omitempty"`
	RetryCount int              `json:"retry_count"`
	Attempts   int              `json:"attempts"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// ContentSignals is what a signal source extracted for one unit.
type ContentSignals struct {
	Text string
	URLs []string
}

// Empty reports whether there is nothing to analyze.
func (s ContentSignals) Empty() bool {
	return s.Text == "" && len(s.URLs) == 0
}

// FailureKind classifies scoring failures.
type FailureKind string

const (
	FailureServiceUnreachable FailureKind = "ServiceUnreachable"
	FailureServiceError       FailureKind = "ServiceError"
	FailureInvalidResponse    FailureKind = "InvalidResponse"
)

// ScoringError is returned by the scoring port. Callers treat all kinds alike
// unless they need to distinguish them.
type ScoringError struct {
	Kind       FailureKind
	Op         string
	StatusCode int
	Err        error
}

func (e *ScoringError) Error() string {
	msg := fmt.Sprintf("scoring %s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScoringError) Unwrap() error {
	return e.Err
}

// FailureKindOf extracts the failure kind of err, defaulting to ServiceUnreachable.
func FailureKindOf(err error) FailureKind {
	var se *ScoringError
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureServiceUnreachable
}

// SignalSource extracts what to send for one unit. It is called at most once
// per claimed analysis and only after the claim is won.
type SignalSource func(ctx context.Context) (ContentSignals, error)

// StaticSignals returns a SignalSource for already extracted signals.
func StaticSignals(s ContentSignals) SignalSource {
	return func(context.Context) (ContentSignals, error) { return s, nil }
}

// ObserveStatus is the outcome of one observation.
type ObserveStatus string

const (
	ObserveCompleted ObserveStatus = "completed"
	ObservePending   ObserveStatus = "pending"
	ObserveSkipped   ObserveStatus = "skipped"
	ObserveError     ObserveStatus = "error"
)

// SkipReason tells why an observation was skipped.
type SkipReason string

const (
	SkipDisabled        SkipReason = "disabled"
	SkipNoIdentity      SkipReason = "no_identity"
	SkipNotObserved     SkipReason = "not_observed"
	SkipExtractionEmpty SkipReason = "extraction_empty"
	SkipExtractionError SkipReason = "extraction_error"
)

// ObserveResult is what an observation hands back to its caller.
type ObserveResult struct {
	Identity string           `json:"identity"`
	Status   ObserveStatus    `json:"status"`
	Verdict  *CombinedVerdict `json:"verdict,omitempty"`
	Failure  FailureKind      `json:"failure,omitempty"`
	Reason   SkipReason       `json:"reason,omitempty"`
	Cached   bool             `json:"cached,omitempty"`
}
