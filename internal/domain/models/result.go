package models

import "time"

// FilterResult is what a single stage reports back: the surviving symbols
// plus a reason for every rejection. Immutable once returned.
type FilterResult struct {
	Passed  []string
	Reasons map[string]string // rejected symbol -> reason
}

// PassedCount returns the number of surviving symbols.
func (r FilterResult) PassedCount() int {
	return len(r.Passed)
}

// RejectedCount returns the number of rejected symbols.
func (r FilterResult) RejectedCount() int {
	return len(r.Reasons)
}

// StageResult is the audit record of one executed stage.
type StageResult struct {
	Stage       string
	InputCount  int
	OutputCount int
	Duration    time.Duration
	Reasons     map[string]string // rejected symbol -> reason
}

// ReductionRatio returns 0.0 for no reduction, 1.0 when everything was
// filtered out.
func (r StageResult) ReductionRatio() float64 {
	if r.InputCount == 0 {
		return 0.0
	}
	return 1.0 - float64(r.OutputCount)/float64(r.InputCount)
}

// MetricSummary is the aggregate view of one recorded metric.
type MetricSummary struct {
	Count int64
	Total float64
	Last  float64
}

// ResultMetadata ties a result back to its run.
type ResultMetadata struct {
	CorrelationID  string
	StartedAt      time.Time
	CompletedAt    time.Time
	Duration       time.Duration
	SnapshotID     string
	CodeVersion    string
	ConfigHash     string
	FilterVersions map[string]string
}

// ScreeningResult is the complete, append-only outcome of one run.
type ScreeningResult struct {
	Request       ScreeningRequest
	InputUniverse []Asset
	FinalUniverse []Asset
	AuditTrail    []StageResult
	Metrics       map[string]MetricSummary
	Metadata      ResultMetadata
}

// TotalReductionRatio returns the end-to-end reduction across all stages.
func (r *ScreeningResult) TotalReductionRatio() float64 {
	if len(r.InputUniverse) == 0 {
		return 0.0
	}
	return 1.0 - float64(len(r.FinalUniverse))/float64(len(r.InputUniverse))
}
