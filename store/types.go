package store

import "time"

// AnalysisDocument is the per-package record the analysis orchestrator
// owns exclusively, keyed "analysis!<name>" per spec.md §3. It is replaced
// wholesale on each analysis rather than accumulating history, unlike the
// teacher's ProcessDocument (cli/consumer.go), which appends every state
// transition to an in-document History slice — analysis documents only
// ever reflect the most recent pass.
type AnalysisDocument struct {
	ID         string                 `json:"_id"`
	Rev        string                 `json:"_rev,omitempty"`
	Name       string                 `json:"name"`
	StartedAt  time.Time              `json:"startedAt"`
	FinishedAt time.Time              `json:"finishedAt"`
	Collected  map[string]interface{} `json:"collected"`
	Evaluation map[string]interface{} `json:"evaluation,omitempty"`
	Error      *AnalysisError         `json:"error,omitempty"`
}

// AnalysisError is the serialized failure recorded on a degraded analysis
// document, per spec.md §4.5 step 7: "error (serialized kind+message+caughtAt)".
type AnalysisError struct {
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	CaughtAt time.Time `json:"caughtAt"`
}

// PackageCheckpoint is the per-package observer checkpoint, "obs!<name>"
// per spec.md §3, independently owned by the realtime and stale observers
// via its two namespaced sub-fields.
type PackageCheckpoint struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`

	Realtime struct {
		ModifiedAt time.Time `json:"modifiedAt,omitempty"`
	} `json:"realtime,omitempty"`

	Stale struct {
		NotifiedAt time.Time `json:"notifiedAt,omitempty"`
	} `json:"stale,omitempty"`
}

// RealtimeCheckpoint is the singleton document recording the last
// processed upstream change sequence, "obs!realtime!last_followed_seq".
type RealtimeCheckpoint struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`
	Seq string `json:"seq"`
}

// MetricStats is one metric's population statistics within an Aggregation
// document: min, max, mean, truncated mean (1% tail trim), and median.
type MetricStats struct {
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Mean          float64 `json:"mean"`
	TruncatedMean float64 `json:"truncatedMean"`
	Median        float64 `json:"median"`
}

// Aggregation is the singleton document the scoring cycle's Aggregate
// phase replaces every cycle, "scoring!aggregation" per spec.md §6.
type Aggregation struct {
	ID      string                 `json:"_id"`
	Rev     string                 `json:"_rev,omitempty"`
	Metrics map[string]MetricStats `json:"metrics"`
}
