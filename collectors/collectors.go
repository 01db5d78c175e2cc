// Package collectors gathers the external signals the analysis pipeline
// evaluates: package metadata, registry statistics, source-host activity,
// and source-code quality markers. Each collector is a pluggable step with
// a typed contract, run concurrently with "settled" semantics — every
// collector runs to completion regardless of the others' outcomes, and the
// aggregate fails if any collector returned an error not classified
// KindUnavailable (transient errors included), matching spec.md §4.5's collector propagation rule. This
// generalizes the teacher's single linear `processMessage` step into a
// fan-out of independent, individually retryable steps.
package collectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/worker"
)

// Collected is the full set of signals gathered about one package, the
// `collected` field of the analysis document (spec.md §3).
type Collected struct {
	Metadata   *Metadata   `json:"metadata,omitempty"`
	Registry   *Registry   `json:"registry,omitempty"`
	SourceHost *SourceHost `json:"sourceHost,omitempty"`
	SourceCode *SourceCode `json:"sourceCode,omitempty"`
}

// Input is everything a collector needs: the merged manifest, the raw
// upstream package document, and the local working directory download
// populated (empty if download failed before extraction, in which case
// source-code collection is skipped).
type Input struct {
	Name       string
	Manifest   map[string]interface{}
	PackageDoc map[string]interface{}
	WorkDir    string
}

// Collector gathers one category of signal. A Collector returning an error
// classified KindUnavailable (common.Kind) is not a pipeline failure: its
// Collected field is simply left nil.
type Collector func(ctx context.Context, in Input) (interface{}, error)

// Run executes every named collector concurrently with settled semantics:
// all of them run to completion, and Run returns the first non-unavailable
// error encountered (if any) with an empty Collected; the results of the
// collectors that succeeded are not returned in that case. A typosquatting short-circuit (looksLikeTyposquat) skips every
// collector outright when the manifest's repository doesn't appear to
// belong to the publisher, matching spec.md §4.5's maintainer/email
// overlap check.
func Run(ctx context.Context, in Input) (Collected, error) {
	if looksLikeTyposquat(in.Manifest, in.PackageDoc) {
		return Collected{}, &common.Classified{Kind: common.KindUnrecoverable, Origin: "collectors",
			Reason: "repository does not appear to belong to the package's maintainers"}
	}

	names := []string{"metadata", "registry", "sourceHost", "sourceCode"}
	fns := []Collector{CollectMetadata, CollectRegistry, CollectSourceHost, CollectSourceCode}
	values := make([]interface{}, len(fns))
	errs := make([]error, len(fns))

	tasks := make([]worker.Task, len(fns))
	for i, fn := range fns {
		i, fn := i, fn
		tasks[i] = func(ctx context.Context) error {
			values[i], errs[i] = fn(ctx, in)
			return nil
		}
	}
	worker.New(len(tasks)).Run(ctx, tasks)

	collected := Collected{}
	var firstErr error
	for i, name := range names {
		if errs[i] != nil {
			if common.KindOf(errs[i]) != common.KindUnavailable && firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		switch name {
		case "metadata":
			if v, ok := values[i].(*Metadata); ok {
				collected.Metadata = v
			}
		case "registry":
			if v, ok := values[i].(*Registry); ok {
				collected.Registry = v
			}
		case "sourceHost":
			if v, ok := values[i].(*SourceHost); ok {
				collected.SourceHost = v
			}
		case "sourceCode":
			if v, ok := values[i].(*SourceCode); ok {
				collected.SourceCode = v
			}
		}
	}

	if firstErr != nil {
		return Collected{}, firstErr
	}
	return collected, nil
}

// ReleaseBuckets are the fixed day breakpoints the metadata collector's
// release dates bucket into, per spec.md §8's bucket-completeness property;
// downloads and commits use DownloadBuckets and CommitBuckets.
var ReleaseBuckets = []int{30, 90, 180, 365, 730}

// DownloadBuckets are the fixed day breakpoints the registry collector's
// download counts bucket into.
var DownloadBuckets = []int{1, 7, 30, 90, 180, 365}

// CommitBuckets are the fixed day breakpoints the source-host collector's
// commit activity buckets into.
var CommitBuckets = []int{7, 30, 90, 180, 365}

// bucketCounts returns, for each breakpoint in order, the count of
// timestamps at most that many days before now — the canonical shape every
// *Buckets aggregation in this package shares.
func bucketCounts(timestamps []time.Time, now time.Time, breakpointsDays []int) map[string]int {
	out := make(map[string]int, len(breakpointsDays))
	for _, days := range breakpointsDays {
		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
		count := 0
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				count++
			}
		}
		out[bucketKey(days)] = count
	}
	return out
}

// bucketKey names the bucket for a breakpoint itself (the call site passes
// the breakpoint value, e.g. {1, 7, 30, 90, 365}, not an elapsed-day count),
// so each distinct breakpoint must map to a distinct key.
func bucketKey(days int) string {
	switch days {
	case 1:
		return "last-day"
	case 7:
		return "last-week"
	case 30:
		return "last-month"
	case 90:
		return "last-quarter"
	case 365:
		return "last-year"
	default:
		return fmt.Sprintf("last-%d-days", days)
	}
}

// looksLikeTyposquat reports whether the manifest's declared repository
// owner/org shares no maintainer email domain or username overlap with the
// package's maintainers — a best-effort signal, not a guarantee.
func looksLikeTyposquat(manifest, packageDoc map[string]interface{}) bool {
	repoOwner := repositoryOwner(manifest)
	if repoOwner == "" {
		return false
	}
	maintainers, _ := packageDoc["maintainers"].([]interface{})
	if len(maintainers) == 0 {
		return false
	}
	for _, m := range maintainers {
		entry, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := entry["name"].(string)
		email, _ := entry["email"].(string)
		if strings.EqualFold(name, repoOwner) {
			return false
		}
		if email != "" && strings.Contains(strings.ToLower(email), strings.ToLower(repoOwner)) {
			return false
		}
	}
	return true
}

func repositoryOwner(manifest map[string]interface{}) string {
	repo, ok := manifest["repository"]
	if !ok {
		return ""
	}
	var url string
	switch v := repo.(type) {
	case string:
		url = v
	case map[string]interface{}:
		url, _ = v["url"].(string)
	}
	url = strings.TrimSuffix(url, ".git")
	parts := strings.Split(strings.TrimRight(url, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}
