package evaluate

import "github.com/npms-io/npms-analyzer/collectors"

// Maintenance is the sub-vector measuring how actively a package is kept
// up to date and how responsive its maintainers are to reported issues.
type Maintenance struct {
	ReleasesFrequency  float64 `json:"releasesFrequency"`
	CommitsFrequency   float64 `json:"commitsFrequency"`
	OpenIssues         float64 `json:"openIssues"`
	IssuesDistribution float64 `json:"issuesDistribution"`
}

func evaluateMaintenance(c collectors.Collected) Maintenance {
	return Maintenance{
		ReleasesFrequency:  releasesFrequency(c),
		CommitsFrequency:   commitsFrequency(c),
		OpenIssues:         openIssues(c),
		IssuesDistribution: issuesDistribution(c),
	}
}

// releasesFrequency scores against the last-year release bucket: a
// package that ships regularly has a non-zero count in every window, one
// long abandoned has zeros throughout.
func releasesFrequency(c collectors.Collected) float64 {
	if c.Metadata == nil || c.Metadata.ReleasesLast == nil {
		return 0
	}
	return quasiLogNormal(float64(c.Metadata.ReleasesLast["last-year"]), 12)
}

// commitsFrequency scores against the last-quarter commit bucket the
// source-host collector produces.
func commitsFrequency(c collectors.Collected) float64 {
	if c.SourceHost == nil || c.SourceHost.Commits == nil {
		return 0
	}
	return quasiLogNormal(float64(c.SourceHost.Commits["last-quarter"]), 50)
}

// openIssues inverts the raw open-issue count: more open issues relative
// to the repository's total issue history scores lower, a package with no
// issue data at all (no source host, or Count == 0) is treated neutrally
// rather than penalized, since the absence of an issue tracker is not
// itself evidence of poor maintenance.
func openIssues(c collectors.Collected) float64 {
	if c.SourceHost == nil || c.SourceHost.Issues.Count == 0 {
		return 0.5
	}
	ratio := float64(c.SourceHost.Issues.OpenCount) / float64(c.SourceHost.Issues.Count)
	return clamp01(1 - ratio)
}

// issuesDistribution rewards open issues being recently opened rather
// than stale: a higher share of open issues younger than 30 days (versus
// the full open count) indicates maintainers are actively triaging new
// reports rather than letting a backlog accumulate untouched.
func issuesDistribution(c collectors.Collected) float64 {
	if c.SourceHost == nil || c.SourceHost.Issues.OpenCount == 0 {
		return 0.5
	}
	recent := c.SourceHost.Issues.DistributionDays["last-month"]
	return clamp01(float64(recent) / float64(c.SourceHost.Issues.OpenCount))
}
