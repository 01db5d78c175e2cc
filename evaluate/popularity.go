package evaluate

import "github.com/npms-io/npms-analyzer/collectors"

// Popularity is the sub-vector measuring how widely used and discussed a
// package is. CommunityInterest weakly increases with the source host's
// star count (spec.md §8 property 10's example monotonicity check).
type Popularity struct {
	CommunityInterest     float64 `json:"communityInterest"`
	DownloadsCount        float64 `json:"downloadsCount"`
	DownloadsAcceleration float64 `json:"downloadsAcceleration"`
	DependentsCount       float64 `json:"dependentsCount"`
}

func evaluatePopularity(c collectors.Collected) Popularity {
	return Popularity{
		CommunityInterest:     communityInterest(c),
		DownloadsCount:        downloadsCount(c),
		DownloadsAcceleration: downloadsAcceleration(c),
		DependentsCount:       dependentsCount(c),
	}
}

// communityInterest scores stars, forks and subscribers from the source
// host; only when the source-host collector came back empty (unreachable
// host, no repository field) does it fall back to the registry's own star
// count, so a package still scores on this axis.
func communityInterest(c collectors.Collected) float64 {
	var stars, forks, subscribers float64
	if c.SourceHost != nil {
		stars = float64(c.SourceHost.Stars)
		forks = float64(c.SourceHost.Forks)
		subscribers = float64(c.SourceHost.Subscribers)
	} else if c.Registry != nil {
		stars = float64(c.Registry.StarsCount)
	}
	return weightedAverage(
		[]float64{quasiLogNormal(stars, 5000), quasiLogNormal(forks, 1500), quasiLogNormal(subscribers, 500)},
		[]float64{2, 1, 1},
	)
}

// downloadsCount scores against the most recent month's download bucket,
// the registry signal least sensitive to single-day spikes or outages.
func downloadsCount(c collectors.Collected) float64 {
	if c.Registry == nil || c.Registry.Downloads == nil {
		return 0
	}
	return quasiLogNormal(float64(c.Registry.Downloads["last-month"]), 1_000_000)
}

// downloadsAcceleration compares the daily download rate over the last
// week against the last year's daily rate: a package trending upward
// scores above its flat-rate baseline of 0.5, a package trending down
// scores below it.
func downloadsAcceleration(c collectors.Collected) float64 {
	if c.Registry == nil || c.Registry.Downloads == nil {
		return 0.5
	}
	lastWeekDaily := float64(c.Registry.Downloads["last-week"]) / 7
	lastYearDaily := float64(c.Registry.Downloads["last-year"]) / 365
	if lastYearDaily == 0 {
		if lastWeekDaily == 0 {
			return 0.5
		}
		return 1
	}
	ratio := lastWeekDaily / lastYearDaily
	return clamp01(quasiLogNormal(ratio, 3))
}

func dependentsCount(c collectors.Collected) float64 {
	if c.Registry == nil {
		return 0
	}
	return quasiLogNormal(float64(c.Registry.Dependents), 2000)
}
