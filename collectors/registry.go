package collectors

import (
	"context"
)

// Registry is the registry-statistics signal set: download counts bucketed
// by day range, dependent package count, and the star count copied over
// from the package document.
type Registry struct {
	Downloads  map[string]int `json:"downloads,omitempty"`
	Dependents int            `json:"dependentsCount"`
	StarsCount int            `json:"starsCount"`
}

// DownloadsFetcher fetches daily download counts for the past year, one
// entry per day, from whichever registry statistics endpoint the deployment
// points at. spec.md treats the exact vendor API as out of scope; this
// abstraction is what CollectRegistry depends on so the concrete HTTP
// client can be swapped or mocked freely.
type DownloadsFetcher func(ctx context.Context, name string) ([]int, error)

// DependentsCounter counts packages that declare name as a dependency, via
// whatever view/query the document store exposes for it.
type DependentsCounter func(ctx context.Context, name string) (int, error)

// RegistryDeps wires the two network-calling dependencies CollectRegistry
// needs; nil fields degrade that part of the collector to KindUnavailable
// rather than failing the whole collector, matching spec.md §7.
var RegistryDeps struct {
	Downloads  DownloadsFetcher
	Dependents DependentsCounter
}

// CollectRegistry derives star count from the package document directly and
// defers daily-download and dependent-count retrieval to the configured
// RegistryDeps, bucketing daily downloads into the fixed
// {1, 7, 30, 90, 180, 365} day ranges.
func CollectRegistry(ctx context.Context, in Input) (interface{}, error) {
	r := &Registry{}

	if v, ok := numberField(in.PackageDoc, "starsCount"); ok {
		r.StarsCount = v
	}

	if RegistryDeps.Downloads != nil {
		daily, err := RegistryDeps.Downloads(ctx, in.Name)
		if err == nil {
			r.Downloads = bucketDailyDownloads(daily)
		}
	}
	if RegistryDeps.Dependents != nil {
		if count, err := RegistryDeps.Dependents(ctx, in.Name); err == nil {
			r.Dependents = count
		}
	}

	return r, nil
}

func numberField(doc map[string]interface{}, key string) (int, bool) {
	v, ok := doc[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// bucketDailyDownloads sums the most recent N days of a 365-entry daily
// download series (index 0 = today) into the {1, 7, 30, 90, 180, 365}
// buckets.
func bucketDailyDownloads(daily []int) map[string]int {
	out := make(map[string]int, len(DownloadBuckets))
	for _, days := range DownloadBuckets {
		sum := 0
		for i := 0; i < days && i < len(daily); i++ {
			sum += daily[i]
		}
		out[downloadBucketKey(days)] = sum
	}
	return out
}

func downloadBucketKey(days int) string {
	switch days {
	case 1:
		return "last-day"
	case 7:
		return "last-week"
	case 30:
		return "last-month"
	case 90:
		return "last-quarter"
	case 180:
		return "last-half-year"
	default:
		return "last-year"
	}
}
