package collectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/npms-io/npms-analyzer/common"
)

func TestNormalizeLicense(t *testing.T) {
	assert.Equal(t, "MIT", normalizeLicense("MIT/X11"))
	assert.Equal(t, "MIT", normalizeLicense("MIT"))
	assert.Equal(t, "Apache-2.0", normalizeLicense(map[string]interface{}{"type": "Apache-2.0"}))
	assert.Equal(t, "MIT OR ISC", normalizeLicense([]interface{}{
		map[string]interface{}{"type": "MIT"},
		map[string]interface{}{"type": "ISC"},
	}))
	assert.Equal(t, "", normalizeLicense(nil))
}

func TestPackageScope(t *testing.T) {
	assert.Equal(t, "npm", packageScope("@npm/cli"))
	assert.Equal(t, "", packageScope("left-pad"))
}

func TestDetectBrokenLinks(t *testing.T) {
	broken := detectBrokenLinks(map[string]string{
		"homepage":   "https://example.com",
		"repository": "not-a-url",
	})
	assert.Equal(t, []string{"repository"}, broken)
}

func TestBucketCounts_CountsWithinEachBreakpoint(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	timestamps := []time.Time{
		now.Add(-5 * 24 * time.Hour),
		now.Add(-40 * 24 * time.Hour),
		now.Add(-400 * 24 * time.Hour),
	}
	buckets := bucketCounts(timestamps, now, ReleaseBuckets)
	assert.Equal(t, 1, buckets["last-month"])
	assert.Equal(t, 2, buckets["last-quarter"])
	assert.Equal(t, 3, buckets["last-730-days"])
}

func TestBucketDailyDownloads_SumsPrefix(t *testing.T) {
	daily := make([]int, 365)
	for i := range daily {
		daily[i] = 1
	}
	buckets := bucketDailyDownloads(daily)
	assert.Equal(t, 1, buckets["last-day"])
	assert.Equal(t, 7, buckets["last-week"])
	assert.Equal(t, 365, buckets["last-year"])
}

func TestLooksLikeTyposquat_NoOverlapIsFlagged(t *testing.T) {
	manifest := map[string]interface{}{
		"repository": "https://github.com/someoneelse/totally-unrelated",
	}
	packageDoc := map[string]interface{}{
		"maintainers": []interface{}{
			map[string]interface{}{"name": "realauthor", "email": "realauthor@example.com"},
		},
	}
	assert.True(t, looksLikeTyposquat(manifest, packageDoc))
}

func TestLooksLikeTyposquat_MatchingOwnerIsNotFlagged(t *testing.T) {
	manifest := map[string]interface{}{
		"repository": "https://github.com/realauthor/some-package",
	}
	packageDoc := map[string]interface{}{
		"maintainers": []interface{}{
			map[string]interface{}{"name": "realauthor", "email": "realauthor@example.com"},
		},
	}
	assert.False(t, looksLikeTyposquat(manifest, packageDoc))
}

func TestLooksLikeTyposquat_NoRepositoryIsNotFlagged(t *testing.T) {
	assert.False(t, looksLikeTyposquat(map[string]interface{}{}, map[string]interface{}{}))
}

func TestRun_TyposquatShortCircuitsBeforeAnyCollector(t *testing.T) {
	in := Input{
		Name: "evil-pkg",
		Manifest: map[string]interface{}{
			"repository": "https://github.com/attacker/evil-pkg",
		},
		PackageDoc: map[string]interface{}{
			"maintainers": []interface{}{
				map[string]interface{}{"name": "realauthor", "email": "realauthor@example.com"},
			},
		},
	}
	_, err := Run(context.Background(), in)
	assert.Error(t, err)
	assert.Equal(t, common.KindUnrecoverable, common.KindOf(err))
}

func TestCollectRegistry_DerivesStarsFromPackageDoc(t *testing.T) {
	RegistryDeps.Downloads = nil
	RegistryDeps.Dependents = nil
	defer func() {
		RegistryDeps.Downloads = nil
		RegistryDeps.Dependents = nil
	}()

	in := Input{PackageDoc: map[string]interface{}{"starsCount": float64(42)}}
	result, err := CollectRegistry(context.Background(), in)
	assert.NoError(t, err)
	registry, ok := result.(*Registry)
	assert.True(t, ok)
	assert.Equal(t, 42, registry.StarsCount)
	assert.Nil(t, registry.Downloads)
}

func TestCollectMetadata_ExtractsLinksAndPeople(t *testing.T) {
	in := Input{
		Name: "left-pad",
		Manifest: map[string]interface{}{
			"license":    "MIT",
			"homepage":   "https://example.com/left-pad",
			"repository": map[string]interface{}{"url": "https://github.com/left-pad/left-pad"},
			"author":     map[string]interface{}{"name": "stevemao"},
		},
		PackageDoc: map[string]interface{}{},
	}
	result, err := CollectMetadata(context.Background(), in)
	assert.NoError(t, err)
	metadata, ok := result.(*Metadata)
	assert.True(t, ok)
	assert.Equal(t, "MIT", metadata.License)
	assert.Equal(t, "stevemao", metadata.Author.Name)
	assert.Equal(t, "https://example.com/left-pad", metadata.Links["homepage"])
	assert.Empty(t, metadata.BrokenLinks)
}

func TestCollectSourceCode_NoWorkDirIsUnavailable(t *testing.T) {
	_, err := CollectSourceCode(context.Background(), Input{})
	assert.Equal(t, common.KindUnavailable, common.KindOf(err))
}
