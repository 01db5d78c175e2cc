package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/npms-io/npms-analyzer/common"
)

// npmDownloadsAPI is npm's own download-counts API base URL. It is not the
// vendor-specific "registry statistics" service spec.md treats as out of
// scope for the DownloadsFetcher abstraction itself, but it is a reasonable
// concrete default so CollectRegistry has something to call when no other
// fetcher is wired in.
const npmDownloadsAPI = "https://api.npmjs.org/downloads/range/last-year/"

type npmDownloadsResponse struct {
	Downloads []struct {
		Downloads int    `json:"downloads"`
		Day       string `json:"day"`
	} `json:"downloads"`
}

// DefaultDownloadsFetcher queries npm's public download-counts API for the
// last year of daily counts, most recent day first, matching the ordering
// bucketDailyDownloads expects.
func DefaultDownloadsFetcher(ctx context.Context, name string) ([]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, npmDownloadsAPI+url.PathEscape(name), nil)
	if err != nil {
		return nil, common.Classify(common.KindFatal, "collectors.registry", "build downloads request", err)
	}

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, common.Classify(common.KindTransient, "collectors.registry", "downloads request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &common.Classified{Kind: common.KindUnavailable, Origin: "collectors.registry", Reason: "no download stats for package"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &common.Classified{Kind: common.KindTransient, Origin: "collectors.registry", Reason: fmt.Sprintf("downloads API returned %d", resp.StatusCode)}
	}

	var parsed npmDownloadsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, common.Classify(common.KindTransient, "collectors.registry", "decode downloads response", err)
	}

	daily := make([]int, len(parsed.Downloads))
	for i, entry := range parsed.Downloads {
		daily[len(parsed.Downloads)-1-i] = entry.Downloads
	}
	return daily, nil
}
