// Package download fetches and extracts a package's source onto local
// disk so the collectors package has a working directory to inspect. It
// tries downloaders in a strict preference order — source-host tarball,
// git clone, registry tarball — the way network.DownloadFile fetches a
// single artifact to a temp path before renaming it into place, generalized
// here into several candidate sources tried in sequence until one
// succeeds.
package download

import (
	"context"
	"encoding/json"
	"os"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
)

// Source identifies which downloader produced a given Result, recorded so
// callers can log or score based on provenance.
type Source string

const (
	SourceHostTarball Source = "source-host"
	SourceGitClone    Source = "git"
	SourceRegistry    Source = "registry"
)

// Downloader fetches a package version's source into dir and returns only
// an error; Fetch records which source succeeded. A downloader that cannot handle this package
// (e.g. no repository field) returns a KindUnavailable error so Fetch
// falls through to the next candidate.
type Downloader func(ctx context.Context, manifest map[string]interface{}, dir string, cfg config.DownloadConfig) error

// Chain is the strict downloader preference order: try the source host's
// own tarball endpoint first (fastest, smallest, matches the published
// commit), then a full git clone (slower, but works for hosts without a
// tarball API), and finally the registry's own tarball (always available,
// but may lag behind the repository's HEAD).
var Chain = []struct {
	Source     Source
	Downloader Downloader
}{
	{SourceHostTarball, DownloadSourceHostTarball},
	{SourceGitClone, DownloadGitClone},
	{SourceRegistry, DownloadRegistryTarball},
}

// Result is the outcome of a successful download: the directory the
// source was extracted into, which downloader produced it, and the
// manifest merged from the published package.json and whatever
// package.json the download itself contained (the published fields win on
// conflict, per spec.md's merge-published-over-downloaded rule).
type Result struct {
	Dir      string
	Source   Source
	Manifest map[string]interface{}
}

// Fetch tries each downloader in Chain against workDir in order, returning
// the first success. A KindUnavailable error falls through to the next
// downloader; any other error stops the chain and is returned at once. If
// every downloader reports unavailable, Fetch returns the last of those
// errors, so a totally offline package (no repository, no registry
// tarball URL) is KindUnavailable and the pipeline can still
// evaluate it with whatever metadata the registry document already had.
func Fetch(ctx context.Context, publishedManifest, packageDoc map[string]interface{}, workDir string, cfg config.DownloadConfig) (*Result, error) {
	var lastErr error
	for _, candidate := range Chain {
		dir := workDir + "/" + string(candidate.Source)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, common.Classify(common.KindFatal, "download", "create work directory", err)
		}

		err := candidate.Downloader(ctx, publishedManifest, dir, cfg)
		if err == nil {
			merged, mergeErr := mergeManifest(publishedManifest, dir)
			if mergeErr != nil {
				return nil, mergeErr
			}
			return &Result{Dir: dir, Source: candidate.Source, Manifest: merged}, nil
		}

		_ = os.RemoveAll(dir)
		lastErr = err
		if common.KindOf(err) != common.KindUnavailable {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = &common.Classified{Kind: common.KindUnavailable, Origin: "download", Reason: "no downloader configured"}
	}
	return nil, lastErr
}

// mergeManifest reads the downloaded package.json, if any, and layers the
// published manifest's fields over it — the published registry document is
// always authoritative where both define a field, but fields only the
// downloaded source has (e.g. files omitted from the publish, like a
// "scripts.test" entry npm strips) are preserved. The merged result is
// written back to dir/package.json so on-disk tooling the collectors shell
// out to (npm audit, npm outdated) sees the same published-over-downloaded
// manifest the rest of the pipeline does.
func mergeManifest(published map[string]interface{}, dir string) (map[string]interface{}, error) {
	path := dir + "/package.json"

	merged := published
	data, err := os.ReadFile(path)
	if err == nil {
		var downloaded map[string]interface{}
		if jsonErr := json.Unmarshal(data, &downloaded); jsonErr != nil {
			return nil, common.Classify(common.KindUnrecoverable, "download.mergeManifest", "malformed downloaded package.json", jsonErr)
		}

		merged = make(map[string]interface{}, len(downloaded)+len(published))
		for k, v := range downloaded {
			merged[k] = v
		}
		for k, v := range published {
			merged[k] = v
		}
	}

	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, common.Classify(common.KindUnrecoverable, "download.mergeManifest", "marshal merged manifest", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return nil, common.Classify(common.KindFatal, "download.mergeManifest", "write merged package.json", err)
	}
	return merged, nil
}

func repositoryURL(manifest map[string]interface{}) (string, bool) {
	repo, ok := manifest["repository"]
	if !ok {
		return "", false
	}
	switch v := repo.(type) {
	case string:
		return v, v != ""
	case map[string]interface{}:
		u, ok := v["url"].(string)
		return u, ok && u != ""
	default:
		return "", false
	}
}

func unavailable(op, reason string) error {
	return &common.Classified{Kind: common.KindUnavailable, Origin: "download." + op, Reason: reason}
}

func transient(op, reason string, err error) error {
	return &common.Classified{Kind: common.KindTransient, Origin: "download." + op, Reason: reason, Cause: err}
}
