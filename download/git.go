package download

import (
	"context"
	"strings"

	git "github.com/go-git/go-git/v5"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
)

// DownloadGitClone clones the manifest's repository with a shallow,
// single-branch checkout, the fallback downloader for hosts
// DownloadSourceHostTarball doesn't recognize. go-git is the only
// pure-Go git implementation in the retrieved pack, so cloning never shells
// out to a system git binary the way network.DownloadFile shells out to
// nothing at all (it streams HTTP directly); this keeps the same
// no-subprocess property for the git path.
func DownloadGitClone(ctx context.Context, manifest map[string]interface{}, dir string, cfg config.DownloadConfig) error {
	repoURL, ok := repositoryURL(manifest)
	if !ok {
		return unavailable("gitClone", "manifest has no repository field")
	}
	repoURL = normalizeGitURL(repoURL)

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:          repoURL,
		Depth:        1,
		SingleBranch: true,
		Tags:         git.NoTags,
	})
	if err == nil {
		return nil
	}

	switch {
	case err == context.DeadlineExceeded:
		return transient("gitClone", "clone timed out", err)
	case strings.Contains(err.Error(), "authentication required"),
		strings.Contains(err.Error(), "repository not found"):
		return unavailable("gitClone", "repository not accessible")
	default:
		return transient("gitClone", "clone failed", err)
	}
}

func normalizeGitURL(repoURL string) string {
	repoURL = strings.TrimPrefix(repoURL, "git+")
	if strings.HasPrefix(repoURL, "git://") {
		repoURL = "https://" + strings.TrimPrefix(repoURL, "git://")
	}
	return repoURL
}
