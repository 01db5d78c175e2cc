package collectors

import (
	"context"
	"net/http"

	gitea "code.gitea.io/sdk/gitea"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/npms-io/npms-analyzer/common"
)

// collectGitLab fetches repository info from a GitLab instance, plus the
// open-issue count taken from the first page (up to 100) of open issues.
// Contributor count, commit activity and issue distribution are not
// collected for GitLab repositories.
func collectGitLab(ctx context.Context, owner, repo string) (interface{}, error) {
	client, err := gitlab.NewClient("", gitlab.WithBaseURL("https://gitlab.com"), gitlab.WithHTTPClient(sharedHTTPClient))
	if err != nil {
		return nil, common.Classify(common.KindFatal, "collectors.sourceHost", "gitlab client setup", err)
	}

	project, resp, err := client.Projects.GetProject(owner+"/"+repo, nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, classifyHTTPStatusErr(statusOf(resp), err)
	}

	sh := &SourceHost{
		Host:        "gitlab.com",
		Stars:       project.StarCount,
		Forks:       project.ForksCount,
		Subscribers: project.OpenIssuesCount,
		Disabled:    project.Archived,
	}

	openIssues, resp, err := client.Issues.ListProjectIssues(owner+"/"+repo, &gitlab.ListProjectIssuesOptions{
		State:       gitlab.Ptr("opened"),
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}, gitlab.WithContext(ctx))
	if err == nil {
		sh.Issues.OpenCount = len(openIssues)
	} else if common.KindOf(classifyHTTPStatusErr(statusOf(resp), err)) != common.KindUnavailable {
		return nil, classifyHTTPStatusErr(statusOf(resp), err)
	}

	return sh, nil
}

// collectGitea fetches repository info from a Gitea (or Forgejo-compatible)
// instance, the self-hosted case spec.md's repository-URL host dispatch
// falls back to when the host isn't github.com or gitlab.com.
func collectGitea(ctx context.Context, host, owner, repo string) (interface{}, error) {
	client, err := gitea.NewClient("https://"+host, gitea.SetContext(ctx), gitea.SetHTTPClient(sharedHTTPClient))
	if err != nil {
		return nil, common.Classify(common.KindFatal, "collectors.sourceHost", "gitea client setup", err)
	}

	repoInfo, resp, err := client.GetRepo(owner, repo)
	if err != nil {
		return nil, classifyHTTPStatusErr(statusOf(resp), err)
	}

	sh := &SourceHost{
		Host:        host,
		Stars:       repoInfo.Stars,
		Forks:       repoInfo.Forks,
		Subscribers: repoInfo.Watchers,
		Disabled:    repoInfo.Archived,
		Issues: IssuesStats{
			OpenCount: repoInfo.OpenIssues,
		},
	}
	return sh, nil
}

// statusOf extracts an HTTP status from the heterogeneous response types
// gitea's and gitlab's SDKs return, defaulting to 0 (transient) when the
// error occurred before a response was received.
func statusOf(resp interface{}) int {
	switch r := resp.(type) {
	case *gitea.Response:
		if r != nil && r.Response != nil {
			return r.StatusCode
		}
	case *gitlab.Response:
		if r != nil && r.Response != nil {
			return r.StatusCode
		}
	}
	return 0
}

// classifyHTTPStatusErr applies the same {400, 403, 404, 451} -> Unavailable
// rule classifyGitHubErr uses, for the non-GitHub source-host adapters.
func classifyHTTPStatusErr(status int, err error) error {
	if err == nil {
		return nil
	}
	switch status {
	case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, 451:
		return common.Classify(common.KindUnavailable, "collectors.sourceHost", "repository resource unavailable", err)
	default:
		return common.Classify(common.KindTransient, "collectors.sourceHost", "source-host request failed", err)
	}
}
