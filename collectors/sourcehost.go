package collectors

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/npms-io/npms-analyzer/common"
)

// SourceHost is the source-host activity signal set: repository metadata,
// contributor count, bucketed commit activity, and issue statistics.
type SourceHost struct {
	Host              string         `json:"host"`
	Stars             int            `json:"stars"`
	Forks             int            `json:"forks"`
	Subscribers       int            `json:"subscribers"`
	Disabled          bool           `json:"disabled"`
	ContributorsCount int            `json:"contributorsCount"`
	Commits           map[string]int `json:"commits,omitempty"`
	Issues            IssuesStats    `json:"issues"`
}

// IssuesStats summarizes a repository's issue tracker.
type IssuesStats struct {
	Count     int `json:"count"`
	OpenCount int `json:"openCount"`
	// DistributionDays buckets open issues by age in days: how many are
	// younger than 1, 7, 30, 90, 365 days.
	DistributionDays map[string]int `json:"distribution,omitempty"`
}

// TokenDealer rotates a pool of API tokens so a single process can exceed
// one token's rate limit by spreading requests across several. It mirrors
// the rotate-on-exhaustion behaviour spec.md §4.5 describes: when a token's
// bucket is empty, the dealer moves to the next one rather than blocking
// the caller on that token's own reset.
type TokenDealer struct {
	tokens   []string
	limiters []*rate.Limiter
	next     int
}

// NewTokenDealer builds a dealer over tokens, each allowed requestsPerHour
// requests (GitHub's unauthenticated/authenticated REST budgets are hourly).
func NewTokenDealer(tokens []string, requestsPerHour int) *TokenDealer {
	d := &TokenDealer{tokens: tokens}
	rps := rate.Limit(float64(requestsPerHour) / 3600)
	for range tokens {
		d.limiters = append(d.limiters, rate.NewLimiter(rps, requestsPerHour))
	}
	return d
}

// Take returns the next token with available quota, waiting on the limiter
// of the next token in rotation if every token is currently exhausted.
func (d *TokenDealer) Take(ctx context.Context) (string, error) {
	if len(d.tokens) == 0 {
		return "", nil
	}
	for i := 0; i < len(d.tokens); i++ {
		idx := (d.next + i) % len(d.tokens)
		if d.limiters[idx].Allow() {
			d.next = (idx + 1) % len(d.tokens)
			return d.tokens[idx], nil
		}
	}
	idx := d.next
	d.next = (idx + 1) % len(d.tokens)
	if err := d.limiters[idx].Wait(ctx); err != nil {
		return "", err
	}
	return d.tokens[idx], nil
}

// Dealer is the process-wide GitHub token pool, wired up once at boot from
// config.SourceHostConfig.GitHubTokens.
var Dealer *TokenDealer

// newGitHubClient builds a go-github client whose underlying transport
// retries HTTP 403/429 responses with the reset-aware backoff from
// go-github-ratelimit, so a burst of collector calls against a
// near-exhausted token doesn't surface as a hard failure.
func newGitHubClient(ctx context.Context, token string) *github.Client {
	var base http.RoundTripper = sharedHTTPClient.Transport
	if token != "" {
		base = &oauth2.Transport{Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}), Base: base}
	}
	rateLimited, _ := github_ratelimit.NewRateLimitWaiterClient(base)
	return github.NewClient(rateLimited)
}

// CollectSourceHost fetches repository info, contributors, commit activity
// and issue statistics from whichever host the manifest's repository field
// points at. GitHub is the fully wired host; Gitea and GitLab repositories
// resolve to a narrower signal, repository info plus the open-issue count
// (collectors/sourcehost_other.go).
func CollectSourceHost(ctx context.Context, in Input) (interface{}, error) {
	owner, repo, host, ok := parseRepository(in.Manifest["repository"])
	if !ok {
		return nil, &common.Classified{Kind: common.KindUnavailable, Origin: "collectors.sourceHost", Reason: "no recognizable repository field"}
	}

	switch host {
	case "github.com":
		return collectGitHub(ctx, owner, repo)
	case "gitlab.com":
		return collectGitLab(ctx, owner, repo)
	default:
		return collectGitea(ctx, host, owner, repo)
	}
}

func collectGitHub(ctx context.Context, owner, repo string) (interface{}, error) {
	token := ""
	if Dealer != nil {
		var err error
		token, err = Dealer.Take(ctx)
		if err != nil {
			return nil, common.Classify(common.KindTransient, "collectors.sourceHost", "token dealer wait", err)
		}
	}
	client := newGitHubClient(ctx, token)

	repoInfo, resp, err := client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, classifyGitHubErr(resp, err)
	}

	sh := &SourceHost{
		Host:        "github.com",
		Stars:       repoInfo.GetStargazersCount(),
		Forks:       repoInfo.GetForksCount(),
		Subscribers: repoInfo.GetSubscribersCount(),
		Disabled:    repoInfo.GetDisabled(),
	}

	contributors, resp, err := client.Repositories.ListContributors(ctx, owner, repo, &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err == nil {
		sh.ContributorsCount = len(contributors)
	} else if common.KindOf(classifyGitHubErr(resp, err)) != common.KindUnavailable {
		return nil, classifyGitHubErr(resp, err)
	}

	commits, err := fetchCommitActivityWithRetry(ctx, client, owner, repo)
	if err == nil {
		sh.Commits = commits
	}

	issues, err := fetchIssuesStats(ctx, client, owner, repo)
	if err == nil {
		sh.Issues = issues
	}

	return sh, nil
}

// fetchCommitActivityWithRetry retries up to 5 times on HTTP 202, GitHub's
// "statistics are being computed, try again shortly" response, per
// spec.md §4.5.
func fetchCommitActivityWithRetry(ctx context.Context, client *github.Client, owner, repo string) (map[string]int, error) {
	for attempt := 0; attempt < 5; attempt++ {
		weeks, resp, err := client.Repositories.ListCommitActivity(ctx, owner, repo)
		if resp != nil && resp.Response != nil && resp.StatusCode == http.StatusAccepted {
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err != nil {
			return nil, classifyGitHubErr(resp, err)
		}
		var commitTimes []time.Time
		for _, w := range weeks {
			total := w.GetTotal()
			if total == 0 {
				continue
			}
			weekStart := w.GetWeek().Time
			for i := 0; i < total; i++ {
				commitTimes = append(commitTimes, weekStart)
			}
		}
		return bucketCounts(commitTimes, time.Now(), CommitBuckets), nil
	}
	return nil, &common.Classified{Kind: common.KindUnavailable, Origin: "collectors.sourceHost", Reason: "commit stats not ready after 5 attempts"}
}

func fetchIssuesStats(ctx context.Context, client *github.Client, owner, repo string) (IssuesStats, error) {
	var stats IssuesStats
	var ageDays []time.Time
	opts := &github.IssueListByRepoOptions{State: "all", ListOptions: github.ListOptions{PerPage: 100}}
	for {
		issues, resp, err := client.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return stats, classifyGitHubErr(resp, err)
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			stats.Count++
			if issue.GetState() == "open" {
				stats.OpenCount++
				ageDays = append(ageDays, issue.GetCreatedAt().Time)
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	stats.DistributionDays = bucketCounts(ageDays, time.Now(), []int{1, 7, 30, 90, 365})
	return stats, nil
}

// classifyGitHubErr maps go-github's error shapes onto common.Kind:
// {400, 403, 404, 451} are a gone/forbidden resource (Unavailable, per
// spec.md §4.5); everything else transient.
func classifyGitHubErr(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	switch status {
	case 400, 403, 404, 451:
		return common.Classify(common.KindUnavailable, "collectors.sourceHost", "repository resource unavailable", err)
	default:
		return common.Classify(common.KindTransient, "collectors.sourceHost", "source-host request failed", err)
	}
}

func parseRepository(raw interface{}) (owner, repo, host string, ok bool) {
	var url string
	switch v := raw.(type) {
	case string:
		url = v
	case map[string]interface{}:
		url, _ = v["url"].(string)
	default:
		return "", "", "", false
	}
	url = strings.TrimSuffix(url, ".git")
	url = strings.TrimPrefix(url, "git+")
	url = strings.TrimPrefix(url, "git://")
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "git@")
	url = strings.ReplaceAll(url, ":", "/")

	parts := strings.Split(strings.Trim(url, "/"), "/")
	if len(parts) < 3 {
		return "", "", "", false
	}
	host = parts[0]
	owner = parts[1]
	repo = parts[2]
	return owner, repo, host, true
}

// collectGitLab and collectGitea are implemented in sourcehost_other.go,
// which holds the narrower repository-info plus open-issue-count signal for hosted/self-hosted
// alternatives to GitHub.
