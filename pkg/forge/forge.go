// Package forge is C2: a thin wrapper around the google/go-github SDK that
// every write passes through C1's rate limiter first, and every call passes
// through a circuit breaker so a down forge API degrades to
// coreerrors.ErrForgeUnavailable instead of hanging callers.
package forge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"github.com/agent-forge/core/pkg/coreerrors"
	"github.com/agent-forge/core/pkg/ratelimit"
)

// Limiter is the subset of *ratelimit.Limiter the forge client depends on.
type Limiter interface {
	Check(op ratelimit.OpKind, target, contentDigest string) ratelimit.Verdict
	Record(op ratelimit.OpKind, target, contentDigest string, success bool)
	UpdateAPIBudget(remaining int)
}

// Client is C2: a rate-limited, circuit-broken wrapper over the forge API.
type Client struct {
	gh      *github.Client
	limiter Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Config configures the underlying SDK client and its circuit breaker.
type Config struct {
	Token            string
	BaseURL          string
	RequestTimeout   time.Duration
	CircuitFailures  uint32
	CircuitResetTime time.Duration
}

// New constructs a Client. Every write it performs is gated by limiter.
func New(cfg Config, limiter Limiter) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = cfg.RequestTimeout

	gh := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		var err error
		gh, err = gh.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring enterprise base URL: %w", err)
		}
	}

	maxFailures := cfg.CircuitFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	resetTime := cfg.CircuitResetTime
	if resetTime == 0 {
		resetTime = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "forge",
		MaxRequests: 1,
		Timeout:     resetTime,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})

	return &Client{
		gh:      gh,
		limiter: limiter,
		breaker: breaker,
		logger:  slog.Default().With("component", "forge-client"),
	}, nil
}

// call runs fn through the circuit breaker, translating a tripped breaker
// or a forge-side error into coreerrors.ErrForgeUnavailable.
func (c *Client) call(op string, fn func() (any, *github.Response, error)) (any, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		v, resp, err := fn()
		if resp != nil {
			c.limiter.UpdateAPIBudget(resp.Rate.Remaining)
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, coreerrors.NewForgeUnavailable(op, err)
	}
	if err != nil {
		return nil, coreerrors.NewForgeUnavailable(op, err)
	}
	return result, nil
}

func digest(s string) string {
	h := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%x", h)
}

// guardWrite consults C1 before any mutating forge call and records the
// outcome exactly once, including on failure.
func (c *Client) guardWrite(ctx context.Context, op ratelimit.OpKind, target, content string, do func() error) error {
	d := digest(content)
	verdict := c.limiter.Check(op, target, d)
	if !verdict.Allowed {
		return coreerrors.NewRateLimited(verdict.Reason, verdict.RetryAfter)
	}
	err := do()
	c.limiter.Record(op, target, d, err == nil)
	return err
}

// CreateComment posts a comment on an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, error) {
	var created *github.IssueComment
	target := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	err := c.guardWrite(ctx, ratelimit.OpIssueComment, target, body, func() error {
		v, err := c.call("create_comment", func() (any, *github.Response, error) {
			comment, resp, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &body})
			return comment, resp, err
		})
		if err != nil {
			return err
		}
		created = v.(*github.IssueComment)
		return nil
	})
	return created, err
}

// AddLabels applies labels to an issue or pull request. Idempotent: the
// forge API itself treats re-adding an existing label as a no-op, so no
// additional dedup marker is needed here.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	target := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	content := fmt.Sprintf("%v", labels)
	return c.guardWrite(ctx, ratelimit.OpIssueUpdate, target, content, func() error {
		_, err := c.call("add_labels", func() (any, *github.Response, error) {
			got, resp, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
			return got, resp, err
		})
		return err
	})
}

// RemoveLabel removes a single label from an issue or pull request.
// Idempotent: the forge API returns 404 if the label is already absent,
// which is treated as success rather than an error.
func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	target := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	return c.guardWrite(ctx, ratelimit.OpIssueUpdate, target, label, func() error {
		_, err := c.call("remove_label", func() (any, *github.Response, error) {
			resp, err := c.gh.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
			if ghErr, ok := err.(*github.ErrorResponse); ok && ghErr.Response != nil && ghErr.Response.StatusCode == 404 {
				return nil, resp, nil
			}
			return nil, resp, err
		})
		return err
	})
}

// CreateBranch creates a new branch ref from baseSHA.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, baseSHA string) error {
	target := fmt.Sprintf("%s/%s:%s", owner, repo, branch)
	ref := "refs/heads/" + branch
	return c.guardWrite(ctx, ratelimit.OpBranchCreate, target, baseSHA, func() error {
		_, err := c.call("create_branch", func() (any, *github.Response, error) {
			created, resp, err := c.gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
				Ref:    &ref,
				Object: &github.GitObject{SHA: &baseSHA},
			})
			return created, resp, err
		})
		return err
	})
}

// CreatePullRequest opens a pull request from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo, title, head, base, body string) (*github.PullRequest, error) {
	var created *github.PullRequest
	target := fmt.Sprintf("%s/%s:%s->%s", owner, repo, head, base)
	err := c.guardWrite(ctx, ratelimit.OpPRCreate, target, title+body, func() error {
		v, err := c.call("create_pull_request", func() (any, *github.Response, error) {
			pr, resp, err := c.gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
				Title: &title, Head: &head, Base: &base, Body: &body,
			})
			return pr, resp, err
		})
		if err != nil {
			return err
		}
		created = v.(*github.PullRequest)
		return nil
	})
	return created, err
}

// MergePullRequest merges a pull request using the squash strategy.
func (c *Client) MergePullRequest(ctx context.Context, owner, repo string, number int, commitMessage string) error {
	target := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	return c.guardWrite(ctx, ratelimit.OpPRMerge, target, commitMessage, func() error {
		_, err := c.call("merge_pull_request", func() (any, *github.Response, error) {
			result, resp, err := c.gh.PullRequests.Merge(ctx, owner, repo, number, commitMessage, &github.PullRequestOptions{
				MergeMethod: "squash",
			})
			return result, resp, err
		})
		return err
	})
}

// GetIssue fetches an issue by number. Read-only: not gated by C1 beyond the
// global API-budget safety check — reads are unlimited per-window but still
// subject to that safety threshold.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error) {
	target := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	verdict := c.limiter.Check(ratelimit.OpAPIRead, target, "")
	if !verdict.Allowed {
		return nil, coreerrors.NewRateLimited(verdict.Reason, verdict.RetryAfter)
	}
	v, err := c.call("get_issue", func() (any, *github.Response, error) {
		issue, resp, err := c.gh.Issues.Get(ctx, owner, repo, number)
		return issue, resp, err
	})
	c.limiter.Record(ratelimit.OpAPIRead, target, "", err == nil)
	if err != nil {
		return nil, err
	}
	return v.(*github.Issue), nil
}

// ListOpenIssues lists open issues bearing label, oldest-first (C10 relies
// on this ordering to process issues oldest-first per poll cycle).
func (c *Client) ListOpenIssues(ctx context.Context, owner, repo, label string) ([]*github.Issue, error) {
	target := fmt.Sprintf("%s/%s", owner, repo)
	verdict := c.limiter.Check(ratelimit.OpAPIRead, target, "")
	if !verdict.Allowed {
		return nil, coreerrors.NewRateLimited(verdict.Reason, verdict.RetryAfter)
	}

	var all []*github.Issue
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{label},
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		var lastResp *github.Response
		v, err := c.call("list_issues", func() (any, *github.Response, error) {
			issues, resp, err := c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
			lastResp = resp
			return issues, resp, err
		})
		c.limiter.Record(ratelimit.OpAPIRead, target, "", err == nil)
		if err != nil {
			return nil, err
		}
		page := v.([]*github.Issue)
		all = append(all, page...)

		if lastResp == nil || lastResp.NextPage == 0 {
			break
		}
		opts.Page = lastResp.NextPage
	}
	return all, nil
}

// ListComments lists an issue or pull request's comments oldest-first. C10
// uses this to break ties between racing claimants.
func (c *Client) ListComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error) {
	target := fmt.Sprintf("%s/%s#%d", owner, repo, number)
	verdict := c.limiter.Check(ratelimit.OpAPIRead, target, "")
	if !verdict.Allowed {
		return nil, coreerrors.NewRateLimited(verdict.Reason, verdict.RetryAfter)
	}
	v, err := c.call("list_comments", func() (any, *github.Response, error) {
		comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, &github.IssueListCommentsOptions{
			Sort:      github.String("created"),
			Direction: github.String("asc"),
		})
		return comments, resp, err
	})
	c.limiter.Record(ratelimit.OpAPIRead, target, "", err == nil)
	if err != nil {
		return nil, err
	}
	return v.([]*github.IssueComment), nil
}

// RateLimitRemaining reports GitHub's last-known remaining request budget.
func (c *Client) RateLimitRemaining(ctx context.Context) (int, error) {
	v, err := c.call("rate_limit", func() (any, *github.Response, error) {
		limits, resp, err := c.gh.RateLimit.Get(ctx)
		return limits, resp, err
	})
	if err != nil {
		return 0, err
	}
	limits := v.(*github.RateLimits)
	return limits.Core.Remaining, nil
}
