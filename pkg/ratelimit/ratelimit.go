// Package ratelimit implements C1: the cross-cutting guard every outbound
// forge write passes through, tracking counts under a single mutex rather
// than one lock per window.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/agent-forge/core/pkg/config"
)

// OpKind is one of the closed set of rate-limited operation kinds.
type OpKind string

const (
	OpIssueComment OpKind = "issue_comment"
	OpIssueCreate  OpKind = "issue_create"
	OpIssueUpdate  OpKind = "issue_update"
	OpPRCreate     OpKind = "pr_create"
	OpPRComment    OpKind = "pr_comment"
	OpPRUpdate     OpKind = "pr_update"
	OpPRMerge      OpKind = "pr_merge"
	OpBranchCreate OpKind = "branch_create"
	OpAPIRead      OpKind = "api_read"
)

// Event is an append-only Rate-Limit Event.
type Event struct {
	Timestamp     time.Time
	OpKind        OpKind
	Target        string
	ContentDigest string
	Success       bool
	APIRemaining  int
}

// Verdict is the result of Check: either Allow or a Deny with a reason.
type Verdict struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Allow is the canonical admitted verdict.
var Allow = Verdict{Allowed: true}

func deny(reason string, retryAfter time.Duration) Verdict {
	return Verdict{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}

// Snapshot is the read-only aggregate returned by Stats.
type Snapshot struct {
	TotalEvents     int
	SuccessfulOps   int
	DeniedLastCheck int
	APIRemaining    int
	CountByOpKind   map[OpKind]int
}

// Limiter is C1. Safe for concurrent use: internal mutation is serialized by
// a single mutex; Stats reads a point-in-time copy.
type Limiter struct {
	cfg config.RateLimitConfig

	mu           sync.Mutex
	events       []Event // bounded ring, oldest evicted first
	lastOp       map[OpKind]time.Time
	apiRemaining int
	deniedCount  int

	burst *rate.Limiter
	dedup *lru.Cache[string, []time.Time]
}

// New constructs a Limiter from configuration. apiRemaining starts at the
// forge's reported quota ceiling (5000 is GitHub's conventional default;
// callers should call UpdateAPIBudget as soon as a real response arrives).
func New(cfg config.RateLimitConfig) *Limiter {
	dedup, err := lru.New[string, []time.Time](maxInt(cfg.EventLogCapacity/4, 64))
	if err != nil {
		// lru.New only errors on a non-positive size, which maxInt(..., 64)
		// already rules out; the 64-entry fallback keeps the limiter usable.
		dedup, _ = lru.New[string, []time.Time](64)
	}
	return &Limiter{
		cfg:          cfg,
		lastOp:       make(map[OpKind]time.Time),
		apiRemaining: 5000,
		burst:        rate.NewLimiter(rate.Every(cfg.BurstWindow/time.Duration(cfg.BurstCap)), cfg.BurstCap),
		dedup:        dedup,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// UpdateAPIBudget records the forge's last-reported remaining quota, parsed
// by C2 from response headers.
func (l *Limiter) UpdateAPIBudget(remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.apiRemaining = remaining
}

// Check is a pure query: it never mutates limiter state. Checks run in a
// fixed order; the first failing check wins. Reads (OpAPIRead) are subject
// only to the API-budget safety threshold.
func (l *Limiter) Check(op OpKind, target, contentDigest string) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.apiRemaining <= l.cfg.SafetyThreshold {
		return deny(fmt.Sprintf("forge API budget %d at or below safety threshold %d", l.apiRemaining, l.cfg.SafetyThreshold), 0)
	}

	if op == OpAPIRead {
		return Allow
	}

	if v := l.checkCooldown(op); !v.Allowed {
		return v
	}

	if v := l.checkWindows(op); !v.Allowed {
		return v
	}

	if v := l.checkBurst(); !v.Allowed {
		return v
	}

	if v := l.checkDuplicate(op, target, contentDigest); !v.Allowed {
		return v
	}

	return Allow
}

func (l *Limiter) checkCooldown(op OpKind) Verdict {
	cooldown, ok := l.cfg.Cooldown[string(op)]
	if !ok || cooldown <= 0 {
		return Allow
	}
	last, ok := l.lastOp[op]
	if !ok {
		return Allow
	}
	if elapsed := time.Since(last); elapsed < cooldown {
		return deny(fmt.Sprintf("cooldown active for %s", op), cooldown-elapsed)
	}
	return Allow
}

func (l *Limiter) checkWindows(op OpKind) Verdict {
	now := time.Now()
	windows := []struct {
		name   string
		window time.Duration
		limits map[string]int
	}{
		{"minute", time.Minute, l.cfg.PerMinute},
		{"hour", time.Hour, l.cfg.PerHour},
		{"day", 24 * time.Hour, l.cfg.PerDay},
	}
	for _, w := range windows {
		limit, ok := w.limits[string(op)]
		if !ok {
			continue
		}
		count := l.countSince(op, now.Add(-w.window))
		if count >= limit {
			return deny(fmt.Sprintf("%s limit of %d reached for %s", w.name, limit, op), w.window)
		}
	}
	return Allow
}

// checkBurst denies once BurstCap operations of any kind have been recorded
// within the trailing BurstWindow. It also consults the token bucket, which
// Record feeds one token per operation; Tokens() reads it without consuming.
func (l *Limiter) checkBurst() Verdict {
	cutoff := time.Now().Add(-l.cfg.BurstWindow)
	n := 0
	for _, e := range l.events {
		if e.Timestamp.After(cutoff) {
			n++
		}
	}
	if n >= l.cfg.BurstCap || l.burst.Tokens() < 1 {
		return deny("burst cap reached", l.cfg.BurstWindow)
	}
	return Allow
}

func (l *Limiter) checkDuplicate(op OpKind, target, digest string) Verdict {
	if l.cfg.MaxDuplicateOperations <= 0 || digest == "" {
		return Allow
	}
	key := string(op) + ":" + target + ":" + digest
	cutoff := time.Now().Add(-l.cfg.DuplicateWindow)

	count := l.countDuplicatesSince(key, cutoff)
	if count >= l.cfg.MaxDuplicateOperations {
		return deny(fmt.Sprintf("duplicate content seen %d times within %s", count, l.cfg.DuplicateWindow), l.cfg.DuplicateWindow)
	}
	return Allow
}

// countDuplicatesSince cross-validates the LRU fast path against the
// authoritative event log, since an LRU eviction could otherwise
// under-count a digest that is still within the real time window.
func (l *Limiter) countDuplicatesSince(key string, cutoff time.Time) int {
	times, _ := l.dedup.Get(key)
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			n++
		}
	}
	logged := 0
	for _, e := range l.events {
		if e.Timestamp.After(cutoff) && string(e.OpKind)+":"+e.Target+":"+e.ContentDigest == key {
			logged++
		}
	}
	if logged > n {
		return logged
	}
	return n
}

func (l *Limiter) countSince(op OpKind, cutoff time.Time) int {
	n := 0
	for _, e := range l.events {
		if e.OpKind == op && e.Timestamp.After(cutoff) {
			n++
		}
	}
	return n
}

// Record appends a Rate-Limit Event and updates cached counters. It must be
// called exactly once per attempted op — including on failure — so retries
// never bypass the counters.
func (l *Limiter) Record(op OpKind, target, contentDigest string, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.events = append(l.events, Event{
		Timestamp: now, OpKind: op, Target: target,
		ContentDigest: contentDigest, Success: success, APIRemaining: l.apiRemaining,
	})
	if over := len(l.events) - l.cfg.EventLogCapacity; over > 0 {
		l.events = l.events[over:]
	}

	l.lastOp[op] = now
	l.burst.AllowN(now, 1)

	if contentDigest != "" {
		key := string(op) + ":" + target + ":" + contentDigest
		times, _ := l.dedup.Get(key)
		times = append(times, now)
		l.dedup.Add(key, times)
	}
}

// Stats returns a read-only snapshot for monitoring.
func (l *Limiter) Stats() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	byKind := make(map[OpKind]int)
	success := 0
	for _, e := range l.events {
		byKind[e.OpKind]++
		if e.Success {
			success++
		}
	}
	return Snapshot{
		TotalEvents:   len(l.events),
		SuccessfulOps: success,
		APIRemaining:  l.apiRemaining,
		CountByOpKind: byKind,
	}
}
