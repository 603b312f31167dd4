// Package safety is the final veto layer of the decision pipeline. It can
// only turn a policy approval into a denial, never the reverse.
package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/greenlight-sh/greenlight/internal/audit"
)

// Gate defaults. A denylist hit always fails regardless of tuning.
const (
	DefaultFailureRatioWindow = time.Hour
	DefaultFailureRatioLimit  = 0.2

	DefaultLockoutWindow   = 5 * time.Minute
	DefaultLockoutFailures = 3
)

// defaultDenylist covers resources the engine must never touch
// autonomously, whatever the policy rules say.
var defaultDenylist = []string{
	"/etc/",
	"/boot/",
	"/sys/",
	"/proc/",
	"/dev/",
	".ssh",
	".gnupg",
	".aws/credentials",
	"id_rsa",
	"authorized_keys",
	"/var/lib/",
	"..",
}

// AuditReader is the slice of the audit store the gate needs: recent-window
// failure counts, indexed by timestamp.
type AuditReader interface {
	RecentStats(ctx context.Context, window time.Duration, now time.Time) (*audit.WindowStats, error)
}

// Gate runs the hard safety checks after policy evaluation.
type Gate struct {
	history  AuditReader
	denylist []string

	ratioWindow time.Duration
	ratioLimit  float64

	lockoutWindow   time.Duration
	lockoutFailures int

	workspaceRoot string
}

// Option configures a Gate.
type Option func(*Gate)

// WithDenylist replaces the default resource denylist.
func WithDenylist(entries []string) Option {
	return func(g *Gate) { g.denylist = entries }
}

// WithFailureRatio tunes the trailing-window failure-rate breaker.
func WithFailureRatio(window time.Duration, limit float64) Option {
	return func(g *Gate) {
		g.ratioWindow = window
		g.ratioLimit = limit
	}
}

// WithLockout tunes the ongoing-incident lockout.
func WithLockout(window time.Duration, failures int) Option {
	return func(g *Gate) {
		g.lockoutWindow = window
		g.lockoutFailures = failures
	}
}

// WithWorkspaceRoot enables the boundary check: path-like attributes must
// stay under root. Empty root disables the check.
func WithWorkspaceRoot(root string) Option {
	return func(g *Gate) { g.workspaceRoot = root }
}

// NewGate builds a gate over the audit store with default thresholds.
func NewGate(store AuditReader, opts ...Option) *Gate {
	g := &Gate{
		history:         store,
		denylist:        defaultDenylist,
		ratioWindow:     DefaultFailureRatioWindow,
		ratioLimit:      DefaultFailureRatioLimit,
		lockoutWindow:   DefaultLockoutWindow,
		lockoutFailures: DefaultLockoutFailures,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check runs every safety check against the request. All must pass. The
// returned reasons explain each individual failure; an empty slice with
// safe=true means nothing objected.
//
// Audit store errors fail closed: a gate that cannot see recent history
// must assume the worst.
func (g *Gate) Check(ctx context.Context, requestType string, attrs map[string]string, agentID string) (bool, []string, error) {
	var reasons []string
	now := time.Now()

	if hit, attr, entry := g.denylistHit(attrs); hit {
		reasons = append(reasons, fmt.Sprintf("safety: attribute %q matches denylisted resource %q", attr, entry))
	}

	if g.workspaceRoot != "" {
		if attr, val, outside := g.outsideWorkspace(attrs); outside {
			reasons = append(reasons, fmt.Sprintf("safety: %s %q is outside the workspace root", attr, val))
		}
	}

	hourly, err := g.history.RecentStats(ctx, g.ratioWindow, now)
	if err != nil {
		return false, append(reasons, "safety: recent decision history unavailable"), err
	}
	if ratio := hourly.FailureRatio(); ratio > g.ratioLimit {
		reasons = append(reasons, fmt.Sprintf("safety: failure ratio %.2f over the last %s exceeds %.2f", ratio, g.ratioWindow, g.ratioLimit))
	}

	recent, err := g.history.RecentStats(ctx, g.lockoutWindow, now)
	if err != nil {
		return false, append(reasons, "safety: recent decision history unavailable"), err
	}
	if recent.Failures >= g.lockoutFailures {
		reasons = append(reasons, fmt.Sprintf("safety: %d failures in the last %s, incident lockout active", recent.Failures, g.lockoutWindow))
	}

	return len(reasons) == 0, reasons, nil
}

// denylistHit reports the first attribute value containing a denylisted
// substring. Matching is case-insensitive.
func (g *Gate) denylistHit(attrs map[string]string) (bool, string, string) {
	for attr, val := range attrs {
		lower := strings.ToLower(val)
		for _, entry := range g.denylist {
			if strings.Contains(lower, entry) {
				return true, attr, entry
			}
		}
	}
	return false, "", ""
}

// pathAttrs are the attributes the workspace boundary check applies to.
var pathAttrs = []string{"path", "dest", "target"}

func (g *Gate) outsideWorkspace(attrs map[string]string) (string, string, bool) {
	for _, attr := range pathAttrs {
		val, ok := attrs[attr]
		if !ok || val == "" {
			continue
		}
		// Relative paths resolve inside the workspace by definition.
		if !strings.HasPrefix(val, "/") {
			continue
		}
		if !strings.HasPrefix(val, g.workspaceRoot) {
			return attr, val, true
		}
	}
	return "", "", false
}
