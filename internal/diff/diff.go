// Package diff compares two rule sets and projects the latency and error rate
// impact of replacing one with the other.
//
// The projection is a deterministic heuristic meant as directional feedback
// before promotion. It is not a measurement.
package diff

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/sunshine-walker-93/edge_config_admin/internal/rule"
)

// Projection constants. Changing any of them changes simulation output.
const (
	BaselineP95Ms    = 120.0
	RouteWeightMs    = 4.0
	CanaryWeightMs   = 6.0
	BannerWeightMs   = 2.0
	NetDeltaWeightMs = 1.5
	MinP95Ms         = 40.0
	P50Fraction      = 0.55
	BaseErrorRate    = 0.001
	CanaryErrorRate  = 0.004
	ChangedErrorRate = 0.002
	MaxErrorRate     = 0.2
	NoChangesSummary = "No structural changes"
)

// Change pairs the baseline and proposed forms of a rule sharing one key.
type Change struct {
	Key    string    `json:"key"`
	Before rule.Rule `json:"before"`
	After  rule.Rule `json:"after"`
}

// Metrics is the synthetic performance projection for the proposed set.
type Metrics struct {
	P50Ms     float64 `json:"p50Ms"`
	P95Ms     float64 `json:"p95Ms"`
	ErrorRate float64 `json:"errorRate"`
}

// Result is the outcome of comparing a baseline rule set with a proposal.
type Result struct {
	Added   []rule.Rule `json:"added"`
	Removed []rule.Rule `json:"removed"`
	Changed []Change    `json:"changed"`
	Metrics Metrics     `json:"metrics"`
	Summary string      `json:"summary"`
}

// Key reduces a rule to its comparison key: type, then path, then from,
// then the canonical JSON of every non-id field. Ids never take part.
func Key(r rule.Rule) (string, error) {
	prefix := string(r.Type()) + ":"
	if p, ok := r.StringField("path"); ok {
		return prefix + p, nil
	}
	if f, ok := r.StringField("from"); ok {
		return prefix + f, nil
	}
	canon, err := r.Canonical()
	if err != nil {
		return "", err
	}
	return prefix + string(canon), nil
}

type entry struct {
	rule  rule.Rule
	canon []byte
}

// index keys a rule set, preserving first-seen key order. A key that occurs
// twice keeps its last rule.
func index(rules []rule.Rule) ([]string, map[string]entry, error) {
	order := make([]string, 0, len(rules))
	byKey := make(map[string]entry, len(rules))
	for i, r := range rules {
		key, err := Key(r)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %d: %w", i, err)
		}
		canon, err := r.Canonical()
		if err != nil {
			return nil, nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if _, dup := byKey[key]; !dup {
			order = append(order, key)
		}
		byKey[key] = entry{rule: r, canon: canon}
	}
	return order, byKey, nil
}

// Compute classifies every rule as added, removed or changed and projects
// metrics for the proposed set.
func Compute(baseline, proposed []rule.Rule) (Result, error) {
	baseOrder, base, err := index(baseline)
	if err != nil {
		return Result{}, fmt.Errorf("baseline: %w", err)
	}
	propOrder, prop, err := index(proposed)
	if err != nil {
		return Result{}, fmt.Errorf("proposed: %w", err)
	}

	res := Result{
		Added:   []rule.Rule{},
		Removed: []rule.Rule{},
		Changed: []Change{},
	}

	for _, key := range propOrder {
		p := prop[key]
		b, ok := base[key]
		if !ok {
			res.Added = append(res.Added, p.rule)
			continue
		}
		if !bytes.Equal(b.canon, p.canon) {
			res.Changed = append(res.Changed, Change{Key: key, Before: b.rule, After: p.rule})
		}
	}
	for _, key := range baseOrder {
		if _, ok := prop[key]; !ok {
			res.Removed = append(res.Removed, base[key].rule)
		}
	}

	res.Metrics = project(proposed, len(res.Added), len(res.Removed), len(res.Changed))
	res.Summary = summarize(len(res.Added), len(res.Removed), len(res.Changed))
	return res, nil
}

func project(proposed []rule.Rule, added, removed, changed int) Metrics {
	var routes, canaries, banners int
	for _, r := range proposed {
		switch r.Type() {
		case rule.TypeRoute:
			routes++
		case rule.TypeCanary:
			canaries++
		case rule.TypeBanner:
			banners++
		}
	}

	p95 := BaselineP95Ms +
		RouteWeightMs*float64(routes) +
		CanaryWeightMs*float64(canaries) +
		BannerWeightMs*float64(banners) +
		NetDeltaWeightMs*float64(added-removed)
	p95 = math.Max(p95, MinP95Ms)

	errRate := BaseErrorRate + CanaryErrorRate*float64(canaries) + ChangedErrorRate*float64(changed)
	errRate = math.Min(math.Max(errRate, 0), MaxErrorRate)

	return Metrics{
		P50Ms:     round(p95*P50Fraction, 1),
		P95Ms:     round(p95, 1),
		ErrorRate: round(errRate, 4),
	}
}

func summarize(added, removed, changed int) string {
	var parts []string
	if added > 0 {
		parts = append(parts, fmt.Sprintf("%d added", added))
	}
	if removed > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", removed))
	}
	if changed > 0 {
		parts = append(parts, fmt.Sprintf("%d changed", changed))
	}
	if len(parts) == 0 {
		return NoChangesSummary
	}
	return strings.Join(parts, ", ")
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
