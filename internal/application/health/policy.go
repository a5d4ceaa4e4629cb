package health

import (
	"fmt"
	"sort"

	"github.com/aescanero/subsys/internal/domain"
)

// Policy holds the scoring thresholds.
type Policy struct {
	// GoodMaxFailRatio is the largest fraction of failing checks still scored
	// as Good.
	GoodMaxFailRatio float64
	// CriticalFailRatio is the fraction of failing checks above which the
	// system is Critical.
	CriticalFailRatio float64
	// CriticalComponents are checks whose failure alone makes the system
	// Critical.
	CriticalComponents []string
}

// DefaultPolicy returns the default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		GoodMaxFailRatio:  0.2,
		CriticalFailRatio: 0.5,
	}
}

// Outcome is the result of a single check as seen by the policy.
type Outcome struct {
	Name     string
	Result   domain.HealthResult
	Critical bool
}

// Score computes the overall status. Rules are evaluated in order:
//
//  1. no failures: Excellent
//  2. a CriticalComponents member fails: Critical
//  3. failure ratio above CriticalFailRatio: Critical
//  4. a check tagged critical fails: Degraded
//  5. failure ratio at most GoodMaxFailRatio: Good
//  6. otherwise: Degraded
func (p Policy) Score(outcomes []Outcome) domain.OverallStatus {
	if len(outcomes) == 0 {
		return domain.OverallExcellent
	}

	critical := make(map[string]struct{}, len(p.CriticalComponents))
	for _, name := range p.CriticalComponents {
		critical[name] = struct{}{}
	}

	failed := 0
	criticalListed := false
	criticalTagged := false
	for _, o := range outcomes {
		if o.Result.OK {
			continue
		}
		failed++
		if _, ok := critical[o.Name]; ok {
			criticalListed = true
		}
		if o.Critical {
			criticalTagged = true
		}
	}

	if failed == 0 {
		return domain.OverallExcellent
	}
	if criticalListed {
		return domain.OverallCritical
	}

	ratio := float64(failed) / float64(len(outcomes))
	switch {
	case ratio > p.CriticalFailRatio:
		return domain.OverallCritical
	case criticalTagged:
		return domain.OverallDegraded
	case ratio <= p.GoodMaxFailRatio:
		return domain.OverallGood
	default:
		return domain.OverallDegraded
	}
}

// Recommendations returns operator hints for a scored pass.
func (p Policy) Recommendations(overall domain.OverallStatus, outcomes []Outcome) []string {
	var recs []string

	failing := make([]Outcome, 0)
	for _, o := range outcomes {
		if !o.Result.OK {
			failing = append(failing, o)
		}
	}
	sort.Slice(failing, func(i, j int) bool { return failing[i].Name < failing[j].Name })

	for _, o := range failing {
		if o.Result.Details != "" {
			recs = append(recs, fmt.Sprintf("check %s: %s", o.Name, o.Result.Details))
		} else {
			recs = append(recs, fmt.Sprintf("check %s is failing", o.Name))
		}
	}

	switch overall {
	case domain.OverallDegraded:
		recs = append(recs, "investigate failing checks before they affect dependent components")
	case domain.OverallCritical:
		recs = append(recs, "system is critical: restore failed components and shared resources")
	}
	return recs
}
