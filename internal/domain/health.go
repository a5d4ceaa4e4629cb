package domain

import "time"

// OverallStatus is the aggregate health of the whole system.
type OverallStatus string

const (
	OverallExcellent OverallStatus = "excellent"
	OverallGood      OverallStatus = "good"
	OverallDegraded  OverallStatus = "degraded"
	OverallCritical  OverallStatus = "critical"
)

// Severity orders statuses from best (0) to worst (3).
func (s OverallStatus) Severity() int {
	switch s {
	case OverallExcellent:
		return 0
	case OverallGood:
		return 1
	case OverallDegraded:
		return 2
	default:
		return 3
	}
}

// Snapshot is the result of one full pass of health checks. A snapshot is
// never mutated after it is published.
type Snapshot struct {
	Overall         OverallStatus           `json:"overall"`
	PerComponent    map[string]HealthResult `json:"per_component"`
	Recommendations []string                `json:"recommendations"`
	Timestamp       time.Time               `json:"timestamp"`
	Duration        time.Duration           `json:"duration"`
}

// Failed returns the number of failing checks in the snapshot.
func (s Snapshot) Failed() int {
	n := 0
	for _, r := range s.PerComponent {
		if !r.OK {
			n++
		}
	}
	return n
}
