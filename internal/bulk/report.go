package bulk

import (
	"sort"
	"time"

	"github.com/versalogiq/logiq/internal/flavor"
)

// Report is the outcome of a run.
type Report struct {
	Results   []HostResult
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Failed returns the number of hosts that did not pass.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.OK() {
			n++
		}
	}
	return n
}

// FlavorCount tallies checks per configured flavor.
type FlavorCount struct {
	Total   int `json:"total"`
	Success int `json:"success"`
}

// Summary aggregates a report.
type Summary struct {
	TotalHosts      int                    `json:"total_hosts"`
	Successful      int                    `json:"successful"`
	Failed          int                    `json:"failed"`
	SuccessRate     float64                `json:"success_rate"`
	AvgResponseTime float64                `json:"average_response_time"`
	StartTime       *time.Time             `json:"start_time"`
	EndTime         *time.Time             `json:"end_time"`
	DurationSeconds float64                `json:"duration_seconds"`
	Configured      map[string]FlavorCount `json:"configured_flavors"`
	Detected        int                    `json:"detected"`
	Undetected      int                    `json:"undetected"`
	Mismatches      int                    `json:"mismatches"`
	DetectedFlavors map[string]int         `json:"detected_flavors"`
}

// Summarize computes the run statistics. Detection figures only count
// hosts that connected.
func (r *Report) Summarize() Summary {
	s := Summary{
		TotalHosts:      len(r.Results),
		DurationSeconds: r.Duration().Seconds(),
		Configured:      map[string]FlavorCount{},
		DetectedFlavors: map[string]int{},
	}
	if !r.StartTime.IsZero() {
		t := r.StartTime
		s.StartTime = &t
	}
	if !r.EndTime.IsZero() {
		t := r.EndTime
		s.EndTime = &t
	}

	var responseTotal float64
	for _, res := range r.Results {
		fc := s.Configured[res.Flavor]
		fc.Total++
		if !res.OK() {
			s.Configured[res.Flavor] = fc
			continue
		}
		fc.Success++
		s.Configured[res.Flavor] = fc

		s.Successful++
		responseTotal += res.ResponseTime
		if res.DetectedKey == "" || res.DetectedKey == flavor.UnknownKey {
			s.Undetected++
		} else {
			s.Detected++
			s.DetectedFlavors[res.DetectedFlavor]++
		}
		if res.FlavorMismatch {
			s.Mismatches++
		}
	}

	s.Failed = s.TotalHosts - s.Successful
	if s.TotalHosts > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalHosts) * 100
	}
	if s.Successful > 0 {
		s.AvgResponseTime = responseTotal / float64(s.Successful)
	}
	return s
}

// ByStatus groups results by status, in order of first appearance.
func (r *Report) ByStatus() ([]Status, map[Status][]HostResult) {
	var order []Status
	groups := map[Status][]HostResult{}
	for _, res := range r.Results {
		if _, ok := groups[res.Status]; !ok {
			order = append(order, res.Status)
		}
		groups[res.Status] = append(groups[res.Status], res)
	}
	return order, groups
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
