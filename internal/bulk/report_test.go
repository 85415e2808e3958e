package bulk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleReport() *Report {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &Report{
		StartTime: start,
		EndTime:   start.Add(4 * time.Second),
		Results: []HostResult{
			{Name: "a", Flavor: "VOS", Status: StatusSuccess, ResponseTime: 1.0, DetectedFlavor: "VOS", DetectedKey: "vos"},
			{Name: "b", Flavor: "VOS", Status: StatusSuccess, ResponseTime: 3.0, DetectedFlavor: "VMS", DetectedKey: "vms", FlavorMismatch: true},
			{Name: "c", Flavor: "VMS", Status: StatusSuccess, ResponseTime: 2.0, DetectedFlavor: "Unknown", DetectedKey: "unknown"},
			{Name: "d", Flavor: "VMS", Status: StatusAuthFailed, ResponseTime: 0.5},
		},
	}
}

func TestSummarize(t *testing.T) {
	s := sampleReport().Summarize()

	assert.Equal(t, 4, s.TotalHosts)
	assert.Equal(t, 3, s.Successful)
	assert.Equal(t, 1, s.Failed)
	assert.InDelta(t, 75.0, s.SuccessRate, 0.001)
	assert.InDelta(t, 2.0, s.AvgResponseTime, 0.001, "failed hosts do not count towards the average")
	assert.InDelta(t, 4.0, s.DurationSeconds, 0.001)

	assert.Equal(t, map[string]FlavorCount{
		"VOS": {Total: 2, Success: 2},
		"VMS": {Total: 2, Success: 1},
	}, s.Configured)
	assert.Equal(t, 2, s.Detected)
	assert.Equal(t, 1, s.Undetected)
	assert.Equal(t, 1, s.Mismatches)
	assert.Equal(t, map[string]int{"VOS": 1, "VMS": 1}, s.DetectedFlavors)
	assert.NotNil(t, s.StartTime)
}

func TestSummarizeEmpty(t *testing.T) {
	s := (&Report{}).Summarize()
	assert.Zero(t, s.TotalHosts)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.AvgResponseTime)
	assert.Nil(t, s.StartTime)
	assert.Zero(t, s.DurationSeconds)
}

func TestByStatus(t *testing.T) {
	r := sampleReport()
	r.Results = append(r.Results, HostResult{Name: "e", Status: StatusTimeout}, HostResult{Name: "f", Status: StatusAuthFailed})

	order, groups := r.ByStatus()
	assert.Equal(t, []Status{StatusSuccess, StatusAuthFailed, StatusTimeout}, order)
	assert.Len(t, groups[StatusSuccess], 3)
	assert.Len(t, groups[StatusAuthFailed], 2)
	assert.Equal(t, 3, r.Failed())
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
}
