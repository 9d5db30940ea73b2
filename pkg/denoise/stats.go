package denoise

import "time"

// DefaultStatsInterval is the number of hops between timing reports.
const DefaultStatsInterval = 200

// TimingReport summarizes hop processing time against the real-time budget.
type TimingReport struct {
	Hops      uint64  `json:"hops"`
	AvgMs     float64 `json:"avg_ms"`
	MaxMs     float64 `json:"max_ms"`
	BudgetMs  float64 `json:"budget_ms"`
	LoadRatio float64 `json:"load_ratio"`
}

// Overloaded reports whether average hop time exceeds the budget.
func (r TimingReport) Overloaded() bool {
	return r.BudgetMs > 0 && r.AvgMs > r.BudgetMs
}

// TimingStats keeps running count, total and max hop time. It is owned by a
// single worker goroutine.
type TimingStats struct {
	interval uint64
	budget   time.Duration
	count    uint64
	total    time.Duration
	max      time.Duration
}

// NewTimingStats reports every interval hops; interval 0 disables reports.
func NewTimingStats(interval int, hopSize int, sampleRate int) *TimingStats {
	var budget time.Duration
	if sampleRate > 0 {
		budget = time.Duration(hopSize) * time.Second / time.Duration(sampleRate)
	}
	if interval < 0 {
		interval = 0
	}
	return &TimingStats{interval: uint64(interval), budget: budget}
}

// Budget returns the real-time duration of one hop.
func (s *TimingStats) Budget() time.Duration {
	return s.budget
}

// Observe records one hop. ok is true when a report is due.
func (s *TimingStats) Observe(elapsed time.Duration) (report TimingReport, ok bool) {
	s.count++
	s.total += elapsed
	if elapsed > s.max {
		s.max = elapsed
	}
	if s.interval == 0 || s.count%s.interval != 0 {
		return TimingReport{}, false
	}
	return s.Report(), true
}

// Report derives the current summary.
func (s *TimingStats) Report() TimingReport {
	report := TimingReport{
		Hops:     s.count,
		MaxMs:    durationMs(s.max),
		BudgetMs: durationMs(s.budget),
	}
	if s.count > 0 {
		report.AvgMs = durationMs(s.total) / float64(s.count)
	}
	if report.BudgetMs > 0 {
		report.LoadRatio = report.AvgMs / report.BudgetMs
	}
	return report
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
