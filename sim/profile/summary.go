package profile

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Aggregate summarizes all events sharing a name.
type Aggregate struct {
	Name     string
	Kind     EventKind
	Count    int
	Total    time.Duration
	Mean     time.Duration
	StdDev   time.Duration
	Fraction float64 // Total relative to the sum over all aggregates
}

// Summary aggregates a Profile, sorted by total time, largest first.
type Summary struct {
	Elapsed    time.Duration
	EventTime  time.Duration
	Aggregates []Aggregate
}

// Summarize computes per-name aggregates from a Profile.
// Safe for nil or empty profiles (returns zero-value fields).
func Summarize(p *Profile) *Summary {
	summary := &Summary{Aggregates: make([]Aggregate, 0)}
	if p == nil {
		return summary
	}
	summary.Elapsed = p.Elapsed()

	byName := make(map[string][]float64)
	kinds := make(map[string]EventKind)
	order := make([]string, 0)
	for _, e := range p.Events {
		if _, seen := byName[e.Name]; !seen {
			order = append(order, e.Name)
			kinds[e.Name] = e.Kind
		}
		byName[e.Name] = append(byName[e.Name], float64(e.Duration()))
		summary.EventTime += e.Duration()
	}

	for _, name := range order {
		samples := byName[name]
		var total float64
		for _, s := range samples {
			total += s
		}
		agg := Aggregate{Name: name, Kind: kinds[name], Count: len(samples), Total: time.Duration(total)}
		if len(samples) > 1 {
			mean, std := stat.MeanStdDev(samples, nil)
			agg.Mean, agg.StdDev = time.Duration(mean), time.Duration(std)
		} else {
			agg.Mean = time.Duration(total)
		}
		if summary.EventTime > 0 {
			agg.Fraction = total / float64(summary.EventTime)
		}
		summary.Aggregates = append(summary.Aggregates, agg)
	}

	sort.SliceStable(summary.Aggregates, func(i, j int) bool {
		return summary.Aggregates[i].Total > summary.Aggregates[j].Total
	})
	return summary
}

// Print writes a human-readable report.
func (s *Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Profiling ===")
	fmt.Fprintf(w, "Total elapsed time   : %v\n", s.Elapsed)
	fmt.Fprintf(w, "Total recorded time  : %v\n", s.EventTime)
	if len(s.Aggregates) == 0 {
		return
	}
	fmt.Fprintf(w, "%-24s %-9s %8s %14s %14s %14s %7s\n",
		"Event", "Kind", "Count", "Total", "Mean", "StdDev", "Rel.")
	for _, a := range s.Aggregates {
		fmt.Fprintf(w, "%-24s %-9s %8d %14v %14v %14v %6.2f%%\n",
			a.Name, a.Kind, a.Count, a.Total, a.Mean, a.StdDev, 100*a.Fraction)
	}
}
