package timing

import (
	"math"
	"time"
)

// TotalKey is the report key holding the span between the first and last checkpoint
const TotalKey = "_total"

// Report maps a stage label to the seconds elapsed since the previous checkpoint,
// rounded to whole milliseconds
type Report map[string]float64

// Trace is an ordered list of named checkpoints
type Trace struct {
	labels   []string
	instants map[string]time.Time
	now      func() time.Time
}

// NewTrace creates an empty trace using the wall clock
func NewTrace() *Trace {
	return newTraceWithClock(time.Now)
}

func newTraceWithClock(now func() time.Time) *Trace {
	return &Trace{
		instants: make(map[string]time.Time),
		now:      now,
	}
}

// Record stores the current instant under label
func (t *Trace) Record(label string) {
	t.RecordAt(label, t.now())
}

// RecordAt stores instant under label. Recording an existing label replaces
// its instant but keeps its original position.
func (t *Trace) RecordAt(label string, instant time.Time) {
	if _, ok := t.instants[label]; !ok {
		t.labels = append(t.labels, label)
	}
	t.instants[label] = instant
}

// Labels returns the checkpoint labels in order of first appearance
func (t *Trace) Labels() []string {
	labels := make([]string, len(t.labels))
	copy(labels, t.labels)
	return labels
}

// Durations converts the checkpoints into spans keyed by the later checkpoint.
// A trace with fewer than two checkpoints yields an empty report without a total.
func (t *Trace) Durations(includeTotal bool) Report {
	report := make(Report)
	if len(t.labels) < 2 {
		return report
	}

	for i := 1; i < len(t.labels); i++ {
		prev := t.instants[t.labels[i-1]]
		cur := t.instants[t.labels[i]]
		report[t.labels[i]] = seconds(cur.Sub(prev))
	}

	if includeTotal {
		first := t.instants[t.labels[0]]
		last := t.instants[t.labels[len(t.labels)-1]]
		report[TotalKey] = seconds(last.Sub(first))
	}

	return report
}

// seconds rounds d to the nearest millisecond and returns it in seconds
func seconds(d time.Duration) float64 {
	ms := math.Round(float64(d) / float64(time.Millisecond))
	return ms / 1000
}
