package metrics

import (
	"math"
	"sort"
	"time"

	"basegraph.app/statetrail/internal/model"
)

// Label is the bucket key of a (from, to) pair.
func Label(from, to string) string {
	return from + " -> " + to
}

// Result holds the rounded metrics per label and the unrounded values they
// were derived from.
type Result struct {
	Transitions map[string]model.TransitionMetric `json:"transitions"`
	Raw         map[string]model.TransitionMetric `json:"-"`
}

type Option func(*Engine)

// WithNameTieBreak orders states that share a timestamp by name. Without it
// the relative order of tied states is unspecified.
func WithNameTieBreak() Option {
	return func(e *Engine) { e.nameTieBreak = true }
}

// Engine computes transition durations between tracked states. It holds no
// state between calls.
type Engine struct {
	nameTieBreak bool
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// recordedLayout renders a timestamp as recorded, offset included, with a
// fixed width fraction. Entries are ordered by this text, so timestamps in
// one offset order chronologically while mixed offsets may not.
const recordedLayout = "2006-01-02T15:04:05.000000000-07:00"

type entry struct {
	state string
	at    time.Time
	key   string
}

type bucket struct {
	from, to string
	count    int
	sum      float64
	min, max float64
}

func (b *bucket) add(hours float64) {
	if b.count == 0 || hours < b.min {
		b.min = hours
	}
	if b.count == 0 || hours > b.max {
		b.max = hours
	}
	b.count++
	b.sum += hours
}

// Compute walks each issue's tracked states in recorded order and accumulates
// the hours between consecutive entries. Issues with fewer than two tracked
// states contribute nothing. Negative durations are kept.
func (e *Engine) Compute(cohort []model.IssueRecord, trackedStates []string) Result {
	tracked := make(map[string]struct{}, len(trackedStates))
	for _, s := range trackedStates {
		tracked[s] = struct{}{}
	}

	buckets := map[string]*bucket{}
	for _, issue := range cohort {
		entries := make([]entry, 0, len(tracked))
		for state, at := range issue.StateHistory {
			if _, ok := tracked[state]; ok {
				entries = append(entries, entry{state: state, at: at, key: at.Format(recordedLayout)})
			}
		}
		if len(entries) < 2 {
			continue
		}
		e.sortEntries(entries)

		for i := 0; i+1 < len(entries); i++ {
			from, to := entries[i], entries[i+1]
			label := Label(from.state, to.state)
			b, ok := buckets[label]
			if !ok {
				b = &bucket{from: from.state, to: to.state}
				buckets[label] = b
			}
			b.add(to.at.Sub(from.at).Seconds() / time.Hour.Seconds())
		}
	}

	res := Result{
		Transitions: make(map[string]model.TransitionMetric, len(buckets)),
		Raw:         make(map[string]model.TransitionMetric, len(buckets)),
	}
	for label, b := range buckets {
		raw := model.TransitionMetric{
			From:     b.from,
			To:       b.to,
			Count:    b.count,
			AvgHours: b.sum / float64(b.count),
			MinHours: b.min,
			MaxHours: b.max,
		}
		res.Raw[label] = raw
		res.Transitions[label] = model.TransitionMetric{
			From:     raw.From,
			To:       raw.To,
			Count:    raw.Count,
			AvgHours: round2(raw.AvgHours),
			MinHours: round2(raw.MinHours),
			MaxHours: round2(raw.MaxHours),
		}
	}
	return res
}

func (e *Engine) sortEntries(entries []entry) {
	if e.nameTieBreak {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].key == entries[j].key {
				return entries[i].state < entries[j].state
			}
			return entries[i].key < entries[j].key
		})
		return
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
