package metrics

import (
	"sort"

	"basegraph.app/statetrail/internal/model"
)

const (
	commonTransitionLimit = 10
	unknownTeam           = "Unknown"
)

type TransitionCount struct {
	Label string `json:"transition"`
	From  string `json:"from_state"`
	To    string `json:"to_state"`
	Count int    `json:"count"`
}

// Summary is the reporting overview of a cohort.
type Summary struct {
	TotalIssues        int                               `json:"total_issues"`
	StateDistribution  map[string]int                    `json:"state_distribution"`
	TeamDistribution   map[string]int                    `json:"team_distribution"`
	CommonTransitions  []TransitionCount                 `json:"common_transitions"`
	StatesTracked      []string                          `json:"states_tracked"`
	TargetStateMetrics map[string]model.TransitionMetric `json:"target_state_metrics"`
}

// Summarize counts current states and teams, ranks consecutive transitions
// over the full history and computes metrics over trackedStates.
func (e *Engine) Summarize(cohort []model.IssueRecord, trackedStates []string) Summary {
	s := Summary{
		TotalIssues:       len(cohort),
		StateDistribution: map[string]int{},
		TeamDistribution:  map[string]int{},
	}

	seen := map[string]struct{}{}
	counts := map[string]*TransitionCount{}
	for _, issue := range cohort {
		s.StateDistribution[issue.CurrentState]++

		team := issue.TeamName
		if team == "" {
			team = unknownTeam
		}
		s.TeamDistribution[team]++

		entries := issue.StateHistory.Entries()
		for i, entry := range entries {
			seen[entry.State] = struct{}{}
			if i == 0 {
				continue
			}
			label := Label(entries[i-1].State, entry.State)
			c, ok := counts[label]
			if !ok {
				c = &TransitionCount{Label: label, From: entries[i-1].State, To: entry.State}
				counts[label] = c
			}
			c.Count++
		}
	}

	s.CommonTransitions = topTransitions(counts, commonTransitionLimit)

	s.StatesTracked = make([]string, 0, len(seen))
	for state := range seen {
		s.StatesTracked = append(s.StatesTracked, state)
	}
	sort.Strings(s.StatesTracked)

	s.TargetStateMetrics = e.Compute(cohort, trackedStates).Transitions
	return s
}

func topTransitions(counts map[string]*TransitionCount, limit int) []TransitionCount {
	out := make([]TransitionCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Label < out[j].Label
		}
		return out[i].Count > out[j].Count
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FilterVisited keeps the issues whose history contains any of states. An
// empty states list keeps everything.
func FilterVisited(cohort []model.IssueRecord, states []string) []model.IssueRecord {
	if len(states) == 0 {
		return cohort
	}
	want := make(map[string]struct{}, len(states))
	for _, s := range states {
		want[s] = struct{}{}
	}
	out := make([]model.IssueRecord, 0, len(cohort))
	for _, issue := range cohort {
		if issue.StateHistory.Visited(want) {
			out = append(out, issue)
		}
	}
	return out
}

// FilterCurrentState keeps the issues whose current state is state. An empty
// state keeps everything.
func FilterCurrentState(cohort []model.IssueRecord, state string) []model.IssueRecord {
	if state == "" {
		return cohort
	}
	out := make([]model.IssueRecord, 0, len(cohort))
	for _, issue := range cohort {
		if issue.CurrentState == state {
			out = append(out, issue)
		}
	}
	return out
}
