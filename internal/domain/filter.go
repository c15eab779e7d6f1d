package domain

import "strings"

// Filter selects tasks for display. Zero-valued fields match everything and
// active fields are combined with AND.
type Filter struct {
	Status   Status
	Priority Priority
	Search   string
}

func (f Filter) Match(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if term := strings.ToLower(f.Search); term != "" {
		if !strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) {
			return false
		}
	}
	return true
}

// FilterTasks returns the matching tasks in collection order. The input is
// not modified.
func FilterTasks(tasks []Task, f Filter) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}
