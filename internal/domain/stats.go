package domain

import "time"

type PriorityCounts struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

type StatusCounts struct {
	Todo       int `json:"todo"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
}

// Stats are aggregate counts over a task collection. The same shape is
// served by GET /tasks/stats.
type Stats struct {
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	Pending    int            `json:"pending"`
	Overdue    int            `json:"overdue"`
	ByPriority PriorityCounts `json:"byPriority"`
	ByStatus   StatusCounts   `json:"byStatus"`
}

// ComputeStats derives Stats from tasks. Overdue counts unfinished tasks
// whose due day is before the day of now.
func ComputeStats(tasks []Task, now time.Time) Stats {
	var s Stats
	s.Total = len(tasks)
	for _, t := range tasks {
		switch t.Status {
		case StatusTodo:
			s.ByStatus.Todo++
		case StatusInProgress:
			s.ByStatus.InProgress++
		case StatusCompleted:
			s.ByStatus.Completed++
		}
		switch t.Priority {
		case PriorityLow:
			s.ByPriority.Low++
		case PriorityMedium:
			s.ByPriority.Medium++
		case PriorityHigh:
			s.ByPriority.High++
		}
		if t.Status != StatusCompleted && IsPastDue(t.DueDate, now) {
			s.Overdue++
		}
	}
	s.Completed = s.ByStatus.Completed
	s.Pending = s.Total - s.Completed
	return s
}
