package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Valid reports whether s is one of the known task statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Label is the human-readable form used in listings.
func (s Status) Label() string {
	switch s {
	case StatusTodo:
		return "To Do"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	}
	return string(s)
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	}
	return string(p)
}

// ParseStatus accepts the wire form or a relaxed spelling ("in-progress", "todo").
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "-", "_")))
	if !s.Valid() {
		return "", errors.New("invalid status " + raw + " (want TODO, IN_PROGRESS or COMPLETED)")
	}
	return s, nil
}

func ParsePriority(raw string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", errors.New("invalid priority " + raw + " (want LOW, MEDIUM or HIGH)")
	}
	return p, nil
}

// Task is the only domain entity. ID is empty until the server persists it.
type Task struct {
	ID          string     `json:"_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status" enum:"TODO,IN_PROGRESS,COMPLETED"`
	Priority    Priority   `json:"priority" enum:"LOW,MEDIUM,HIGH"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UserID      string     `json:"userId"`
}

type User struct {
	ID       string `json:"_id,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Draft is a task as entered by the user, before the owner and creation
// time are stamped on it.
type Draft struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Normalize trims text fields and fills the form defaults (TODO, MEDIUM).
func (d Draft) Normalize() Draft {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	if d.Status == "" {
		d.Status = StatusTodo
	}
	if d.Priority == "" {
		d.Priority = PriorityMedium
	}
	return d
}

// Validate checks a normalized draft.
func (d Draft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("task title is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		return errors.New("task description is required")
	}
	if d.Status != "" && !d.Status.Valid() {
		return errors.New("invalid status " + string(d.Status))
	}
	if d.Priority != "" && !d.Priority.Valid() {
		return errors.New("invalid priority " + string(d.Priority))
	}
	return nil
}

// Stamp turns the draft into a task owned by userID.
func (d Draft) Stamp(userID string, now time.Time) Task {
	d = d.Normalize()
	return Task{
		Title:       d.Title,
		Description: d.Description,
		Status:      d.Status,
		Priority:    d.Priority,
		DueDate:     d.DueDate,
		CreatedAt:   now.UTC(),
		UserID:      userID,
	}
}

// Patch is a partial update; nil fields are left untouched. ClearDueDate
// removes the due date and wins over DueDate.
type Patch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	Priority     *Priority  `json:"priority,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"-"`
}

// patchWire is the PUT body: a cleared due date travels as "dueDate": null.
type patchWire struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Status      *Status         `json:"status,omitempty"`
	Priority    *Priority       `json:"priority,omitempty"`
	DueDate     json.RawMessage `json:"dueDate,omitempty"`
}

func (p Patch) MarshalJSON() ([]byte, error) {
	w := patchWire{Title: p.Title, Description: p.Description, Status: p.Status, Priority: p.Priority}
	switch {
	case p.ClearDueDate:
		w.DueDate = json.RawMessage("null")
	case p.DueDate != nil:
		b, err := json.Marshal(p.DueDate)
		if err != nil {
			return nil, err
		}
		w.DueDate = b
	}
	return json.Marshal(w)
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	var w patchWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*p = Patch{Title: w.Title, Description: w.Description, Status: w.Status, Priority: w.Priority}
	if len(w.DueDate) == 0 {
		return nil
	}
	if string(w.DueDate) == "null" {
		p.ClearDueDate = true
		return nil
	}
	var due time.Time
	if err := json.Unmarshal(w.DueDate, &due); err != nil {
		return fmt.Errorf("invalid dueDate: %w", err)
	}
	p.DueDate = &due
	return nil
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.DueDate == nil && !p.ClearDueDate
}

func (p Patch) Validate() error {
	if p.Empty() {
		return errors.New("nothing to update")
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return errors.New("task title is required")
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return errors.New("task description is required")
	}
	if p.Status != nil && !p.Status.Valid() {
		return errors.New("invalid status " + string(*p.Status))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return errors.New("invalid priority " + string(*p.Priority))
	}
	return nil
}

// Apply returns t with the patch applied.
func (p Patch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
	return t
}
