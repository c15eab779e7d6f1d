package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/domain"
)

var today = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDraftNormalizeAndValidate(t *testing.T) {
	d := domain.Draft{Title: "  Write report ", Description: " quarterly "}.Normalize()
	require.NoError(t, d.Validate())
	assert.Equal(t, "Write report", d.Title)
	assert.Equal(t, domain.StatusTodo, d.Status)
	assert.Equal(t, domain.PriorityMedium, d.Priority)

	err := domain.Draft{Title: " ", Description: "x"}.Normalize().Validate()
	require.EqualError(t, err, "task title is required")
	err = domain.Draft{Title: "x", Description: ""}.Normalize().Validate()
	require.EqualError(t, err, "task description is required")
	err = domain.Draft{Title: "x", Description: "y", Status: "DONE"}.Validate()
	require.Error(t, err)
}

func TestDraftStamp(t *testing.T) {
	task := domain.Draft{Title: "a", Description: "b", Priority: domain.PriorityHigh}.Stamp("user-1", today)
	assert.Empty(t, task.ID)
	assert.Equal(t, "user-1", task.UserID)
	assert.Equal(t, today, task.CreatedAt)
	assert.Equal(t, domain.StatusTodo, task.Status)
	assert.Equal(t, domain.PriorityHigh, task.Priority)
}

func TestPatchApply(t *testing.T) {
	base := domain.Task{ID: "t1", Title: "old", Description: "desc", Status: domain.StatusTodo, Priority: domain.PriorityLow, DueDate: day(2024, 1, 1)}
	title := "new"
	status := domain.StatusCompleted
	p := domain.Patch{Title: &title, Status: &status}
	require.NoError(t, p.Validate())
	got := p.Apply(base)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, domain.PriorityLow, got.Priority)
	assert.Equal(t, "desc", got.Description)
	assert.NotNil(t, got.DueDate)

	cleared := domain.Patch{ClearDueDate: true}.Apply(base)
	assert.Nil(t, cleared.DueDate)
	assert.NotNil(t, base.DueDate, "apply must not touch the input")
}

func TestPatchValidate(t *testing.T) {
	require.EqualError(t, domain.Patch{}.Validate(), "nothing to update")
	empty := ""
	require.EqualError(t, domain.Patch{Description: &empty}.Validate(), "task description is required")
	bad := domain.Priority("URGENT")
	require.Error(t, domain.Patch{Priority: &bad}.Validate())
}

func TestParseStatusAndPriority(t *testing.T) {
	s, err := domain.ParseStatus("in-progress")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, s)
	_, err = domain.ParseStatus("blocked")
	require.Error(t, err)

	p, err := domain.ParsePriority("high")
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, p)
	_, err = domain.ParsePriority("")
	require.Error(t, err)
}

func TestFilterTasks(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", Title: "Buy milk", Description: "2 litres", Status: domain.StatusTodo, Priority: domain.PriorityLow},
		{ID: "2", Title: "Ship release", Description: "Tag and PUBLISH", Status: domain.StatusInProgress, Priority: domain.PriorityHigh},
		{ID: "3", Title: "Publish notes", Description: "blog", Status: domain.StatusCompleted, Priority: domain.PriorityHigh},
	}
	ids := func(ts []domain.Task) []string {
		var out []string
		for _, t := range ts {
			out = append(out, t.ID)
		}
		return out
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(domain.FilterTasks(tasks, domain.Filter{})))
	assert.Equal(t, []string{"2", "3"}, ids(domain.FilterTasks(tasks, domain.Filter{Search: "publish"})))
	assert.Equal(t, []string{"3"}, ids(domain.FilterTasks(tasks, domain.Filter{Search: "publish", Status: domain.StatusCompleted})))
	assert.Equal(t, []string{"2", "3"}, ids(domain.FilterTasks(tasks, domain.Filter{Priority: domain.PriorityHigh})))
	assert.Empty(t, domain.FilterTasks(tasks, domain.Filter{Priority: domain.PriorityMedium}))
}

func TestComputeStats(t *testing.T) {
	tasks := []domain.Task{
		{ID: "1", Status: domain.StatusTodo, Priority: domain.PriorityLow, DueDate: day(2024, 3, 14)},
		{ID: "2", Status: domain.StatusInProgress, Priority: domain.PriorityHigh, DueDate: day(2024, 3, 15)},
		{ID: "3", Status: domain.StatusCompleted, Priority: domain.PriorityHigh, DueDate: day(2024, 1, 1)},
		{ID: "4", Status: domain.StatusCompleted, Priority: domain.PriorityMedium},
	}
	s := domain.ComputeStats(tasks, today)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 2, s.Pending)
	assert.Equal(t, 1, s.Overdue)
	assert.Equal(t, domain.PriorityCounts{Low: 1, Medium: 1, High: 2}, s.ByPriority)
	assert.Equal(t, domain.StatusCounts{Todo: 1, InProgress: 1, Completed: 2}, s.ByStatus)

	assert.Equal(t, domain.Stats{}, domain.ComputeStats(nil, today))
}

func TestDates(t *testing.T) {
	due, err := domain.ParseDueDate("2024-03-16")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-16", domain.FormatDateForInput(due))
	assert.Equal(t, "Mar 16, 2024", domain.FormatDateForDisplay(due))
	assert.Equal(t, "Tomorrow", domain.RelativeDay(due, today))
	assert.Equal(t, "Today", domain.RelativeDay(day(2024, 3, 15), today))
	assert.Equal(t, "Yesterday", domain.RelativeDay(day(2024, 3, 14), today))
	assert.Equal(t, "Mar 1, 2024", domain.RelativeDay(day(2024, 3, 1), today))
	assert.Equal(t, "No date", domain.RelativeDay(nil, today))
	assert.Equal(t, "N/A", domain.FormatDateForDisplay(nil))
	assert.Equal(t, "", domain.FormatDateForInput(nil))

	assert.True(t, domain.IsPastDue(day(2024, 3, 14), today))
	assert.False(t, domain.IsPastDue(day(2024, 3, 15), today))
	assert.False(t, domain.IsPastDue(nil, today))

	none, err := domain.ParseDueDate("")
	require.NoError(t, err)
	assert.Nil(t, none)
	_, err = domain.ParseDueDate("15/03/2024")
	require.Error(t, err)
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")
	var fe error = &domain.FetchError{Op: "fetch tasks", Err: domain.ErrNotAuthenticated}
	assert.ErrorIs(t, fe, domain.ErrNotAuthenticated)
	assert.Equal(t, "fetch tasks: not authenticated", fe.Error())

	var me error = &domain.MutationError{Op: "update task", TaskID: "t1", Err: cause}
	assert.ErrorIs(t, me, cause)
	assert.Equal(t, "update task t1: boom", me.Error())
	var target *domain.MutationError
	require.ErrorAs(t, me, &target)
	assert.Equal(t, "t1", target.TaskID)

	ce := &domain.ChannelError{URL: "ws://x/ws", Err: cause}
	assert.ErrorIs(t, ce, cause)
}

func TestPatchWireFormat(t *testing.T) {
	b, err := json.Marshal(domain.Patch{ClearDueDate: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dueDate":null}`, string(b))

	title := "x"
	b, err = json.Marshal(domain.Patch{Title: &title, DueDate: day(2024, 5, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"x","dueDate":"2024-05-01T00:00:00Z"}`, string(b))

	var p domain.Patch
	require.NoError(t, json.Unmarshal([]byte(`{"status":"COMPLETED","dueDate":null}`), &p))
	require.NotNil(t, p.Status)
	assert.Equal(t, domain.StatusCompleted, *p.Status)
	assert.True(t, p.ClearDueDate)
	assert.Nil(t, p.DueDate)

	p = domain.Patch{}
	require.NoError(t, json.Unmarshal([]byte(`{"dueDate":"2024-05-01T00:00:00Z"}`), &p))
	require.NotNil(t, p.DueDate)
	assert.False(t, p.ClearDueDate)
}
