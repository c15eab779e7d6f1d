package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/viper"

	"taskboard/internal/domain"
)

// field is one row of a key/value listing.
type field struct {
	Name  string
	Value any
}

// printFields prints fields as a two-column table, or as a JSON object
// with --json.
func printFields(fields []field) error {
	if viper.GetBool("json") {
		m := make(map[string]any, len(fields))
		for _, f := range fields {
			m[f.Name] = f.Value
		}
		return printJSON(m)
	}
	renderFields(os.Stdout, fields)
	return nil
}

func renderFields(w io.Writer, fields []field) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Setting", "Value"})
	for _, f := range fields {
		tw.AppendRow(table.Row{f.Name, f.Value})
	}
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusLabel(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return text.FgGreen.Sprint(s.Label())
	case domain.StatusInProgress:
		return text.FgBlue.Sprint(s.Label())
	}
	return text.FgHiBlack.Sprint(s.Label())
}

func priorityLabel(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return text.FgRed.Sprint(p.Label())
	case domain.PriorityMedium:
		return text.FgYellow.Sprint(p.Label())
	}
	return text.FgGreen.Sprint(p.Label())
}

func dueLabel(t domain.Task, now time.Time) string {
	label := domain.RelativeDay(t.DueDate, now)
	if t.Status != domain.StatusCompleted && domain.IsPastDue(t.DueDate, now) {
		return text.FgRed.Sprint(label + " (overdue)")
	}
	return label
}

func renderTasks(tasks []domain.Task, now time.Time) {
	if len(tasks) == 0 {
		fmt.Println("no tasks found")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Due", "Created"})
	for _, t := range tasks {
		created := t.CreatedAt
		tw.AppendRow(table.Row{t.ID, t.Title, statusLabel(t.Status), priorityLabel(t.Priority), dueLabel(t, now), domain.FormatDateTime(&created)})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d task(s)", len(tasks))})
	tw.Render()
}

func renderTask(t domain.Task, now time.Time) {
	created := t.CreatedAt
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", t.ID},
		{"Title", t.Title},
		{"Description", t.Description},
		{"Status", statusLabel(t.Status)},
		{"Priority", priorityLabel(t.Priority)},
		{"Due", domain.FormatDateForDisplay(t.DueDate) + " (" + dueLabel(t, now) + ")"},
		{"Created", domain.FormatDateTime(&created)},
	})
	tw.Render()
}

func renderStats(s domain.Stats) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Metric", "Count"})
	tw.AppendRows([]table.Row{
		{"Total", s.Total},
		{"Completed", s.Completed},
		{"Pending", s.Pending},
		{"Overdue", s.Overdue},
	})
	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{statusLabel(domain.StatusTodo), s.ByStatus.Todo},
		{statusLabel(domain.StatusInProgress), s.ByStatus.InProgress},
		{statusLabel(domain.StatusCompleted), s.ByStatus.Completed},
	})
	tw.AppendSeparator()
	tw.AppendRows([]table.Row{
		{priorityLabel(domain.PriorityHigh) + " priority", s.ByPriority.High},
		{priorityLabel(domain.PriorityMedium) + " priority", s.ByPriority.Medium},
		{priorityLabel(domain.PriorityLow) + " priority", s.ByPriority.Low},
	})
	tw.Render()
}
