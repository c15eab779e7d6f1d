package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/domain"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskGetCmd())
	cmd.AddCommand(taskCreateCmd())
	cmd.AddCommand(taskUpdateCmd())
	cmd.AddCommand(taskDeleteCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	var status, priority, search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f domain.Filter
			var err error
			if status != "" {
				if f.Status, err = domain.ParseStatus(status); err != nil {
					return err
				}
			}
			if priority != "" {
				if f.Priority, err = domain.ParsePriority(priority); err != nil {
					return err
				}
			}
			f.Search = search
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st := env.NewStore(false)
				defer st.Close()
				if err := st.RefreshTasks(ctx); err != nil {
					return err
				}
				tasks := st.Filter(f)
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTasks(tasks, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (TODO, IN_PROGRESS, COMPLETED)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority filter (LOW, MEDIUM, HIGH)")
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive text in title or description")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Client.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				renderTask(t, time.Now())
				return nil
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var draft domain.Draft
	var status, priority, due string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if status != "" {
				if draft.Status, err = domain.ParseStatus(status); err != nil {
					return err
				}
			}
			if priority != "" {
				if draft.Priority, err = domain.ParsePriority(priority); err != nil {
					return err
				}
			}
			if draft.DueDate, err = domain.ParseDueDate(due); err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st := env.NewStore(false)
				defer st.Close()
				t, err := st.AddTask(ctx, draft)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("created task %s\n", t.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&draft.Title, "title", "", "task title")
	cmd.Flags().StringVar(&draft.Description, "description", "", "task description")
	cmd.Flags().StringVar(&status, "status", "", "initial status (default TODO)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (default MEDIUM)")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, priority, due string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.Patch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("status") {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				patch.Status = &s
			}
			if flags.Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				patch.Priority = &p
			}
			if flags.Changed("due") {
				d, err := domain.ParseDueDate(due)
				if err != nil {
					return err
				}
				if d == nil {
					clearDue = true
				}
				patch.DueDate = d
			}
			if clearDue {
				patch.ClearDueDate = true
				patch.DueDate = nil
			}
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st := env.NewStore(false)
				defer st.Close()
				if err := st.UpdateTask(ctx, args[0], patch); err != nil {
					return err
				}
				fmt.Printf("updated task %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&due, "due", "", "new due date YYYY-MM-DD (empty clears it)")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st := env.NewStore(false)
				defer st.Close()
				if err := st.RemoveTask(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted task %s\n", args[0])
				return nil
			})
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Task statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st := env.NewStore(false)
				defer st.Close()
				if err := st.RefreshTasks(ctx); err != nil {
					return err
				}
				stats := st.Stats()
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				renderStats(stats)
				return nil
			})
		},
	}
}
