package main

import (
	"context"
	"fmt"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskboard/internal/app"
	"taskboard/internal/store"
)

const shutdownTimeout = 5 * time.Second

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow task changes live until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st := env.NewStore(true)
				asJSON := viper.GetBool("json")
				st.Subscribe(func(c store.Change) {
					if asJSON {
						_ = printJSON(c)
						return
					}
					printChange(c)
				})

				runCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				fmt.Printf("watching tasks of %s on %s (Ctrl+C to stop)\n", env.Session.Current().User.Username, env.Config.ChannelURL())
				st.Start(runCtx)

				wait := gfshutdown.GracefulShutdown(
					context.Background(),
					shutdownTimeout,
					map[string]gfshutdown.Operation{
						"task-store": func(ctx context.Context) error {
							cancel()
							return st.Close()
						},
					},
				)
				if code := <-wait; code != 0 {
					return fmt.Errorf("shutdown finished with exit code %d", code)
				}
				return nil
			})
		},
	}
}

func printChange(c store.Change) {
	ts := time.Now().Format("15:04:05")
	switch c.Kind {
	case store.ChangeState:
		fmt.Printf("%s channel %s\n", ts, c.State)
		return
	case store.ChangeReset:
		fmt.Printf("%s session started, channel %s\n", ts, c.State)
		return
	case store.ChangeSnapshot:
		fmt.Printf("%s loaded %d task(s)\n", ts, c.Count)
	case store.ChangeCreated:
		fmt.Printf("%s + %s %q [%s, %s]\n", ts, c.TaskID, c.Task.Title, c.Task.Status.Label(), c.Task.Priority.Label())
	case store.ChangeUpdated:
		fmt.Printf("%s ~ %s %q [%s, %s]\n", ts, c.TaskID, c.Task.Title, c.Task.Status.Label(), c.Task.Priority.Label())
	case store.ChangeDeleted:
		fmt.Printf("%s - %s %q\n", ts, c.TaskID, c.Task.Title)
	}
	s := c.Stats
	fmt.Printf("         total %d | completed %d | pending %d | overdue %d | high %d medium %d low %d\n",
		s.Total, s.Completed, s.Pending, s.Overdue, s.ByPriority.High, s.ByPriority.Medium, s.ByPriority.Low)
}
