package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"drawboard/internal/domain"
	"drawboard/internal/engine"
	"drawboard/internal/history"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Work with drawing tasks",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskHistoryCmd())
	task.AddCommand(taskEditCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create TITLE",
		Short: "Create a task in PENDING",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, project string) error {
				opts.DrawingTitle = args[0]
				if opts.ProjectID == "" {
					opts.ProjectID = project
				}
				t, err := b.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "HIGH, MEDIUM or LOW")
	cmd.Flags().StringVar(&opts.AssignedToID, "assign", "", "assignee user id")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ string) error {
				t, err := b.Get(ctx, args[0])
				if err != nil {
					return err
				}
				log, err := b.History(ctx, t.TaskID)
				if err != nil {
					return err
				}
				return printTaskWithHistory(t, log)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var statuses []string
	var assignee string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks; team leads see open work by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := domain.TaskFilter{AssignedToID: assignee, Limit: limit}
			for _, raw := range statuses {
				s, err := domain.ParseTaskStatus(raw)
				if err != nil {
					return err
				}
				f.Statuses = append(f.Statuses, s)
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, project string) error {
				f.ProjectID = project
				tasks, err := b.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Drawing", "Status", "Priority", "Assignee", "Updated"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.TaskID, t.DrawingTitle, t.Status.Label(), t.Priority, t.AssignedToID, humanTime(t.UpdatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum tasks")
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var comment string
	var expected int
	cmd := &cobra.Command{
		Use:   "status ID STATUS",
		Short: "Request a status transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := domain.ParseTaskStatus(args[1])
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ string) error {
				t, err := b.Transition(ctx, engine.TransitionOptions{ID: args[0], To: to, Comment: comment, ExpectedVersion: expected})
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "comment (required for COMPLETED and REJECTED)")
	cmd.Flags().IntVar(&expected, "expected-version", 0, "fail if the task has moved past this version")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment ID TEXT",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ string) error {
				t, err := b.Comment(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskHistoryCmd() *cobra.Command {
	var chronological bool
	cmd := &cobra.Command{
		Use:   "history ID",
		Short: "Show task history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ string) error {
				log, err := b.History(ctx, args[0])
				if err != nil {
					return err
				}
				events := log.DisplayOrder()
				if chronological {
					events = log.Chronological()
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Event", "By", "Detail"})
				for _, e := range events {
					tw.AppendRow(table.Row{humanTime(e.CreatedAt), e.EventType, eventActor(e), eventDetail(e)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&chronological, "chronological", false, "oldest first")
	return cmd
}

func taskEditCmd() *cobra.Command {
	var title, description, priority, assignee string
	var expected int
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Edit drawing title, description, priority or assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := domain.TaskDetails{
				DrawingTitle: optionalString(cmd, "title", title),
				Description:  optionalString(cmd, "description", description),
				AssignedToID: optionalString(cmd, "assign", assignee),
			}
			if cmd.Flags().Changed("priority") {
				p, err := domain.ParsePriority(priority)
				if err != nil {
					return err
				}
				d.Priority = &p
			}
			return withBackend(cmd.Context(), func(ctx context.Context, b backend, _ string) error {
				t, err := b.Update(ctx, engine.TaskDetailsUpdate{ID: args[0], Details: d, ExpectedVersion: expected})
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "drawing title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&priority, "priority", "", "HIGH, MEDIUM or LOW")
	cmd.Flags().StringVar(&assignee, "assign", "", "assignee user id (empty to unassign)")
	cmd.Flags().IntVar(&expected, "expected-version", 0, "fail if the task has moved past this version")
	return cmd
}

func printTask(t domain.Task) error {
	return printTaskWithHistory(t, nil)
}

// printTaskWithHistory adds the latest status change and completion time when log is set.
func printTaskWithHistory(t domain.Task, log *history.Log) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", t.TaskID},
		{"Project", t.ProjectID},
		{"Drawing", t.DrawingTitle},
		{"Status", t.Status.Label()},
		{"Priority", t.Priority},
		{"Assignee", t.AssignedToID},
		{"Created by", t.CreatedByID},
		{"Version", t.Version},
		{"Updated", humanTime(t.UpdatedAt)},
	})
	if t.Description != "" {
		tw.AppendRow(table.Row{"Description", t.Description})
	}
	if last, ok := log.LastStatusChange(); ok {
		tw.AppendRow(table.Row{"Last change", fmt.Sprintf("%s by %s %s", eventDetail(last), eventActor(last), humanTime(last.CreatedAt))})
	}
	if t.Status == domain.StatusCompleted && log != nil {
		if at, ok := log.ReachedAt(domain.StatusCompleted); ok {
			tw.AppendRow(table.Row{"Completed", humanTime(at)})
		}
	}
	tw.Render()
	return nil
}

func eventActor(e domain.HistoryEvent) string {
	if e.UpdatedBy != nil && e.UpdatedBy.Name != "" {
		return e.UpdatedBy.Name
	}
	return e.Details.UserID
}

func eventDetail(e domain.HistoryEvent) string {
	if e.EventType == domain.EventComment {
		return e.Details.Text
	}
	from := domain.TaskStatus(e.Details.From).Label()
	detail := fmt.Sprintf("%s -> %s", from, e.Details.To.Label())
	if strings.TrimSpace(e.Details.Text) != "" {
		detail += ": " + e.Details.Text
	}
	return detail
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}
