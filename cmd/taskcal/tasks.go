package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/api"
	"taskcal/internal/model"
	"taskcal/internal/normalize"
)

func tasksCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List, create and delete tasks",
	}
	cmd.AddCommand(tasksListCmd(g))
	cmd.AddCommand(tasksCreateCmd(g))
	cmd.AddCommand(tasksDeleteCmd(g))
	return cmd
}

func tasksListCmd(g *globals) *cobra.Command {
	var (
		days   int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks as calendar events",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.session()
			if err != nil {
				return err
			}
			records, err := g.apiClient(s).ListTasks(cmd.Context(), g.cfg.TaskLimit)
			if err != nil {
				return err
			}
			loc := g.cfg.Location()
			events := normalize.New(loc).Events(records)
			if days > 0 {
				now := time.Now().In(loc)
				from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
				events = within(events, from, from.AddDate(0, 0, days))
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTART\tEND\tSTATUS\tTAG\tTITLE")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID,
					e.Start.In(loc).Format("Mon Jan 02 15:04"),
					e.End.In(loc).Format("15:04"),
					e.Resource.Status,
					e.Resource.Tag,
					e.Title,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Only events in the next N days, starting today (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func within(events []model.CalendarEvent, from, to time.Time) []model.CalendarEvent {
	out := events[:0:0]
	for _, e := range events {
		if e.Intersects(from, to) {
			out = append(out, e)
		}
	}
	return out
}

func tasksCreateCmd(g *globals) *cobra.Command {
	var req api.CreateRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := req.Input(normalize.New(g.cfg.Location()), g.cfg.Timezone)
			if err != nil {
				return err
			}
			s, err := g.session()
			if err != nil {
				return err
			}
			rec, err := g.apiClient(s).CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			id := rec.ID()
			if id == "" {
				id = "(no id returned)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %q\n", id, in.Title)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&req.Title, "title", "t", "", "Task title")
	f.StringVar(&req.Description, "description", "", "Description")
	f.StringVar(&req.Tag, "tag", "", "Job, Education, Workout, Home or Other")
	f.StringVar(&req.Status, "status", "", "todo, doing or done")
	f.StringVar(&req.Priority, "priority", "", "low, medium, high or urgent")
	f.StringVar(&req.Color, "color", "", "Hex color")
	f.StringVarP(&req.Start, "start", "s", "", "Start, ISO 8601; zone-less values use the configured timezone")
	f.StringVarP(&req.End, "end", "e", "", "End, ISO 8601")
	f.StringVar(&req.TZ, "tz", "", "IANA zone of the task (defaults to the configured timezone)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func tasksDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.session()
			if err != nil {
				return err
			}
			client := g.apiClient(s)
			for _, id := range args {
				if err := client.DeleteTask(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		},
	}
}
