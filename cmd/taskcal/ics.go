package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/config"
	"taskcal/internal/ics"
	appLog "taskcal/internal/log"
	"taskcal/internal/normalize"
)

func icsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ics",
		Short: "Exchange tasks with iCalendar files and feeds",
	}
	cmd.AddCommand(icsExportCmd(g))
	cmd.AddCommand(icsImportCmd(g))
	return cmd
}

func icsExportCmd(g *globals) *cobra.Command {
	var (
		out  string
		name string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all tasks as an iCalendar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.session()
			if err != nil {
				return err
			}
			records, err := g.apiClient(s).ListTasks(cmd.Context(), g.cfg.TaskLimit)
			if err != nil {
				return err
			}
			events := normalize.New(g.cfg.Location()).Events(records)
			body := ics.Export(events, ics.ExportOptions{Name: name})

			if out == "" || out == "-" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), body)
				return err
			}
			if err := config.WriteFileAtomic(out, []byte(body), ".taskcal-export-*.tmp"); err != nil {
				return err
			}
			appLog.Info("calendar exported", "path", out, "events", len(events))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().StringVar(&name, "name", "taskcal", "Calendar name")

	return cmd
}

func icsImportCmd(g *globals) *cobra.Command {
	var (
		from     string
		days     int
		maxPer   int
		cacheDir string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "import FILE|URL",
		Short: "Create tasks from the events of an iCalendar file or feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loc := g.cfg.Location()
			src := args[0]

			var body []byte
			if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
				if cacheDir == "" {
					cacheDir = filepath.Join(filepath.Dir(g.configPath), "ics-cache")
				}
				res, err := ics.NewFetcher(cacheDir, g.cfg.RequestTimeout).Fetch(ctx, src)
				if err != nil {
					return err
				}
				body = res.Body
			} else {
				b, err := os.ReadFile(src)
				if err != nil {
					return err
				}
				body = b
			}

			parsed, err := ics.Parse(body, loc)
			if err != nil {
				return err
			}

			start := time.Now().In(loc)
			if from != "" {
				t, ok := normalize.New(loc).ParseValue(from)
				if !ok {
					return fmt.Errorf("invalid --from %q", from)
				}
				start = t
			}
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
			res, err := ics.Expand(parsed, ics.Range{From: start, To: start.AddDate(0, 0, days)}, loc, maxPer)
			if err != nil {
				return err
			}
			for _, uid := range res.Truncated {
				appLog.Warn("recurring event truncated", "uid", uid, "max", maxPer)
			}

			inputs := ics.CreateInputs(res.Occurrences, g.cfg.Timezone)
			w := cmd.OutOrStdout()
			if dryRun {
				for _, in := range inputs {
					fmt.Fprintf(w, "%s  %s\n", in.Start.In(loc).Format("Mon Jan 02 15:04"), in.Title)
				}
				fmt.Fprintf(w, "%d events would be imported\n", len(inputs))
				return nil
			}

			s, err := g.session()
			if err != nil {
				return err
			}
			client := g.apiClient(s)
			created := 0
			for _, in := range inputs {
				if _, err := client.CreateTask(ctx, in); err != nil {
					appLog.Error("import of event failed", err, "title", in.Title, "start", in.Start)
					continue
				}
				created++
			}
			fmt.Fprintf(w, "imported %d of %d events\n", created, len(inputs))
			if created < len(inputs) {
				return fmt.Errorf("%d events failed to import", len(inputs)-created)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First day to import (defaults to today)")
	cmd.Flags().IntVar(&days, "days", 30, "Number of days to import")
	cmd.Flags().IntVar(&maxPer, "max", ics.DefaultMaxOccurrences, "Maximum occurrences per recurring event")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Feed cache directory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print what would be imported")

	return cmd
}
