package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskcal/internal/capture"
)

func snapshotCmd(g *globals) *cobra.Command {
	var (
		url      string
		out      string
		width    int
		height   int
		timeout  time.Duration
		settle   time.Duration
		fullPage bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the calendar page of a running server as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = "http://" + g.cfg.Listen + "/calendar"
			}
			if out == "" {
				out = g.previewPath()
			}
			png, err := capture.Snapshot(cmd.Context(), capture.Options{
				URL:        url,
				OutputPath: out,
				Width:      width,
				Height:     height,
				Timeout:    timeout,
				Settle:     settle,
				FullPage:   fullPage,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(png))
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Page to capture (defaults to the configured listen address)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "PNG output path (defaults to preview.png next to the config)")
	cmd.Flags().IntVar(&width, "width", capture.DefaultWidth, "Viewport width")
	cmd.Flags().IntVar(&height, "height", capture.DefaultHeight, "Viewport height")
	cmd.Flags().DurationVar(&timeout, "timeout", capture.DefaultTimeout, "Overall capture timeout")
	cmd.Flags().DurationVar(&settle, "settle", 250*time.Millisecond, "Pause after the page reports ready")
	cmd.Flags().BoolVar(&fullPage, "full-page", false, "Capture the whole document")

	return cmd
}
