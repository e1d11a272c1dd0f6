// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/bioviz/cimatrix"
	configv0 "github.com/bioviz/cimatrix/config/v0"
	"github.com/bioviz/cimatrix/history"
)

func newHistoryCmd(cfg func() *configv0.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cfg())
			if err != nil {
				return fmt.Errorf("failed to open history: %w", err)
			}
			defer store.Close()

			ctx := cmd.Context()

			if len(args) == 1 {
				run, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printRun(os.Stdout, *run, true)
				return nil
			}

			runs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(os.Stdout, "No recorded runs")
				return nil
			}
			for _, run := range runs {
				printRun(os.Stdout, run, false)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list")

	return cmd
}

func statusStyle(s cimatrix.Status) lipgloss.Style {
	switch s {
	case cimatrix.StatusPassed, cimatrix.StatusSucceeded:
		return Green
	case cimatrix.StatusFailed, cimatrix.StatusErrored, cimatrix.StatusCancelled:
		return Red
	default:
		return FaintStyle
	}
}

func printRun(w io.Writer, run history.Run, steps bool) {
	fmt.Fprintf(w, "%s %s %s %s\n",
		run.ID,
		run.Pipeline,
		statusStyle(run.Status).Render(string(run.Status)),
		FaintStyle.Render(run.Started.Local().Format(time.DateTime)),
	)

	for _, j := range run.Jobs {
		line := fmt.Sprintf("  %s %s", j.Name, statusStyle(j.Status).Render(string(j.Status)))
		if j.AllowFailure {
			line += FaintStyle.Render(" (allowed to fail)")
		}
		if steps && j.Error != "" {
			line += " " + j.Error
		}
		fmt.Fprintln(w, line)

		if !steps {
			continue
		}
		for _, st := range j.Steps {
			detail := []string{st.Duration.Round(time.Millisecond).String()}
			if st.ExitCode != 0 {
				detail = append(detail, fmt.Sprintf("exit %d", st.ExitCode))
			}
			fmt.Fprintf(w, "    %s[%d] %s %s %s\n",
				st.Phase, st.Index, st.Name,
				statusStyle(st.Status).Render(string(st.Status)),
				FaintStyle.Render("("+strings.Join(detail, ", ")+")"),
			)
		}
	}
}
