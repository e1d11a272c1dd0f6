// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"

	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// PlannedStep is a declared step as it applies to one job
type PlannedStep struct {
	Phase v1.Phase
	Index int
	Title string
	// Skipped is set when the step is tagged for other platforms
	Skipped bool
	// Conditional is set when the step has an `if` expression
	Conditional bool
}

// Plan returns the declared step sequence of a job
//
// The sequence only depends on the pipeline and the job, so it is identical across runs
func Plan(p v1.Pipeline, job v1.Job) []PlannedStep {
	var planned []PlannedStep
	for _, phase := range v1.Phases() {
		for i, step := range p.Steps(phase) {
			planned = append(planned, PlannedStep{
				Phase:       phase,
				Index:       i,
				Title:       step.Title(),
				Skipped:     !step.RunsOn(job.OS),
				Conditional: step.If != "",
			})
		}
	}
	return planned
}

// PlanMarkdown describes the plan of every job as markdown
func PlanMarkdown(p v1.Pipeline, jobs []v1.Job) string {
	var sb strings.Builder

	name := p.Name
	if name == "" {
		name = "pipeline"
	}
	fmt.Fprintf(&sb, "# %s\n\n", name)

	if p.Descriptor != "" {
		fmt.Fprintf(&sb, "Environment descriptor: `%s`\n\n", p.Descriptor)
	}

	for _, job := range jobs {
		fmt.Fprintf(&sb, "## %s\n\n", job.Label())
		fmt.Fprintf(&sb, "- os: `%s`\n", job.OS)
		if job.Image != "" {
			fmt.Fprintf(&sb, "- image: `%s`\n", job.Image)
		}
		fmt.Fprintf(&sb, "- %s: `%t`\n", EnvLinux, job.Linux())
		if job.AllowFailure {
			sb.WriteString("- allowed to fail\n")
		}
		sb.WriteString("\n")

		var current v1.Phase
		for _, ps := range Plan(p, job) {
			if ps.Phase != current {
				current = ps.Phase
				fmt.Fprintf(&sb, "\n### %s\n\n", current)
			}
			line := fmt.Sprintf("%d. %s", ps.Index+1, ps.Title)
			switch {
			case ps.Skipped:
				line = fmt.Sprintf("%d. ~~%s~~ (other platform)", ps.Index+1, ps.Title)
			case ps.Conditional:
				line += " (conditional)"
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// RenderMarkdown renders markdown for the terminal
func RenderMarkdown(md string, width int) (string, error) {
	opts := []glamour.TermRendererOption{}
	if termenv.EnvNoColor() {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	if width > 0 {
		opts = append(opts, glamour.WithWordWrap(width))
	}

	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}
	return renderer.Render(md)
}
