// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cimatrix

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/goccy/go-yaml"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
)

// highlighting is disabled by NO_COLOR or when stderr is not a terminal
func highlighting() bool {
	if termenv.EnvNoColor() {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func chromaStyle() string {
	if lipgloss.HasDarkBackground() {
		return "tokyonight-moon"
	}
	return "tokyonight-day"
}

func printScript(logger *log.Logger, shell, script string) {
	script = strings.TrimSpace(script)

	if !highlighting() {
		// same rendering as make
		logger.Print(script)
		return
	}

	lang := shell
	switch shell {
	case "", "sh", "bash", "virtual":
		lang = "shell"
	case "pwsh", "powershell":
		lang = "powershell"
	case "cmd":
		lang = "batchfile"
	}

	var buf strings.Builder
	if err := quick.Highlight(&buf, script, lang, "terminal256", chromaStyle()); err != nil {
		logger.Debugf("failed to highlight: %v", err)
		for line := range strings.SplitSeq(script, "\n") {
			logger.Printf("  %s", line)
		}
		return
	}

	gray := lipgloss.NewStyle().Background(lipgloss.AdaptiveColor{
		Light: "#c5c6bC",
		Dark:  "#3a3943",
	})
	prefix := gray.Render(" ")

	for line := range strings.SplitSeq(buf.String(), "\n") {
		logger.Printf("%s %s", prefix, line)
	}
}

func printBuiltin(logger *log.Logger, uses string, with schema.With) {
	b, err := yaml.MarshalWithOptions(v1.Step{Uses: uses, With: with}, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		logger.Debugf("failed to marshal builtin: %v", err)
		return
	}

	if !highlighting() {
		logger.Printf("%s", strings.TrimSpace(string(b)))
		return
	}

	var buf strings.Builder
	if err := quick.Highlight(&buf, string(b), "yaml", "terminal256", chromaStyle()); err != nil {
		logger.Debugf("failed to highlight: %v", err)
		logger.Printf("%s", string(b))
		return
	}

	logger.Printf("%s", strings.TrimSpace(buf.String()))
}
