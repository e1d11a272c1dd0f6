// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// DefaultStyles returns the log styles of the cimatrix CLI.
func DefaultStyles() *log.Styles {
	styles := log.DefaultStyles()

	// https://github.com/charmbracelet/vhs/blob/main/themes.json
	levels := map[log.Level]lipgloss.AdaptiveColor{
		log.DebugLevel: {Light: "#2e7de9", Dark: "#7aa2f7"}, // blue
		log.InfoLevel:  {Light: "#007197", Dark: "#7dcfff"}, // cyan
		log.WarnLevel:  {Light: "#8c6c3e", Dark: "#e0af68"}, // amber
		log.ErrorLevel: {Light: "#f52a65", Dark: "#f7768e"}, // red
		log.FatalLevel: {Light: "#9854f1", Dark: "#bb9af7"}, // magenta
	}
	for level, color := range levels {
		styles.Levels[level] = styles.Levels[level].Foreground(color)
	}

	styles.Keys["job"] = lipgloss.NewStyle().Bold(true)
	styles.Keys["status"] = FaintStyle

	return styles
}

var (
	// FaintStyle renders secondary details
	FaintStyle = lipgloss.NewStyle().Faint(true)

	// Green renders passing statuses
	Green = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#587539",
		Dark:  "#9ece6a",
	})

	// Red renders failing statuses
	Red = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{
		Light: "#f52a65",
		Dark:  "#f7768e",
	})
)
