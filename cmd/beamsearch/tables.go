// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	highlightRowStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "2", Dark: "10"}).
				Bold(true).
				PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// table with alternating row styles, and optionally highlighted rows.
type table struct {
	t           *lgtable.Table
	count       int
	highlighted map[int]bool
}

// newTable creates a table, with the given headers if not empty. The first column is right aligned.
func newTable(headers ...string) *table {
	t := &table{highlighted: make(map[int]bool)}
	t.t = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			switch {
			case t.highlighted[row]:
				s = highlightRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
	if len(headers) > 0 {
		t.t.Headers(headers...)
	}
	return t
}

// Row appends a row, highlighted if highlight is true.
func (t *table) Row(highlight bool, cells ...string) {
	if highlight {
		t.highlighted[t.count] = true
	}
	t.t.Row(cells...)
	t.count++
}

// Render returns the table rendered for the terminal.
func (t *table) Render() string { return t.t.Render() }
