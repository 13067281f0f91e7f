// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/AleutianAI/editkit/services/edits/consistency"
	"github.com/AleutianAI/editkit/services/edits/proposal"
	"github.com/AleutianAI/editkit/services/edits/store"
)

// diffStyles colors the lines of a unified diff.
type diffStyles struct {
	header lipgloss.Style
	hunk   lipgloss.Style
	add    lipgloss.Style
	del    lipgloss.Style
}

// newDiffStyles renders ANSI colors to w regardless of what w is; the caller
// decides whether color is wanted at all.
func newDiffStyles(w io.Writer) diffStyles {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(termenv.ANSI)
	base := r.NewStyle().TabWidth(lipgloss.NoTabConversion)
	return diffStyles{
		header: base.Bold(true),
		hunk:   base.Foreground(lipgloss.Color("6")),
		add:    base.Foreground(lipgloss.Color("2")),
		del:    base.Foreground(lipgloss.Color("1")),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// useColor decides whether to colorize output written to w.
//
// mode is "always", "never" or "auto". Auto colors terminals unless NO_COLOR
// is set.
func useColor(mode string, w io.Writer) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// colorize styles each line of a unified diff.
func (st diffStyles) colorize(diffText string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(diffText, "\n") {
		if line == "" {
			continue
		}
		body := strings.TrimSuffix(line, "\n")
		nl := line[len(body):]
		switch {
		case strings.HasPrefix(body, "+++"), strings.HasPrefix(body, "---"):
			b.WriteString(st.header.Render(body) + nl)
		case strings.HasPrefix(body, "@@"):
			b.WriteString(st.hunk.Render(body) + nl)
		case strings.HasPrefix(body, "+"):
			b.WriteString(st.add.Render(body) + nl)
		case strings.HasPrefix(body, "-"):
			b.WriteString(st.del.Render(body) + nl)
		default:
			b.WriteString(line)
		}
	}
	return b.String()
}

func printFile(w io.Writer, f *proposal.ProposedFile) {
	fmt.Fprintf(w, "%s: %s", f.Rel, f.Status)
	if f.Message != "" {
		fmt.Fprintf(w, " (%s)", f.Message)
	}
	fmt.Fprintf(w, ", %d change(s)\n", len(f.Changes))

	for _, i := range f.Ordered() {
		c := f.Changes[i]
		state := "pending"
		switch {
		case c.Discarded:
			state = "discarded"
		case c.Applied:
			state = "applied"
		}
		fmt.Fprintf(w, "  %s  [%d,%d)  -%d +%d bytes  %-9s %s\n",
			c.ID, c.Start, c.End, len(c.OldText), len(c.NewText), state, firstLine(c.NewText, c.OldText))
	}
}

// printFileTable lists planned files one per row.
func printFileTable(w io.Writer, files []*proposal.ProposedFile) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"File", "Status", "Pending", "Applied", "Discarded", "Message"})
	for _, f := range files {
		var pending, applied, discarded int
		for _, c := range f.Changes {
			switch {
			case c.Discarded:
				discarded++
			case c.Applied:
				applied++
			default:
				pending++
			}
		}
		tw.AppendRow(table.Row{f.Rel, f.Status, pending, applied, discarded, f.Message})
	}
	tw.Render()
}

func printIssues(w io.Writer, issues []consistency.Issue) {
	if len(issues) == 0 {
		fmt.Fprintln(w, "no issues")
		return
	}
	for _, is := range issues {
		code := string(is.Code)
		if code == "" {
			code = string(is.Source)
		}
		fmt.Fprintf(w, "%-5s %-20s %s\n", is.Severity, code, is.Message)
		if is.Suggestion != "" {
			fmt.Fprintf(w, "      hint: %s\n", is.Suggestion)
		}
	}
}

func printStep(w io.Writer, rec store.StepRecord) {
	fmt.Fprintf(w, "%s: step %d, %d change(s)\n", rec.Step.Rel, rec.Sequence, len(rec.Step.AppliedChangeIDs))
	for _, id := range rec.Step.AppliedChangeIDs {
		fmt.Fprintf(w, "  %s\n", id)
	}
}

// firstLine previews a change by the first line of its new text, or of its
// old text for pure deletions.
func firstLine(newText, oldText string) string {
	s, prefix := newText, "+ "
	if s == "" {
		s, prefix = oldText, "- "
	}
	s, _, _ = strings.Cut(s, "\n")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return prefix + s
}
