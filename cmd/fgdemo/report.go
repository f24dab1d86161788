// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/schedule"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF")).
			MarginBottom(1)
	headStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
	passStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#EEEEEE"))
	reroutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	syncStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// queueColumn renders the events of one queue, one per line.
func queueColumn(engine *framegraph.Engine, bp *schedule.Blueprint, q int) string {
	lines := []string{headStyle.Render(fmt.Sprintf("queue %d · %s", q, engine.Device().Queues()[q]))}
	for _, e := range bp.Events(q) {
		if e.Wait != nil {
			for _, fv := range e.Wait.Fences {
				lines = append(lines, syncStyle.Render(fmt.Sprintf("  ⧗ wait %s=%d", fv.Fence.Name(), fv.Value)))
			}
		}
		style := passStyle
		if e.Kind == schedule.EventReroutedTransitions {
			style = reroutedStyle
		}
		barriers := e.PreWork.Len() + e.PostWork.Len()
		lines = append(lines, style.Render(fmt.Sprintf("#%d %-10s %2d barriers", e.BatchIndex, e.Label, barriers)))
		if e.Signal != nil {
			lines = append(lines, syncStyle.Render(fmt.Sprintf("  ↑ signal %s=%d", e.Signal.Fence.Name(), e.Signal.Value)))
		}
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderReport(engine *framegraph.Engine, frames uint64, readback bool) string {
	bp := engine.Blueprint()
	sections := []string{titleStyle.Render(fmt.Sprintf("framegraph %s · frame %d", framegraph.Version, bp.Frame))}

	columns := make([]string, 0, bp.QueueCount())
	for q := range bp.QueueCount() {
		columns = append(columns, queueColumn(engine, bp, q))
	}
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, columns...))

	st := engine.Stats()
	summary := []string{
		headStyle.Render("summary"),
		fmt.Sprintf("frames          %d", st.Frames),
		fmt.Sprintf("objects         %d", st.Storage.Objects),
		fmt.Sprintf("heaps           %d (%d bytes)", st.Storage.Heaps, st.Storage.HeapBytes),
		fmt.Sprintf("reallocations   %d", st.Storage.Reallocations),
		fmt.Sprintf("command lists   %d", st.CommandLists),
		fmt.Sprintf("recording       %d goroutines", engine.RecordingThreads()),
	}
	for _, name := range []string{"albedo", "normal", "depth", "ao", "lit"} {
		shared, preds := engine.Storage().AliasingInfo(name)
		if shared && len(preds) > 0 {
			summary = append(summary, fmt.Sprintf("alias %-9s after %s", name, strings.Join(preds, ", ")))
		}
	}
	if readback {
		if data, frame, ok := engine.Readback("lit"); ok {
			summary = append(summary, fmt.Sprintf("readback        lit, frame %d, %d bytes", frame, len(data)))
		} else {
			summary = append(summary, "readback        none completed yet")
		}
	}
	sections = append(sections, boxStyle.Render(strings.Join(summary, "\n")))

	if results, ok := engine.ProfilerResults(frames); ok {
		lines := []string{headStyle.Render(fmt.Sprintf("profile · frame %d", frames))}
		for _, r := range results {
			lines = append(lines, fmt.Sprintf("q%d %-10s %10v", r.Queue, r.Name, r.Duration))
		}
		sections = append(sections, boxStyle.Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
