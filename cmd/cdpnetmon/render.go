package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"cdpnetmon/pkg/domain"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderTargets(w io.Writer, targets []domain.DebugTarget) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Type", "Title", "URL"})
	for _, tg := range targets {
		t.AppendRow(table.Row{tg.ID, tg.Type, truncate(tg.Title, 40), truncate(tg.URL, 60)})
	}
	t.Render()
}

func renderRecords(w io.Writer, recs []domain.RequestRecord, pinned map[domain.RequestID]bool) {
	t := newTable(w)
	t.AppendHeader(table.Row{"", "Method", "Status", "Type", "Size", "Time", "URL"})
	for _, r := range recs {
		mark := ""
		if pinned[r.ID] {
			mark = "*"
		}
		t.AppendRow(table.Row{mark, r.Method, statusText(r), r.ResourceType, sizeText(r), durationText(r), truncate(r.URL, 80)})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d requests", len(recs))})
	t.Render()
}

func renderArchives(w io.Writer, infos []domain.ArchiveInfo) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Session", "Selection", "Count", "Created"})
	for _, a := range infos {
		t.AppendRow(table.Row{a.ID, a.Session, a.Selection, a.Count, humanize.Time(a.CreatedAt)})
	}
	t.Render()
}

// formatLine 单条记录的流式输出
func formatLine(r domain.RequestRecord) string {
	return fmt.Sprintf("%-7s %-4s %-10s %8s %8s  %s",
		r.Method, statusText(r), r.ResourceType, sizeText(r), durationText(r), truncate(r.URL, 100))
}

func statusText(r domain.RequestRecord) string {
	switch {
	case r.Status != nil:
		return strconv.Itoa(*r.Status)
	case r.State == domain.StateFailed:
		if r.Canceled {
			return "canceled"
		}
		return "failed"
	default:
		return string(r.State)
	}
}

func sizeText(r domain.RequestRecord) string {
	if r.Size == nil {
		return "-"
	}
	return humanize.Bytes(uint64(*r.Size))
}

func durationText(r domain.RequestRecord) string {
	if r.Duration == nil {
		return "-"
	}
	return r.Duration.Round(time.Millisecond).String()
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
