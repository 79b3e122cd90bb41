// Package report renders session summaries and history as console tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/igo-publications-crawler/internal/crawler"
	"github.com/JakeFAU/igo-publications-crawler/internal/pipeline"
)

const maxErrorWidth = 60

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// Summary writes one row per organization plus a totals footer.
func Summary(w io.Writer, sum pipeline.Summary) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Organization", "URLs", "Candidates", "Known", "Found", "Downloaded", "Time", "Status"})
	for _, res := range sum.Results {
		status := "ok"
		if res.Err != nil {
			status = truncate(res.Err.Error(), maxErrorWidth)
		}
		t.AppendRow(table.Row{
			res.Organization,
			res.Discovered,
			res.Resolved,
			res.Filtered,
			res.Found,
			res.Downloaded,
			res.Dur.Round(time.Second),
			status,
		})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d organizations", sum.Organizations),
		sum.Discovered, "", "",
		sum.Found,
		sum.Downloaded,
		fmt.Sprintf("%.2f%%", sum.Percent()),
		fmt.Sprintf("%d failed", sum.Failed),
	})
	t.Render()
}

// Sessions writes the session history, newest first as given.
func Sessions(w io.Writer, sessions []crawler.Session) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Started", "Ended", "Duration", "Errors"})
	for _, s := range sessions {
		ended, dur := "running", ""
		if s.EndedAt != nil {
			ended = s.EndedAt.Format(time.DateTime)
			dur = crawler.FormatRemainingTime(s.EndedAt.Sub(s.StartedAt))
		}
		t.AppendRow(table.Row{s.ID, s.StartedAt.Format(time.DateTime), ended, dur, s.ErrorsNumber})
	}
	t.Render()
}

// Organizations writes the catalog.
func Organizations(w io.Writer, orgs []crawler.Organization) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Organization", "Name", "Publication URLs"})
	for _, org := range orgs {
		t.AppendRow(table.Row{
			org.ID,
			org.Label(),
			org.Name,
			strings.ReplaceAll(org.PublicationURLs, "; ", "\n"),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d organizations", len(orgs))})
	t.Render()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
