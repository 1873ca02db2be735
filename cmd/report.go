package cmd

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/newsletter-archiver/internal/mirror"
	"github.com/JakeFAU/newsletter-archiver/internal/pipeline"
	"github.com/JakeFAU/newsletter-archiver/internal/planner"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderResult prints the run totals, then any failed transfers and skipped
// records.
func renderResult(res *pipeline.Result) string {
	failed := res.Fetch.Failed()
	summary := [][]string{
		{"Run", res.RunID.String()},
		{"Records", strconv.Itoa(len(res.Records))},
		{"Skipped", strconv.Itoa(len(res.Skipped))},
		{"Transfers", strconv.Itoa(len(res.Fetch.Results))},
		{"Succeeded", strconv.Itoa(res.Fetch.Succeeded())},
		{"Failed", strconv.Itoa(len(failed))},
		{"Downloaded", humanize.Bytes(uint64(max(res.Fetch.Bytes(), 0)))},
		{"Rewrite errors", strconv.Itoa(res.RewriteFailures())},
		{"Index", res.IndexPath},
		{"Took", res.Duration.Round(time.Millisecond).String()},
	}
	var b strings.Builder
	b.WriteString(renderTable([]string{"Archive", ""}, summary, []columnAlignment{alignLeft, alignRight}))

	if len(failed) > 0 {
		rows := make([][]string, 0, len(failed))
		for _, f := range failed {
			status := "-"
			if f.StatusCode > 0 {
				status = strconv.Itoa(f.StatusCode)
			}
			rows = append(rows, []string{f.Task.URL, status, f.Err.Error()})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Failed URL", "Status", "Error"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft}))
	}
	if len(res.Skipped) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Skipped record", "Reason"}, skippedRows(res.Skipped), nil))
	}
	return b.String()
}

func skippedRows(skipped []planner.Skipped) [][]string {
	rows := make([][]string, 0, len(skipped))
	for _, s := range skipped {
		name := s.Record.Name
		if name == "" {
			name = s.Record.DetailURL
		}
		reason := ""
		if s.Reason != nil {
			reason = s.Reason.Error()
		}
		rows = append(rows, []string{name, reason})
	}
	return rows
}

func renderMirror(bucket, prefix string, report mirror.Report) string {
	dest := "gs://" + bucket
	if p := strings.Trim(prefix, "/"); p != "" {
		dest += "/" + p
	}
	rows := [][]string{
		{"Destination", dest},
		{"Uploaded", strconv.Itoa(report.Uploaded)},
		{"Failed", strconv.Itoa(len(report.Failures))},
		{"Size", humanize.Bytes(uint64(max(report.Bytes, 0)))},
	}
	out := renderTable([]string{"Mirror", ""}, rows, []columnAlignment{alignLeft, alignRight})
	if len(report.Failures) == 0 {
		return out
	}
	failures := make([][]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		failures = append(failures, []string{f.Path, f.Err.Error()})
	}
	return out + "\n" + renderTable([]string{"Failed file", "Error"}, failures, nil)
}
