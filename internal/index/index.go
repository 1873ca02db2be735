// Package index renders the archive's browsable listing page.
package index

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
)

// DisplayDateLayout formats entry dates as day.month.year.
const DisplayDateLayout = "02.01.2006"

// DefaultTitle heads the page when no title is configured.
const DefaultTitle = "Mailingwork Archive"

// Year groups a calendar year's months, newest year first.
type Year struct {
	Year   int
	Months []Month
}

// Month groups one calendar month's entries, newest first.
type Month struct {
	Month   time.Month
	Name    string
	Entries []Entry
}

// Entry is one rendered row.
type Entry struct {
	Date time.Time
	// DisplayDate is Date in DisplayDateLayout.
	DisplayDate  string
	Name         string
	DocumentHref string
	FileHref     string
}

// Group orders records by year descending, month number ascending within a
// year, and date descending within a month. Records sharing a date keep
// their input order.
func Group(records []archive.ProcessedRecord) []Year {
	byYear := make(map[int]map[time.Month][]archive.ProcessedRecord)
	for _, rec := range records {
		y, m := rec.Date.Year(), rec.Date.Month()
		if byYear[y] == nil {
			byYear[y] = make(map[time.Month][]archive.ProcessedRecord)
		}
		byYear[y][m] = append(byYear[y][m], rec)
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))

	out := make([]Year, 0, len(years))
	for _, y := range years {
		months := make([]time.Month, 0, len(byYear[y]))
		for m := range byYear[y] {
			months = append(months, m)
		}
		sort.Slice(months, func(i, j int) bool { return months[i] < months[j] })

		year := Year{Year: y}
		for _, m := range months {
			recs := byYear[y][m]
			sort.SliceStable(recs, func(i, j int) bool { return recs[i].Date.After(recs[j].Date) })
			month := Month{Month: m, Name: m.String()}
			for _, rec := range recs {
				month.Entries = append(month.Entries, Entry{
					Date:         rec.Date,
					DisplayDate:  rec.Date.Format(DisplayDateLayout),
					Name:         rec.Name,
					DocumentHref: href(rec.DocumentPath),
					FileHref:     href(rec.FilePath),
				})
			}
			year.Months = append(year.Months, month)
		}
		out = append(out, year)
	}
	return out
}

// href percent-escapes each segment of a slash path relative to the archive root.
func href(rel string) string {
	if rel == "" {
		return ""
	}
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Builder renders the index page.
type Builder struct {
	title  string
	logger *zap.Logger
}

// New constructs a Builder. An empty title falls back to DefaultTitle.
func New(title string, logger *zap.Logger) *Builder {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{title: title, logger: logger}
}

type pageData struct {
	Title string
	Years []templateYear
}

type templateYear struct {
	Year   int
	Months []templateMonth
}

type templateMonth struct {
	Name    string
	Entries []templateEntry
}

type templateEntry struct {
	Date         string
	Name         string
	DocumentHref string
	FileHref     string
}

// Render writes the full page for records to w.
func (b *Builder) Render(w io.Writer, records []archive.ProcessedRecord) error {
	data := pageData{Title: b.title}
	for _, y := range Group(records) {
		ty := templateYear{Year: y.Year}
		for _, m := range y.Months {
			tm := templateMonth{Name: m.Name}
			for _, e := range m.Entries {
				tm.Entries = append(tm.Entries, templateEntry{
					Date:         e.DisplayDate,
					Name:         e.Name,
					DocumentHref: e.DocumentHref,
					FileHref:     e.FileHref,
				})
			}
			ty.Months = append(ty.Months, tm)
		}
		data.Years = append(data.Years, ty)
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render index: %w", err)
	}
	return nil
}

// WriteFile renders the page and replaces path with it in one step.
func (b *Builder) WriteFile(path string, records []archive.ProcessedRecord) error {
	var buf bytes.Buffer
	if err := b.Render(&buf, records); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return fmt.Errorf("create index temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close index: %w", err)
	}
	// #nosec G302 -- the index is a public page.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod index: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("move index into place: %w", err)
	}
	b.logger.Info("index written", zap.String("path", path), zap.Int("records", len(records)))
	return nil
}
