// Package planner derives deterministic, filesystem-safe record folders.
// It performs no I/O.
package planner

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
)

// FolderDateLayout is the ISO date prefix of every record folder.
const FolderDateLayout = "2006-01-02"

// MaxFolderNameBytes caps a base folder name below the common 255-byte
// file name limit, leaving room for a collision suffix.
const MaxFolderNameBytes = 200

// ErrUndatedRecord is returned for records whose date was never normalized.
var ErrUndatedRecord = errors.New("record has no date")

var (
	illegalChars = regexp.MustCompile(`[\\/*?:"<>|]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Plan binds a record to its folder under the pages root.
type Plan struct {
	Record     archive.Record
	FolderName string
	Folder     string
}

// Skipped is a record the planner refused, with the reason.
type Skipped struct {
	Record archive.Record
	Reason error
}

// Sanitize strips characters that are illegal in paths and collapses
// whitespace runs into single underscores.
func Sanitize(name string) string {
	name = illegalChars.ReplaceAllString(name, "")
	name = strings.TrimSpace(name)
	return whitespace.ReplaceAllString(name, "_")
}

// FolderName returns `<ISO-date>_<sanitized-name>`, or the bare date when
// the name sanitizes to nothing. Long names are cut at a rune boundary so
// the result never exceeds MaxFolderNameBytes.
func FolderName(record archive.Record) (string, error) {
	if record.Date.IsZero() {
		return "", ErrUndatedRecord
	}
	date := record.Date.Format(FolderDateLayout)
	name := truncate(Sanitize(record.Name), MaxFolderNameBytes-len(date)-1)
	if name == "" {
		return date, nil
	}
	return date + "_" + name, nil
}

func truncate(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return strings.TrimRight(name[:cut], "_.")
}

// Planner assigns folders for one batch.
type Planner struct {
	root string
}

// New returns a Planner placing record folders under root.
func New(root string) *Planner {
	return &Planner{root: root}
}

// Plan assigns every dated record a folder that is unique within the batch.
// Records whose base name is already taken get a `_2`, `_3`, ... suffix in
// input order, so identical input always yields identical folders.
func (p *Planner) Plan(records []archive.Record) ([]Plan, []Skipped) {
	plans := make([]Plan, 0, len(records))
	var skipped []Skipped
	taken := make(map[string]struct{}, len(records))

	for _, record := range records {
		base, err := FolderName(record)
		if err != nil {
			skipped = append(skipped, Skipped{Record: record, Reason: fmt.Errorf("plan %q: %w", record.Name, err)})
			continue
		}
		name := base
		for n := 2; ; n++ {
			// Case-insensitive filesystems would merge folders differing only in case.
			key := strings.ToLower(name)
			if _, ok := taken[key]; !ok {
				taken[key] = struct{}{}
				break
			}
			name = fmt.Sprintf("%s_%d", base, n)
		}
		plans = append(plans, Plan{
			Record:     record,
			FolderName: name,
			Folder:     filepath.Join(p.root, name),
		})
	}
	return plans, skipped
}
