// Package records loads the discovered newsletter list and turns it into
// dated archive records.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
	"github.com/JakeFAU/newsletter-archiver/internal/storage/local"
)

// DefaultDateLayout matches listing dates such as 24.02.2014.
const DefaultDateLayout = "02.01.2006"

// ErrEmptyInput is returned when the record source holds no entries.
var ErrEmptyInput = errors.New("record source is empty")

// Raw is one listing row as written by discovery.
type Raw struct {
	Date     string   `json:"date" yaml:"date"`
	Name     string   `json:"name" yaml:"name"`
	HTMLLink string   `json:"html_link,omitempty" yaml:"html_link,omitempty"`
	PDFLink  string   `json:"pdf_link,omitempty" yaml:"pdf_link,omitempty"`
	Images   []string `json:"images,omitempty" yaml:"images,omitempty"`
}

// Options controls Prepare.
type Options struct {
	DateLayout string
	// AlternateOnly keeps every second entry after sorting, starting with the second.
	AlternateOnly bool
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load reads a JSON (or, by extension, YAML) list of raw entries.
func Load(path string) ([]Raw, error) {
	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyInput)
	}
	var raw []Raw
	if isYAML(path) {
		err = yaml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("decode records %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyInput)
	}
	return raw, nil
}

// Save writes raw entries to path, as YAML when the extension says so.
func Save(ctx context.Context, path string, raw []Raw) error {
	var (
		data        []byte
		err         error
		contentType = "application/json"
	)
	if isYAML(path) {
		data, err = yaml.Marshal(raw)
		contentType = "application/yaml"
	} else {
		data, err = json.MarshalIndent(raw, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	store, err := local.New(local.Config{BaseDir: filepath.Dir(path)})
	if err != nil {
		return err
	}
	if _, err := store.PutObject(ctx, filepath.Base(path), contentType, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save records %s: %w", path, err)
	}
	return nil
}

// Refine drops entries without a date.
func Refine(raw []Raw) []Raw {
	out := make([]Raw, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Date) != "" {
			out = append(out, r)
		}
	}
	return out
}

// Parse converts raw entries into records. Entries whose date does not match
// layout are logged and dropped.
func Parse(raw []Raw, layout string, logger *zap.Logger) []archive.Record {
	if layout == "" {
		layout = DefaultDateLayout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]archive.Record, 0, len(raw))
	for _, r := range raw {
		date, err := time.Parse(layout, strings.TrimSpace(r.Date))
		if err != nil {
			logger.Warn("dropping entry with unparseable date",
				zap.String("record", r.Name),
				zap.String("date", r.Date),
				zap.Error(err),
			)
			continue
		}
		out = append(out, archive.Record{
			Date:        date,
			Name:        r.Name,
			DetailURL:   r.HTMLLink,
			DocumentURL: r.PDFLink,
			Assets:      append([]string(nil), r.Images...),
		})
	}
	return out
}

// SortDescending orders records newest first. Records sharing a date keep
// their relative order.
func SortDescending(recs []archive.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Date.After(recs[j].Date)
	})
}

// AlternateOnly keeps the entries at odd positions (1, 3, 5, ...).
func AlternateOnly(recs []archive.Record) []archive.Record {
	out := make([]archive.Record, 0, len(recs)/2)
	for i := 1; i < len(recs); i += 2 {
		out = append(out, recs[i])
	}
	return out
}

// Prepare runs Refine, Parse, SortDescending and, if enabled, AlternateOnly.
func Prepare(raw []Raw, opts Options, logger *zap.Logger) []archive.Record {
	recs := Parse(Refine(raw), opts.DateLayout, logger)
	SortDescending(recs)
	if opts.AlternateOnly {
		recs = AlternateOnly(recs)
	}
	return recs
}
