// Package rewriter points fetched documents at their local asset copies.
package rewriter

import (
	"errors"
	"fmt"
	"html"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
	"github.com/JakeFAU/newsletter-archiver/internal/metrics"
)

// Result is the outcome of rewriting one record's document.
type Result struct {
	Record archive.ProcessedRecord
	// Skipped is set when the record has no document on disk.
	Skipped bool
	// Replaced counts the distinct asset URLs found in the document.
	Replaced int
	Err      error
}

// Rewriter patches documents in place under an archive root.
type Rewriter struct {
	root   string
	logger *zap.Logger
}

// New constructs a Rewriter for the archive rooted at root.
func New(root string, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{root: root, logger: logger}
}

// RewriteAll rewrites every record independently; one failure never stops the others.
func (r *Rewriter) RewriteAll(records []archive.ProcessedRecord) []Result {
	results := make([]Result, 0, len(records))
	for _, rec := range records {
		res := r.Rewrite(rec)
		if res.Err != nil {
			r.logger.Warn("rewrite failed",
				zap.String("record", rec.Name),
				zap.String("folder", rec.Folder),
				zap.Error(res.Err),
			)
		}
		results = append(results, res)
	}
	return results
}

// Rewrite replaces each mapped asset URL in the record's document with its
// local reference. A missing document is skipped without error.
func (r *Rewriter) Rewrite(rec archive.ProcessedRecord) Result {
	res := Result{Record: rec}
	if rec.DocumentPath == "" {
		res.Skipped = true
		return res
	}
	docPath := filepath.Join(r.root, filepath.FromSlash(rec.DocumentPath))
	// #nosec G304 -- docPath is derived from planner output under the archive root.
	content, err := os.ReadFile(docPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			res.Skipped = true
			r.logger.Debug("document absent, not rewriting", zap.String("dest", docPath))
			return res
		}
		res.Err = fmt.Errorf("read %s: %w", docPath, err)
		return res
	}
	if len(rec.Assets) == 0 {
		return res
	}

	text := string(content)
	replacer, found := build(text, rec)
	res.Replaced = found
	if found == 0 {
		return res
	}
	rewritten := replacer.Replace(text)

	info, err := os.Stat(docPath)
	if err != nil {
		res.Err = fmt.Errorf("stat %s: %w", docPath, err)
		return res
	}
	if err := os.WriteFile(docPath, []byte(rewritten), info.Mode().Perm()); err != nil {
		res.Err = fmt.Errorf("write %s: %w", docPath, err)
		return res
	}
	metrics.ObserveRewrite(found)
	return res
}

// build returns a replacer over every URL form present in text, longest
// first, so a URL that prefixes another never clobbers the longer match.
func build(text string, rec archive.ProcessedRecord) (*strings.Replacer, int) {
	type pair struct{ old, new string }
	var pairs []pair
	found := 0
	for _, raw := range rec.AssetOrder {
		ref, ok := rec.Assets[raw]
		if !ok || raw == "" {
			continue
		}
		hit := false
		if strings.Contains(text, raw) {
			pairs = append(pairs, pair{raw, ref})
			hit = true
		}
		// Markup usually carries & in attribute values as &amp;.
		if escaped := html.EscapeString(raw); escaped != raw && strings.Contains(text, escaped) {
			pairs = append(pairs, pair{escaped, ref})
			hit = true
		}
		if hit {
			found++
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return len(pairs[i].old) > len(pairs[j].old)
	})
	args := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		args = append(args, p.old, p.new)
	}
	return strings.NewReplacer(args...), found
}
