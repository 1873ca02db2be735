// Package resolver expands planned records into fetch tasks and rewrite tables.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
	"github.com/JakeFAU/newsletter-archiver/internal/planner"
)

const (
	defaultDocumentExt = "html"
	documentBaseName   = "entry"
	fallbackAssetName  = "asset"
	fallbackFileName   = "document"
)

// DigestLength is the number of hex characters kept from a disambiguating digest.
const DigestLength = 8

// Config controls where documents land and how they are named.
type Config struct {
	// Root is the archive root; record paths are reported relative to it.
	Root string
	// DocumentExt is the extension of the fetched detail page.
	DocumentExt string
}

// Resolver plans fetch tasks for records. It creates destination folders
// but never touches the network.
type Resolver struct {
	cfg    Config
	hasher archive.Hasher
	logger *zap.Logger
}

// New constructs a Resolver.
func New(cfg Config, hasher archive.Hasher, logger *zap.Logger) *Resolver {
	if cfg.DocumentExt == "" {
		cfg.DocumentExt = defaultDocumentExt
	}
	cfg.DocumentExt = strings.TrimPrefix(cfg.DocumentExt, ".")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, hasher: hasher, logger: logger}
}

// DocumentName is the file name of every record's fetched detail page.
func (r *Resolver) DocumentName() string {
	return documentBaseName + "." + r.cfg.DocumentExt
}

// Resolve builds the processed record and its fetch tasks. Tasks are emitted
// document first, then assets in record order, then the document-format file.
// Every destination parent folder exists when Resolve returns nil.
func (r *Resolver) Resolve(plan planner.Plan) (archive.ProcessedRecord, []archive.FetchTask, error) {
	rec := plan.Record
	out := archive.ProcessedRecord{
		Date:      rec.Date,
		Name:      rec.Name,
		DetailURL: rec.DetailURL,
		Folder:    plan.Folder,
		Assets:    make(map[string]string),
	}
	claims := newClaimSet()

	var docTask, fileTask *archive.FetchTask
	if rec.DetailURL != "" {
		name := r.DocumentName()
		claims.claim(name)
		docTask = &archive.FetchTask{URL: rec.DetailURL, Dest: filepath.Join(plan.Folder, name)}
		rel, err := r.relative(docTask.Dest)
		if err != nil {
			return archive.ProcessedRecord{}, nil, err
		}
		out.DocumentPath = rel
	}

	// The document-format file is claimed before assets so an asset can
	// never shadow it.
	if rec.DocumentURL != "" {
		name, err := r.fileName(rec.DocumentURL, claims)
		if err != nil {
			return archive.ProcessedRecord{}, nil, err
		}
		fileTask = &archive.FetchTask{URL: rec.DocumentURL, Dest: filepath.Join(plan.Folder, name)}
		rel, err := r.relative(fileTask.Dest)
		if err != nil {
			return archive.ProcessedRecord{}, nil, err
		}
		out.FilePath = rel
	}

	tasks := make([]archive.FetchTask, 0, len(rec.Assets)+2)
	if docTask != nil {
		tasks = append(tasks, *docTask)
	}
	for _, raw := range rec.Assets {
		if _, seen := out.Assets[raw]; seen {
			continue
		}
		task, ref, ok, err := r.resolveAsset(plan, raw, claims)
		if err != nil {
			return archive.ProcessedRecord{}, nil, err
		}
		if !ok {
			continue
		}
		out.Assets[raw] = ref
		out.AssetOrder = append(out.AssetOrder, raw)
		tasks = append(tasks, task)
	}
	if fileTask != nil {
		tasks = append(tasks, *fileTask)
	}

	if err := ensureDirs(plan.Folder, tasks); err != nil {
		return archive.ProcessedRecord{}, nil, err
	}
	return out, tasks, nil
}

func (r *Resolver) resolveAsset(
	plan planner.Plan,
	raw string,
	claims *claimSet,
) (archive.FetchTask, string, bool, error) {
	target, err := absoluteURL(raw, plan.Record.DetailURL)
	if err != nil {
		r.logger.Warn("skipping unresolvable asset",
			zap.String("record", plan.Record.Name),
			zap.String("url", raw),
			zap.Error(err),
		)
		return archive.FetchTask{}, "", false, nil
	}

	rel := strings.TrimPrefix(path.Clean("/"+target.Path), "/")
	if rel == "" || strings.HasSuffix(target.Path, "/") {
		rel = path.Join(rel, fallbackAssetName)
	}
	if target.RawQuery != "" {
		suffix, err := r.digest(target.RawQuery)
		if err != nil {
			return archive.FetchTask{}, "", false, err
		}
		rel = withSuffix(rel, suffix)
	}
	rel, err = r.unclaimed(rel, target.String(), claims)
	if err != nil {
		return archive.FetchTask{}, "", false, err
	}

	task := archive.FetchTask{
		URL:  target.String(),
		Dest: filepath.Join(plan.Folder, filepath.FromSlash(rel)),
	}
	return task, reference(rel), true, nil
}

func (r *Resolver) fileName(raw string, claims *claimSet) (string, error) {
	name := fallbackFileName
	if u, err := url.Parse(raw); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	return r.unclaimed(name, raw, claims)
}

// unclaimed returns rel, or a flattened copy of rel suffixed with a digest
// of key when rel would collide with a path already used in this folder.
func (r *Resolver) unclaimed(rel, key string, claims *claimSet) (string, error) {
	if !claims.conflicts(rel) {
		claims.claim(rel)
		return rel, nil
	}
	suffix, err := r.digest(key)
	if err != nil {
		return "", err
	}
	flat := strings.ReplaceAll(rel, "/", "_")
	candidate := withSuffix(flat, suffix)
	for n := 2; claims.conflicts(candidate); n++ {
		candidate = withSuffix(flat, fmt.Sprintf("%s_%d", suffix, n))
	}
	claims.claim(candidate)
	return candidate, nil
}

func (r *Resolver) digest(s string) (string, error) {
	sum, err := r.hasher.Hash([]byte(s))
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", s, err)
	}
	if len(sum) > DigestLength {
		sum = sum[:DigestLength]
	}
	return sum, nil
}

func (r *Resolver) relative(dest string) (string, error) {
	rel, err := filepath.Rel(r.cfg.Root, dest)
	if err != nil {
		return "", fmt.Errorf("relative path for %s: %w", dest, err)
	}
	return filepath.ToSlash(rel), nil
}

func absoluteURL(raw, base string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse asset url: %w", err)
	}
	if u.Scheme == "data" {
		return nil, errors.New("inline data uri")
	}
	if !u.IsAbs() {
		if base == "" {
			return nil, errors.New("relative asset url without detail page")
		}
		b, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse detail url: %w", err)
		}
		u = b.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Fragment = ""
	return u, nil
}

// reference is the document-relative link for rel. rel is the decoded
// on-disk path, so each segment is escaped again for use inside HTML.
func reference(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "./" + strings.Join(parts, "/")
}

func withSuffix(rel, suffix string) string {
	ext := path.Ext(rel)
	return strings.TrimSuffix(rel, ext) + "_" + suffix + ext
}

func ensureDirs(folder string, tasks []archive.FetchTask) error {
	if err := os.MkdirAll(folder, 0o750); err != nil {
		return fmt.Errorf("create record folder %s: %w", folder, err)
	}
	for _, task := range tasks {
		dir := filepath.Dir(task.Dest)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create asset folder %s: %w", dir, err)
		}
	}
	return nil
}

// claimSet tracks the file and directory paths used inside one record
// folder. Keys are lower-cased so case-insensitive filesystems are safe.
type claimSet struct {
	files map[string]struct{}
	dirs  map[string]struct{}
}

func newClaimSet() *claimSet {
	return &claimSet{
		files: make(map[string]struct{}),
		dirs:  make(map[string]struct{}),
	}
}

func (c *claimSet) conflicts(rel string) bool {
	key := strings.ToLower(rel)
	if _, ok := c.files[key]; ok {
		return true
	}
	if _, ok := c.dirs[key]; ok {
		return true
	}
	for dir := path.Dir(key); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if _, ok := c.files[dir]; ok {
			return true
		}
	}
	return false
}

func (c *claimSet) claim(rel string) {
	key := strings.ToLower(rel)
	c.files[key] = struct{}{}
	for dir := path.Dir(key); dir != "." && dir != "/"; dir = path.Dir(dir) {
		c.dirs[dir] = struct{}{}
	}
}
