package rewriter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
)

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o750))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}

func readDoc(t *testing.T, root, rel string) string {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func record(doc string, pairs ...string) archive.ProcessedRecord {
	rec := archive.ProcessedRecord{
		Name:         "Weekly Note 7",
		DocumentPath: doc,
		Assets:       make(map[string]string),
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.AssetOrder = append(rec.AssetOrder, pairs[i])
		rec.Assets[pairs[i]] = pairs[i+1]
	}
	return rec
}

func TestRewriteReplacesEveryOccurrence(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	doc := "pages/2014-02-10_Weekly_Note_7/entry.html"
	writeDoc(t, root, doc, `<img src="https://cdn.example.com/tmpl/img_01.png">`+
		`<a href="https://cdn.example.com/tmpl/img_01.png">x</a>`+
		`<img src="https://cdn.example.com/logo.gif">`)

	rec := record(doc,
		"https://cdn.example.com/tmpl/img_01.png", "./tmpl/img_01.png",
		"https://cdn.example.com/logo.gif", "./logo.gif",
	)
	res := New(root, zap.NewNop()).Rewrite(rec)

	require.NoError(t, res.Err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, res.Replaced)
	out := readDoc(t, root, doc)
	assert.NotContains(t, out, "https://cdn.example.com")
	assert.Equal(t, 2, strings.Count(out, `"./tmpl/img_01.png"`))
	assert.Contains(t, out, `src="./logo.gif"`)
}

func TestRewritePrefersLongestURL(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	doc := "pages/a/entry.html"
	writeDoc(t, root, doc, `<img src="https://x.test/img.png"><img src="https://x.test/img.png?v=2">`)

	rec := record(doc,
		"https://x.test/img.png", "./img.png",
		"https://x.test/img.png?v=2", "./img_abcd1234.png",
	)
	res := New(root, nil).Rewrite(rec)

	require.NoError(t, res.Err)
	assert.Equal(t, `<img src="./img.png"><img src="./img_abcd1234.png">`, readDoc(t, root, doc))
}

func TestRewriteHandlesEscapedAmpersands(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	doc := "pages/a/entry.html"
	writeDoc(t, root, doc, `<img src="https://x.test/p.png?a=1&amp;b=2">`)

	rec := record(doc, "https://x.test/p.png?a=1&b=2", "./p_0011aabb.png")
	res := New(root, nil).Rewrite(rec)

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Replaced)
	assert.Equal(t, `<img src="./p_0011aabb.png">`, readDoc(t, root, doc))
}

func TestRewriteSkipsMissingDocument(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	rw := New(root, nil)

	res := rw.Rewrite(record("pages/gone/entry.html", "https://x.test/a.png", "./a.png"))
	require.NoError(t, res.Err)
	assert.True(t, res.Skipped)

	res = rw.Rewrite(record(""))
	require.NoError(t, res.Err)
	assert.True(t, res.Skipped)
}

func TestRewriteAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	// A directory where the document should be makes the read fail.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pages", "bad", "entry.html"), 0o750))
	writeDoc(t, root, "pages/good/entry.html", `<img src="https://x.test/a.png">`)

	results := New(root, nil).RewriteAll([]archive.ProcessedRecord{
		record("pages/bad/entry.html", "https://x.test/a.png", "./a.png"),
		record("pages/good/entry.html", "https://x.test/a.png", "./a.png"),
	})

	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	assert.Equal(t, `<img src="./a.png">`, readDoc(t, root, "pages/good/entry.html"))
}

func TestRewriteLeavesUnreferencedDocumentUntouched(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	doc := "pages/a/entry.html"
	writeDoc(t, root, doc, "<p>no images</p>")
	before, err := os.Stat(filepath.Join(root, doc))
	require.NoError(t, err)

	res := New(root, nil).Rewrite(record(doc, "https://x.test/a.png", "./a.png"))
	require.NoError(t, res.Err)
	assert.Zero(t, res.Replaced)

	after, err := os.Stat(filepath.Join(root, doc))
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}
