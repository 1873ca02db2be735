package planner

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newsletter-archiver/internal/archive"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Weekly Note 7", "Weekly_Note_7"},
		{"illegal chars", `a\b/c*d?e:f"g<h>i|j`, "abcdefghij"},
		{"surrounding space", "  padded title  ", "padded_title"},
		{"whitespace runs", "tab\tand   spaces\nnewline", "tab_and_spaces_newline"},
		{"only punctuation", `?*:|`, ""},
		{"listing title", "Karl Pilsl: Ermutigung - KW9/2014", "Karl_Pilsl_Ermutigung_-_KW92014"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Sanitize(tc.input))
		})
	}
}

func TestFolderName(t *testing.T) {
	t.Parallel()

	name, err := FolderName(archive.Record{Date: date(2014, time.February, 10), Name: "Weekly Note 7"})
	require.NoError(t, err)
	assert.Equal(t, "2014-02-10_Weekly_Note_7", name)

	name, err = FolderName(archive.Record{Date: date(2014, time.February, 10), Name: " ?? "})
	require.NoError(t, err)
	assert.Equal(t, "2014-02-10", name)

	_, err = FolderName(archive.Record{Name: "no date"})
	assert.True(t, errors.Is(err, ErrUndatedRecord))
}

func TestFolderNameTruncatesLongTitles(t *testing.T) {
	t.Parallel()

	title := strings.Repeat("Über Änderungen ", 25)
	record := archive.Record{Date: date(2014, time.February, 10), Name: title}

	name, err := FolderName(record)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(name), MaxFolderNameBytes)
	assert.True(t, utf8.ValidString(name), name)
	assert.True(t, strings.HasPrefix(name, "2014-02-10_Über_Änderungen_"), name)
	assert.False(t, strings.HasSuffix(name, "_"), name)

	plans, skipped := New(t.TempDir()).Plan([]archive.Record{record, record})
	require.Empty(t, skipped)
	require.Len(t, plans, 2)
	assert.Equal(t, name, plans[0].FolderName)
	assert.Equal(t, name+"_2", plans[1].FolderName)
	for _, plan := range plans {
		require.NoError(t, os.MkdirAll(plan.Folder, 0o750))
	}
}

func TestPlanDeterministic(t *testing.T) {
	t.Parallel()

	records := []archive.Record{
		{Date: date(2014, time.February, 24), Name: "Weekly Note 9"},
		{Date: date(2014, time.February, 10), Name: "Weekly Note 7"},
	}
	p := New("/archive/pages")
	first, skipped := p.Plan(records)
	require.Empty(t, skipped)
	second, _ := p.Plan(records)
	require.Equal(t, first, second)
	assert.Equal(t, filepath.Join("/archive/pages", "2014-02-24_Weekly_Note_9"), first[0].Folder)
}

func TestPlanUniqueFolders(t *testing.T) {
	t.Parallel()

	d := date(2020, time.May, 1)
	records := []archive.Record{
		{Date: d, Name: ""},
		{Date: d, Name: "???"},
		{Date: d, Name: "Note"},
		{Date: d, Name: "note"},
		{Date: d, Name: "2"},
	}
	plans, skipped := New("root").Plan(records)
	require.Empty(t, skipped)
	require.Len(t, plans, len(records))

	seen := make(map[string]struct{})
	for _, plan := range plans {
		_, dup := seen[plan.FolderName]
		require.False(t, dup, "duplicate folder %s", plan.FolderName)
		seen[plan.FolderName] = struct{}{}
	}
	assert.Equal(t, "2020-05-01", plans[0].FolderName)
	assert.Equal(t, "2020-05-01_2", plans[1].FolderName)
	assert.Equal(t, "2020-05-01_Note", plans[2].FolderName)
	assert.Equal(t, "2020-05-01_note_2", plans[3].FolderName)
	assert.Equal(t, "2020-05-01_2_2", plans[4].FolderName)
}

func TestPlanSkipsUndated(t *testing.T) {
	t.Parallel()

	input := []archive.Record{
		{Name: "undated"},
		{Date: date(2021, time.January, 3), Name: "dated"},
	}
	plans, skipped := New("root").Plan(input)
	require.Len(t, plans, 1)
	require.Len(t, skipped, 1)
	assert.Equal(t, "undated", skipped[0].Record.Name)
	assert.ErrorIs(t, skipped[0].Reason, ErrUndatedRecord)
	assert.Equal(t, "undated", input[0].Name, "input must not be mutated")
}
