package jardiff

import (
	"bytes"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

func diffBytes(t *testing.T, prior, next []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	if err := Diff(reader(t, prior), reader(t, next), zip.NewWriter(&out)); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	return out.Bytes()
}

func TestDiff_ProducesMinimalDiff(t *testing.T) {
	prior := buildZip(t,
		entry{"same", "unchanged"},
		entry{"edited", "v1"},
		entry{"old name", "moved content"},
		entry{"deleted", "bye"},
	)
	next := buildZip(t,
		entry{"same", "unchanged"},
		entry{"edited", "v2"},
		entry{"new name", "moved content"},
		entry{"added", "hi"},
	)

	d := diffBytes(t, prior, next)
	got := contents(t, d)

	if _, ok := got["same"]; ok {
		t.Error("unchanged entry should not be in the diff")
	}
	if _, ok := got["new name"]; ok {
		t.Error("renamed entry should be a move, not content")
	}
	if got["edited"] != "v2" || got["added"] != "hi" {
		t.Errorf("diff contents = %v", got)
	}

	idx, err := ParseIndex(strings.NewReader(got[IndexEntry]))
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Moves) != 1 || idx.Moves[0] != (Move{Old: "old name", New: "new name"}) {
		t.Errorf("moves = %+v", idx.Moves)
	}
	if len(idx.Removed) != 1 || idx.Removed[0] != "deleted" {
		t.Errorf("removed = %+v", idx.Removed)
	}
}

func TestDiff_MergeRoundTrip(t *testing.T) {
	cases := []struct {
		name        string
		prior, next []entry
	}{
		{"identical", []entry{{"a", "1"}}, []entry{{"a", "1"}}},
		{"empty to full", nil, []entry{{"a", "1"}, {"b/", ""}, {"b/c", "2"}}},
		{"full to empty", []entry{{"a", "1"}, {"b", "2"}}, nil},
		{"swap contents", []entry{{"a", "1"}, {"b", "2"}}, []entry{{"a", "2"}, {"b", "1"}}},
		{"duplicate content", []entry{{"x", "same"}, {"y", "same"}}, []entry{{"p", "same"}, {"q", "same"}, {"r", "same"}}},
		{"dir to file", []entry{{"d/", ""}}, []entry{{"f", ""}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prior := buildZip(t, tc.prior...)
			next := buildZip(t, tc.next...)

			merged, err := mergeBytes(t, prior, diffBytes(t, prior, next))
			if err != nil {
				t.Fatalf("Merge: %v", err)
			}
			if got, want := contents(t, merged), contents(t, next); !maps.Equal(got, want) {
				t.Errorf("merge(prior, diff(prior, next)) = %v, want %v", got, want)
			}
		})
	}
}

func TestDiff_RejectsIndexInInput(t *testing.T) {
	prior := buildZip(t, entry{"a", "1"})
	next := buildZip(t, index())
	var out bytes.Buffer
	err := Diff(reader(t, prior), reader(t, next), zip.NewWriter(&out))
	if !errors.Is(err, errors.ErrFormat) {
		t.Errorf("Diff = %v, want ErrFormat", err)
	}
}

func TestDiffFiles(t *testing.T) {
	dir := t.TempDir()
	priorPath := filepath.Join(dir, "v1.jar")
	nextPath := filepath.Join(dir, "v2.jar")
	diffPath := filepath.Join(dir, "v1-v2.jardiff")
	outPath := filepath.Join(dir, "merged.jar")

	next := buildZip(t, entry{"a", "A2"}, entry{"c", "C"})
	_ = os.WriteFile(priorPath, buildZip(t, entry{"a", "A"}, entry{"b", "B"}), 0644)
	_ = os.WriteFile(nextPath, next, 0644)

	if err := DiffFiles(priorPath, nextPath, diffPath); err != nil {
		t.Fatalf("DiffFiles: %v", err)
	}
	if err := MergeFiles(priorPath, diffPath, outPath); err != nil {
		t.Fatalf("MergeFiles: %v", err)
	}
	data, _ := os.ReadFile(outPath)
	if got, want := contents(t, data), contents(t, next); !maps.Equal(got, want) {
		t.Errorf("merged = %v, want %v", got, want)
	}
}
