package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

func TestEntryCodec_RoundTrip(t *testing.T) {
	e := Entry{
		ID:           "3/41",
		Location:     "https://example.com/app/lib.jar?x=1",
		Version:      "1.2+",
		LastAccessed: time.UnixMilli(1700000000123),
		Deleted:      true,
	}
	line, err := entryCodec{}.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := "3/41\thttps://example.com/app/lib.jar?x=1\t1.2+\t1700000000123\t1"
	if line != want {
		t.Errorf("line = %q, want %q", line, want)
	}
	got, err := entryCodec{}.Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != e.ID || got.Location != e.Location || got.Version != e.Version ||
		!got.LastAccessed.Equal(e.LastAccessed) || got.Deleted != e.Deleted {
		t.Errorf("decoded %+v, want %+v", got, e)
	}
}

func TestEntryCodec_EncodeRejects(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{"tab in location", Entry{ID: "0/0", Location: "a\tb"}},
		{"newline in version", Entry{ID: "0/0", Location: "a", Version: "1\n2"}},
		{"no id", Entry{Location: "a"}},
		{"no location", Entry{ID: "0/0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := (entryCodec{}).Encode(tt.entry); !errors.Is(err, errors.ErrFormat) {
				t.Errorf("Encode = %v, want ErrFormat", err)
			}
		})
	}
}

func TestEntryCodec_DecodeRejects(t *testing.T) {
	tests := []string{
		"",
		"0/0\thttp://x\t\t1",
		"0/0\thttp://x\t\t1\t0\textra",
		"0\thttp://x\t\t1\t0",
		"250/0\thttp://x\t\t1\t0",
		"0/-1\thttp://x\t\t1\t0",
		"0/0\t\t\t1\t0",
		"0/0\thttp://x\t\tsoon\t0",
		"0/0\thttp://x\t\t1\tyes",
	}
	for _, line := range tests {
		if _, err := (entryCodec{}).Decode(line); !errors.Is(err, errors.ErrFormat) {
			t.Errorf("Decode(%q) = %v, want ErrFormat", line, err)
		}
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"https://example.com/apps/launcher.jar", "launcher.jar"},
		{"https://example.com/apps/launcher.jar?version-id=1.0", "launcher.jar"},
		{"https://example.com/", defaultFileName},
		{"https://example.com", defaultFileName},
		{"https://example.com/.hidden", "_.hidden"},
		{"https://example.com/a%20b.jar", "a b.jar"},
		{"lib/plain.jar", "plain.jar"},
	}
	for _, tt := range tests {
		if got := FileName(tt.location); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.location, got, tt.want)
		}
	}
}

func TestInfo_MarshalDeterministic(t *testing.T) {
	info := Info{
		DownloadedAt: time.UnixMilli(1700000000000),
		LastModified: time.UnixMilli(1690000000000),
		Size:         42,
		Digest:       []byte{1, 2, 3},
		ContentType:  "application/java-archive",
	}
	a, err := marshalInfo(info)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := marshalInfo(info)
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}

	got, err := unmarshalInfo(a)
	if err != nil {
		t.Fatal(err)
	}
	if !got.DownloadedAt.Equal(info.DownloadedAt) || !got.LastModified.Equal(info.LastModified) ||
		got.Size != info.Size || !bytes.Equal(got.Digest, info.Digest) || got.ContentType != info.ContentType {
		t.Errorf("decoded %+v, want %+v", got, info)
	}
}

func TestInfo_ZeroLastModified(t *testing.T) {
	data, err := marshalInfo(Info{Size: 1})
	if err != nil {
		t.Fatal(err)
	}
	got, err := unmarshalInfo(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastModified.IsZero() || !got.DownloadedAt.IsZero() {
		t.Errorf("zero times did not survive: %+v", got)
	}
}

func TestInfo_IsCurrent(t *testing.T) {
	stored := time.UnixMilli(2000)
	info := Info{LastModified: stored}
	tests := []struct {
		name   string
		remote time.Time
		want   bool
	}{
		{"same", stored, true},
		{"older remote", time.UnixMilli(1000), true},
		{"newer remote", time.UnixMilli(3000), false},
		{"unknown remote", time.Time{}, false},
	}
	for _, tt := range tests {
		if got := info.IsCurrent(tt.remote); got != tt.want {
			t.Errorf("%s: IsCurrent = %v, want %v", tt.name, got, tt.want)
		}
	}
	if (Info{}).IsCurrent(stored) {
		t.Error("an entry without Last-Modified must not be current")
	}
}
