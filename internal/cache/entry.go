package cache

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

// Key identifies a cached resource by its location and optional version.
type Key struct {
	Location string
	Version  string
}

// String returns "location" or "location@version".
func (k Key) String() string {
	if k.Version == "" {
		return k.Location
	}
	return k.Location + "@" + k.Version
}

// Entry is one record of the cache index.
type Entry struct {
	// ID is the entry directory relative to the cache root, "i/j".
	ID           string
	Location     string
	Version      string
	LastAccessed time.Time
	// Deleted marks an entry whose files may still exist but must no
	// longer be served. Clean removes it.
	Deleted bool
}

// Key returns the key the entry was stored under.
func (e Entry) Key() Key {
	return Key{Location: e.Location, Version: e.Version}
}

func (e Entry) matches(k Key) bool {
	return !e.Deleted && e.Location == k.Location && e.Version == k.Version
}

const entryFields = 5

// entryCodec stores an Entry as one tab-separated line:
//
//	id	location	version	lastAccessedMillis	deleted
type entryCodec struct{}

func (entryCodec) Encode(e Entry) (string, error) {
	for _, f := range []string{e.ID, e.Location, e.Version} {
		if strings.ContainsAny(f, "\t\r\n") {
			return "", errors.NewFormatError(fmt.Sprintf("index field %q contains a tab or line break", f))
		}
	}
	if e.ID == "" || e.Location == "" {
		return "", errors.NewFormatError("index entry needs an id and a location")
	}
	deleted := "0"
	if e.Deleted {
		deleted = "1"
	}
	return strings.Join([]string{
		e.ID,
		e.Location,
		e.Version,
		strconv.FormatInt(e.LastAccessed.UnixMilli(), 10),
		deleted,
	}, "\t"), nil
}

func (entryCodec) Decode(line string) (Entry, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != entryFields {
		return Entry{}, errors.NewFormatError(fmt.Sprintf("index line has %d fields, want %d", len(fields), entryFields))
	}
	if _, _, err := parseID(fields[0]); err != nil {
		return Entry{}, err
	}
	if fields[1] == "" {
		return Entry{}, errors.NewFormatError("index line has an empty location")
	}
	ms, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Entry{}, errors.NewFormatError("bad last-accessed time").WithCause(err)
	}
	var deleted bool
	switch fields[4] {
	case "0":
	case "1":
		deleted = true
	default:
		return Entry{}, errors.NewFormatError(fmt.Sprintf("bad deleted flag %q", fields[4]))
	}
	return Entry{
		ID:           fields[0],
		Location:     fields[1],
		Version:      fields[2],
		LastAccessed: time.UnixMilli(ms),
		Deleted:      deleted,
	}, nil
}

// parseID splits "i/j" and checks both parts are within the directory fan-out.
func parseID(id string) (int, int, error) {
	a, b, ok := strings.Cut(id, "/")
	if !ok {
		return 0, 0, errors.NewFormatError(fmt.Sprintf("bad entry id %q", id))
	}
	i, err1 := strconv.Atoi(a)
	j, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil || i < 0 || j < 0 || i >= fanOut || j >= fanOut {
		return 0, 0, errors.NewFormatError(fmt.Sprintf("bad entry id %q", id))
	}
	return i, j, nil
}

func formatID(i, j int) string {
	return strconv.Itoa(i) + "/" + strconv.Itoa(j)
}
