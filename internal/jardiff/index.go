package jardiff

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

const (
	// IndexEntry is the reserved entry of a diff archive holding the index.
	IndexEntry = "META-INF/INDEX.JD"
	// Version is the required first line of the index.
	Version = "version 1.0"

	removeKeyword = "remove"
	moveKeyword   = "move"
)

// Move renames an entry of the prior archive.
type Move struct {
	Old string
	New string
}

// Index lists the directives of a diff archive.
type Index struct {
	Removed []string
	Moves   []Move
}

// ParseIndex reads an index. The first line must be Version. Each following
// non-blank line is "remove <path>" or "move <old> <new>", where a space
// inside a path is written as "\ ".
func ParseIndex(r io.Reader) (*Index, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, errors.NewIOError("read index", err).WithPath(IndexEntry)
		}
		return nil, errors.NewFormatError("index is empty").WithSource(IndexEntry)
	}
	if first := strings.TrimRight(sc.Text(), "\r"); first != Version {
		return nil, errors.NewFormatError(fmt.Sprintf("unsupported index version %q", first)).
			WithSource(IndexEntry).WithLine(1)
	}

	idx := &Index{}
	for lineNo := 2; sc.Scan(); lineNo++ {
		// Trailing blanks are left to splitPaths, which keeps an escaped one.
		line := strings.TrimLeft(strings.TrimRight(sc.Text(), "\r"), " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		keyword, rest, _ := strings.Cut(line, " ")
		paths := splitPaths(rest)

		switch keyword {
		case removeKeyword:
			if len(paths) != 1 {
				return nil, directiveError(line, lineNo, "remove takes one path")
			}
			idx.Removed = append(idx.Removed, paths[0])
		case moveKeyword:
			if len(paths) != 2 {
				return nil, directiveError(line, lineNo, "move takes two paths")
			}
			idx.Moves = append(idx.Moves, Move{Old: paths[0], New: paths[1]})
		default:
			return nil, directiveError(line, lineNo, fmt.Sprintf("unknown directive %q", keyword))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.NewIOError("read index", err).WithPath(IndexEntry)
	}
	return idx, nil
}

func directiveError(line string, lineNo int, msg string) error {
	return errors.NewFormatError(fmt.Sprintf("%s: %q", msg, line)).WithSource(IndexEntry).WithLine(lineNo)
}

// Write renders the index in the format read by ParseIndex.
func (idx *Index) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, Version)
	for _, p := range idx.Removed {
		fmt.Fprintf(bw, "%s %s\n", removeKeyword, escapePath(p))
	}
	for _, m := range idx.Moves {
		fmt.Fprintf(bw, "%s %s %s\n", moveKeyword, escapePath(m.Old), escapePath(m.New))
	}
	return bw.Flush()
}

// splitPaths splits s on unescaped whitespace and unescapes "\ " to a space.
// A backslash before any other character is kept literally.
func splitPaths(s string) []string {
	var (
		paths []string
		cur   strings.Builder
		has   bool
	)
	flush := func() {
		if has {
			paths = append(paths, cur.String())
			cur.Reset()
			has = false
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == ' ':
			cur.WriteByte(' ')
			has = true
			i++
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
			has = true
		}
	}
	flush()
	return paths
}

func escapePath(p string) string {
	return strings.ReplaceAll(p, " ", `\ `)
}
