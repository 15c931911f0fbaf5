package fetch

import (
	"net/url"
	"strings"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

// Query parameters and file name marker of the version-aware download
// protocol.
const (
	VersionIDParam        = "version-id"
	CurrentVersionIDParam = "current-version-id"
	VersionPrefix         = "__V"
)

// Request describes one resource to obtain.
type Request struct {
	// Location is the resource URL as written in the descriptor.
	Location string
	// Version is the requested version, or empty for an unversioned
	// resource.
	Version string
	// CurrentVersion is the version already cached, if any. Servers may
	// answer a request carrying it with an incremental diff.
	CurrentVersion string
	// PreferHTTPS adds an https variant ahead of each plain http URL that
	// uses the default port.
	PreferHTTPS bool
}

// URLCandidates returns the URLs to try for req, most preferred first:
// the versioned query URL, the URL with the version in its file name, and
// the plain location. With PreferHTTPS every eligible http URL is preceded,
// as a group, by its https form. Duplicates are removed.
func URLCandidates(req Request) ([]string, error) {
	base, err := url.Parse(req.Location)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "bad location %q: %v", req.Location, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "location %q is not an absolute URL", req.Location)
	}

	var urls []*url.URL
	if req.Version != "" {
		urls = append(urls, versionedQueryURL(base, req.Version, req.CurrentVersion))
		if u := versionedFileURL(base, req.Version); u != nil {
			urls = append(urls, u)
		}
	}
	urls = append(urls, base)

	var out []string
	seen := make(map[string]bool)
	add := func(u *url.URL) {
		s := u.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if req.PreferHTTPS {
		for _, u := range urls {
			if u.Scheme == "http" && u.Port() == "" {
				secure := *u
				secure.Scheme = "https"
				add(&secure)
			}
		}
	}
	for _, u := range urls {
		add(u)
	}
	return out, nil
}

// versionedQueryURL replaces any version parameters of u with version and,
// if set, current.
func versionedQueryURL(u *url.URL, version, current string) *url.URL {
	var parts []string
	for _, p := range strings.Split(u.RawQuery, "&") {
		if strings.TrimSpace(p) == "" ||
			strings.HasPrefix(p, VersionIDParam+"=") ||
			strings.HasPrefix(p, CurrentVersionIDParam+"=") {
			continue
		}
		parts = append(parts, p)
	}
	parts = append(parts, VersionIDParam+"="+url.QueryEscape(version))
	if current != "" {
		parts = append(parts, CurrentVersionIDParam+"="+url.QueryEscape(current))
	}
	out := *u
	out.RawQuery = strings.Join(parts, "&")
	out.Fragment = ""
	return &out
}

// versionedFileURL inserts "__V<version>" before the last extension of the
// file name, so lib.jar becomes lib__V1.0.jar. It returns nil when the file
// name has no extension.
func versionedFileURL(u *url.URL, version string) *url.URL {
	dir, file, ok := cutLast(u.Path, "/")
	if !ok || file == "" {
		return nil
	}
	stem, ext, ok := cutLast(file, ".")
	if !ok {
		return nil
	}
	file = stem + VersionPrefix + version + "." + ext
	out := *u
	out.Path = dir + "/" + file
	out.RawPath = ""
	return &out
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}
