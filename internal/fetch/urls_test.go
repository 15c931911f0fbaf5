package fetch

import (
	"slices"
	"testing"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

func TestURLCandidates(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "unversioned",
			req:  Request{Location: "https://example.com/lib/app.jar"},
			want: []string{"https://example.com/lib/app.jar"},
		},
		{
			name: "versioned",
			req:  Request{Location: "https://example.com/lib/app.jar", Version: "1.2"},
			want: []string{
				"https://example.com/lib/app.jar?version-id=1.2",
				"https://example.com/lib/app__V1.2.jar",
				"https://example.com/lib/app.jar",
			},
		},
		{
			name: "current version and existing query",
			req: Request{
				Location:       "https://example.com/app.jar?lang=en&version-id=0.9",
				Version:        "1.0",
				CurrentVersion: "0.9",
			},
			want: []string{
				"https://example.com/app.jar?lang=en&version-id=1.0&current-version-id=0.9",
				"https://example.com/app__V1.0.jar?lang=en&version-id=0.9",
				"https://example.com/app.jar?lang=en&version-id=0.9",
			},
		},
		{
			name: "version with spaces is escaped",
			req:  Request{Location: "https://example.com/a.jar", Version: "1.0 2.0+"},
			want: []string{
				"https://example.com/a.jar?version-id=1.0+2.0%2B",
				"https://example.com/a__V1.0%202.0+.jar",
				"https://example.com/a.jar",
			},
		},
		{
			name: "multiple dots use the last extension",
			req:  Request{Location: "https://example.com/x.tar.gz", Version: "3"},
			want: []string{
				"https://example.com/x.tar.gz?version-id=3",
				"https://example.com/x.tar__V3.gz",
				"https://example.com/x.tar.gz",
			},
		},
		{
			name: "no extension has no file name variant",
			req:  Request{Location: "https://example.com/download", Version: "3"},
			want: []string{
				"https://example.com/download?version-id=3",
				"https://example.com/download",
			},
		},
		{
			name: "https upgrade groups first",
			req:  Request{Location: "http://example.com/app.jar", Version: "1", PreferHTTPS: true},
			want: []string{
				"https://example.com/app.jar?version-id=1",
				"https://example.com/app__V1.jar",
				"https://example.com/app.jar",
				"http://example.com/app.jar?version-id=1",
				"http://example.com/app__V1.jar",
				"http://example.com/app.jar",
			},
		},
		{
			name: "explicit port is not upgraded",
			req:  Request{Location: "http://example.com:8080/app.jar", PreferHTTPS: true},
			want: []string{"http://example.com:8080/app.jar"},
		},
		{
			name: "https location is not duplicated",
			req:  Request{Location: "https://example.com/app.jar", PreferHTTPS: true},
			want: []string{"https://example.com/app.jar"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := URLCandidates(tt.req)
			if err != nil {
				t.Fatalf("URLCandidates: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("URLCandidates =\n  %q\nwant\n  %q", got, tt.want)
			}
		})
	}
}

func TestURLCandidates_InvalidLocation(t *testing.T) {
	for _, loc := range []string{"", "app.jar", "://bad", "/abs/path.jar"} {
		if _, err := URLCandidates(Request{Location: loc}); !errors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("URLCandidates(%q) = %v, want ErrInvalidInput", loc, err)
		}
	}
}
