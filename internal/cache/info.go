package cache

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

// InfoFile is the name of the metadata file inside every entry directory.
const InfoFile = ".info"

// Info describes the cached content of one entry.
type Info struct {
	DownloadedAt time.Time
	LastModified time.Time
	Size         int64
	// Digest is the BLAKE3-256 sum of the content. Publish fills it in.
	Digest      []byte
	ContentType string
}

// DigestHex returns the digest as lowercase hex.
func (i Info) DigestHex() string {
	return hex.EncodeToString(i.Digest)
}

// IsCurrent reports whether the content is at least as new as lastModified.
// A zero lastModified on either side means freshness cannot be judged.
func (i Info) IsCurrent(lastModified time.Time) bool {
	if i.LastModified.IsZero() || lastModified.IsZero() {
		return false
	}
	return !lastModified.After(i.LastModified)
}

// infoRecord is the on-disk form of Info. Times are Unix milliseconds.
type infoRecord struct {
	DownloadedAt int64  `cbor:"1,keyasint"`
	LastModified int64  `cbor:"2,keyasint,omitempty"`
	Size         int64  `cbor:"3,keyasint"`
	Digest       []byte `cbor:"4,keyasint"`
	ContentType  string `cbor:"5,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func marshalInfo(info Info) ([]byte, error) {
	return encMode.Marshal(infoRecord{
		DownloadedAt: millis(info.DownloadedAt),
		LastModified: millis(info.LastModified),
		Size:         info.Size,
		Digest:       info.Digest,
		ContentType:  info.ContentType,
	})
}

func unmarshalInfo(data []byte) (Info, error) {
	var rec infoRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return Info{}, err
	}
	return Info{
		DownloadedAt: fromMillis(rec.DownloadedAt),
		LastModified: fromMillis(rec.LastModified),
		Size:         rec.Size,
		Digest:       rec.Digest,
		ContentType:  rec.ContentType,
	}, nil
}

// readInfo loads the metadata file of the entry directory dir.
func readInfo(dir string) (Info, error) {
	path := filepath.Join(dir, InfoFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, errors.NewIOError("read entry info", err).WithPath(path)
	}
	info, err := unmarshalInfo(data)
	if err != nil {
		return Info{}, errors.NewFormatError("decode entry info").WithSource(path).WithCause(err)
	}
	return info, nil
}

// writeInfo replaces the metadata file of dir by write-then-rename.
func writeInfo(dir string, info Info) error {
	data, err := marshalInfo(info)
	if err != nil {
		return errors.NewIOError("encode entry info", err)
	}
	path := filepath.Join(dir, InfoFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.NewIOError("write entry info", err).WithPath(tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewIOError("publish entry info", err).WithPath(path)
	}
	return nil
}
