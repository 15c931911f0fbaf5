package fetch

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/Iron-Ham/jnlpcache/internal/errors"
)

// AcceptEncoding lists the content codings a Fetcher can decode.
const AcceptEncoding = "zstd, gzip, lz4"

// decoder returns a reader that removes the content coding named by a
// Content-Encoding header value. The returned closer releases decoder
// resources; it does not close r.
func decoder(r io.Reader, encoding string) (io.Reader, func(), error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, func() {}, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, errors.NewIOError("open gzip stream", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "zstd":
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, errors.NewIOError("open zstd stream", err)
		}
		return zr, zr.Close, nil
	case "lz4":
		return lz4.NewReader(r), func() {}, nil
	default:
		return nil, nil, errors.NewIOError("decode response",
			fmt.Errorf("unsupported content encoding %q", encoding)).WithRetryable(false)
	}
}
