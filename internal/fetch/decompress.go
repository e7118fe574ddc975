package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// maxDecodedBytes caps decompressed output.
const maxDecodedBytes = 64 << 20

// Decompress undoes the declared Content-Encoding. Stacked encodings are
// removed right to left. On failure the original bytes are returned together
// with the error so the caller can carry on with them.
func Decompress(body []byte, contentEncoding string) ([]byte, string, error) {
	schemes := parseEncodings(contentEncoding)
	if len(schemes) == 0 {
		return body, "identity", nil
	}

	out := body
	for i := len(schemes) - 1; i >= 0; i-- {
		decoded, err := decompressOne(out, schemes[i])
		if err != nil {
			return body, strings.Join(schemes, ", "), fmt.Errorf("decode %s: %w", schemes[i], err)
		}
		out = decoded
	}
	return out, strings.Join(schemes, ", "), nil
}

func parseEncodings(header string) []string {
	var schemes []string
	for _, part := range strings.Split(header, ",") {
		scheme := strings.ToLower(strings.TrimSpace(part))
		switch scheme {
		case "", "identity":
			continue
		case "x-gzip":
			scheme = "gzip"
		}
		schemes = append(schemes, scheme)
	}
	return schemes
}

func decompressOne(body []byte, scheme string) ([]byte, error) {
	switch scheme {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		return readCapped(zr)
	case "deflate":
		// Servers send both zlib-wrapped and raw deflate under this name.
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			out, readErr := readCapped(zr)
			closeErr := zr.Close()
			if readErr == nil && closeErr == nil {
				return out, nil
			}
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return readCapped(fr)
	case "br":
		return readCapped(brotli.NewReader(bytes.NewReader(body)))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", scheme)
	}
}

func readCapped(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxDecodedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read decompressed body: %w", err)
	}
	if len(out) > maxDecodedBytes {
		return nil, fmt.Errorf("decompressed body exceeds %d bytes", maxDecodedBytes)
	}
	return out, nil
}
