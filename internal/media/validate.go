package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	_ "golang.org/x/image/webp" // register decoder

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

var (
	errTooSmall     = errors.New("payload below minimum size")
	errKindMismatch = errors.New("content does not match the referenced media kind")
)

// decodable lists the sniffed types that must also decode.
var decodable = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

var extensions = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/svg+xml":   ".svg",
	"image/bmp":       ".bmp",
	"image/x-icon":    ".ico",
	"image/avif":      ".avif",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/avi":       ".avi",
	"audio/mpeg":      ".mp3",
	"audio/wave":      ".wav",
	"audio/aiff":      ".aiff",
	"audio/mp4":       ".m4a",
	"application/ogg": ".ogg",
}

// Validate checks that body is a plausible asset of kind and returns the
// content type to store it under. declared is the transport Content-Type and
// is used only when sniffing is inconclusive.
func Validate(body []byte, kind clipper.AssetKind, declared string, minBytes int) (string, error) {
	if len(body) < minBytes {
		return "", fmt.Errorf("%w: %d bytes", errTooSmall, len(body))
	}

	sniffed := http.DetectContentType(body)
	if kind == clipper.AssetImage && isSVG(body) {
		return "image/svg+xml", nil
	}
	ct := mediaType(sniffed)
	if ct == "application/octet-stream" || ct == "text/plain" {
		if d := mediaType(declared); matchesKind(d, kind) {
			ct = d
		}
	}
	if !matchesKind(ct, kind) {
		return "", fmt.Errorf("%w: %s sniffed as %s", errKindMismatch, kind, sniffed)
	}
	if decodable[ct] {
		if _, _, err := image.DecodeConfig(bytes.NewReader(body)); err != nil {
			return "", fmt.Errorf("decode %s: %w", ct, err)
		}
	}
	return ct, nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func matchesKind(ct string, kind clipper.AssetKind) bool {
	switch kind {
	case clipper.AssetImage:
		return strings.HasPrefix(ct, "image/")
	case clipper.AssetVideo:
		return strings.HasPrefix(ct, "video/") || ct == "application/ogg"
	case clipper.AssetAudio:
		return strings.HasPrefix(ct, "audio/") || ct == "application/ogg"
	default:
		return false
	}
}

func isSVG(body []byte) bool {
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	head = bytes.ToLower(bytes.TrimSpace(head))
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	return bytes.Contains(head, []byte("<svg"))
}

// LocalID derives the stable asset ID: the first 16 hex characters of the
// content digest plus an extension taken from the content type, or from the
// locator path when the type is unknown.
func LocalID(digest, contentType, locator string) string {
	id := digest
	if len(id) > 16 {
		id = id[:16]
	}
	return id + extension(contentType, locator)
}

func extension(contentType, locator string) string {
	if ext, ok := extensions[mediaType(contentType)]; ok {
		return ext
	}
	if u, err := url.Parse(locator); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if len(ext) > 1 && len(ext) <= 6 {
			return ext
		}
	}
	return ".bin"
}
