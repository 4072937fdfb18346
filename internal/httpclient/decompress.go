package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// maxBodySize caps how much of a unary response body is read. Streaming
// bodies are never routed through here.
const maxBodySize = 8 * 1024 * 1024

// ReadBody reads and, when Content-Encoding demands it, decompresses a
// unary response body. gzip, deflate and brotli are handled; anything else
// is returned as-is.
func ReadBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return raw, nil
	}

	encoding := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Encoding"), ",")[0])
	var reader io.Reader
	switch strings.ToLower(encoding) {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return raw, nil
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()
		reader = fr
	case "br":
		reader = brotli.NewReader(bytes.NewReader(raw))
	default:
		return raw, nil
	}

	decoded, err := io.ReadAll(io.LimitReader(reader, maxBodySize))
	if err != nil {
		// Corrupt encoding; the raw bytes are still the best evidence.
		return raw, nil
	}
	return decoded, nil
}
