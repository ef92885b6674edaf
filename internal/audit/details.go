package audit

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/valyala/bytebufferpool"
)

type Details map[string]any

func serializeDetails(details Details, maxLen int) (*string, error) {
	if len(details) == 0 {
		return nil, nil
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := encodeJSON(buf, details); err != nil {
		return nil, err
	}
	out := string(buf.B)
	if maxLen > 0 && len(out) > maxLen {
		out = truncatedDetails(out, maxLen)
	}
	return &out, nil
}

func encodeJSON(buf *bytebufferpool.ByteBuffer, v any) error {
	buf.Reset()
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	buf.B = bytes.TrimRight(buf.B, "\n")
	return nil
}

// truncatedDetails replaces an oversized payload with a JSON object that keeps a prefix of it
// as a string preview and fits in maxLen bytes whenever maxLen allows the bare marker.
func truncatedDetails(raw string, maxLen int) string {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	marker := map[string]any{
		"truncated":       true,
		"original_length": len(raw),
	}
	for n := maxLen; n > 0; n /= 2 {
		marker["preview"] = truncateBytes(raw, n)
		if encodeJSON(buf, marker) == nil && buf.Len() <= maxLen {
			return string(buf.B)
		}
	}
	delete(marker, "preview")
	if err := encodeJSON(buf, marker); err != nil {
		return `{"truncated":true}`
	}
	return string(buf.B)
}

// truncateBytes cuts s to at most n bytes without splitting a multi-byte rune.
func truncateBytes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
