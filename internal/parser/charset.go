package parser

import (
	"log/slog"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// decodeText converts text content in the declared charset to a UTF-8
// string. Unknown or undecodable charsets keep the raw bytes.
func decodeText(content []byte, charset string) string {
	charset = strings.ToLower(strings.TrimSpace(charset))
	switch charset {
	case "", "utf-8", "utf8", "us-ascii":
		return string(content)
	}

	enc, err := ianaindex.IANA.Encoding(charset)
	if err != nil || enc == nil {
		slog.Debug("unsupported charset, using raw bytes", "charset", charset)
		return string(content)
	}

	decoded, _, err := transform.Bytes(enc.NewDecoder(), content)
	if err != nil {
		slog.Debug("charset decoding failed, using raw bytes",
			"charset", charset,
			"error", err,
		)
		return string(content)
	}
	return string(decoded)
}
