package feed

import (
	"bytes"

	"github.com/gabriel-vasile/mimetype"
)

// Sniffed is the coarse content class of a response body.
type Sniffed int

const (
	SniffUnknown Sniffed = iota
	SniffHTML
	SniffXML
	SniffJSON
)

func (s Sniffed) String() string {
	switch s {
	case SniffHTML:
		return "html"
	case SniffXML:
		return "xml"
	case SniffJSON:
		return "json"
	default:
		return "unknown"
	}
}

const sniffLength = 512

var utf8BOM = []byte("\xef\xbb\xbf")

// Sniff classifies a payload from its first bytes only.
func Sniff(data []byte) Sniffed {
	head := data[:min(len(data), sniffLength)]
	head = bytes.TrimPrefix(bytes.TrimSpace(head), utf8BOM)
	head = bytes.TrimSpace(head)
	if len(head) == 0 {
		return SniffUnknown
	}

	lower := bytes.ToLower(head)
	if name, htmlDoctype := leadingElement(lower); htmlDoctype || name == "html" {
		return SniffHTML
	}

	switch head[0] {
	case '{', '[':
		return SniffJSON
	case '<':
		if bytes.HasPrefix(lower, []byte("<?xml")) {
			return SniffXML
		}
		if mimetype.Detect(head).Is("text/html") {
			return SniffHTML
		}
		return SniffXML
	}

	if mimetype.Detect(head).Is("text/html") {
		return SniffHTML
	}
	return SniffUnknown
}

// leadingElement returns the name of the first element of a lower-cased
// document head, skipping the prolog. Markup inside the document, such as
// HTML in a CDATA description, is never looked at.
func leadingElement(lower []byte) (string, bool) {
	rest := lower
	for {
		rest = bytes.TrimSpace(rest)
		switch {
		case bytes.HasPrefix(rest, []byte("<?")):
			rest = skipPast(rest, "?>")
		case bytes.HasPrefix(rest, []byte("<!--")):
			rest = skipPast(rest, "-->")
		case bytes.HasPrefix(rest, []byte("<!doctype")):
			end := bytes.IndexByte(rest, '>')
			if end < 0 {
				end = len(rest)
			}
			if bytes.Contains(rest[:end], []byte("html")) {
				return "", true
			}
			rest = skipPast(rest, ">")
		case bytes.HasPrefix(rest, []byte("<")):
			name := rest[1:]
			if end := bytes.IndexAny(name, " \t\r\n/>"); end >= 0 {
				name = name[:end]
			}
			return string(name), false
		default:
			return "", false
		}
		if rest == nil {
			return "", false
		}
	}
}

func skipPast(b []byte, marker string) []byte {
	i := bytes.Index(b, []byte(marker))
	if i < 0 {
		return nil
	}
	return b[i+len(marker):]
}
