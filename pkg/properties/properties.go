// Package properties implements the Java-.properties-flavored line format
// used both for the server's GET /configfiles/{appId}/{cluster}/{namespace}
// rendering and for the client's on-disk LocalCacheStore snapshot:
// key=value lines, escaping for '=', '\n', '\r', '\\', and leading
// whitespace. Marshal keeps server insertion order; the cache-file form
// written by MarshalWithHeader is sorted by key.
//
// Marshal renders directly into a byte buffer by hand, field by field,
// rather than leaning on a generic map marshaler, so order is
// guaranteed.
package properties

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/configwatch/configd/pkg/model"
)

// Marshal renders items as ordered "key=value\n" lines with standard
// properties escaping, in items' own (insertion) order. It does not
// write the releaseKey/notificationId header lines — callers needing
// those (the local cache file format) use MarshalWithHeader, which
// writes key-sorted order instead.
func Marshal(items *model.OrderedMap) []byte {
	return marshalPairs(items.Pairs())
}

func marshalPairs(pairs []model.Pair) []byte {
	var buf strings.Builder
	for _, p := range pairs {
		buf.WriteString(escapeKey(p.Key))
		buf.WriteByte('=')
		buf.WriteString(escapeValue(p.Value))
		buf.WriteByte('\n')
	}
	return []byte(buf.String())
}

// MarshalWithHeader renders the local-cache-file format: a
// "#releaseKey=<key>\n#notificationId=<int>\n" header followed by
// properties lines sorted by key, independent of the server's
// insertion order.
func MarshalWithHeader(releaseKey string, notificationID int64, items *model.OrderedMap) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "#releaseKey=%s\n", releaseKey)
	fmt.Fprintf(&buf, "#notificationId=%d\n", notificationID)

	pairs := items.Pairs()
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	buf.Write(marshalPairs(pairs))
	return []byte(buf.String())
}

// ParsedFile is the result of parsing a local-cache-file-formatted
// document: the header fields plus the ordered items.
type ParsedFile struct {
	ReleaseKey     string
	NotificationID int64
	Items          *model.OrderedMap
}

// Parse reads the local-cache-file format produced by MarshalWithHeader,
// tolerating a missing header (plain properties body) by leaving
// ReleaseKey empty and NotificationID at -1.
func Parse(r io.Reader) (*ParsedFile, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	result := &ParsedFile{NotificationID: -1, Items: model.NewOrderedMap()}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#releaseKey=") {
			result.ReleaseKey = strings.TrimPrefix(line, "#releaseKey=")
			continue
		}
		if strings.HasPrefix(line, "#notificationId=") {
			raw := strings.TrimPrefix(line, "#notificationId=")
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing notificationId header: %w", err)
			}
			result.NotificationID = id
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := splitUnescapedEquals(line)
		if !ok {
			continue
		}
		result.Items.Set(unescape(key), unescape(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning properties document: %w", err)
	}
	return result, nil
}

// splitUnescapedEquals splits "key=value" at the first unescaped '='.
func splitUnescapedEquals(line string) (key, value string, ok bool) {
	escaped := false
	for i, r := range line {
		if escaped {
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		if r == '=' {
			return line[:i], line[i+1:], true
		}
	}
	return "", "", false
}

// escapeKey escapes a key: standard escapes plus leading whitespace.
func escapeKey(key string) string {
	escaped := escapeValue(key)
	return escapeLeadingWhitespace(escaped)
}

// escapeValue escapes '=', '\n', '\r', and '\\' in a value.
func escapeValue(value string) string {
	var buf strings.Builder
	buf.Grow(len(value))
	for _, r := range value {
		switch r {
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '=':
			buf.WriteString(`\=`)
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

// escapeLeadingWhitespace escapes any run of leading spaces/tabs so they
// survive round-tripping through a properties parser that trims
// unescaped leading whitespace.
func escapeLeadingWhitespace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i == 0 {
		return s
	}
	var buf strings.Builder
	for j := 0; j < i; j++ {
		buf.WriteByte('\\')
		buf.WriteByte(s[j])
	}
	buf.WriteString(s[i:])
	return buf.String()
}

// unescape reverses escapeValue/escapeLeadingWhitespace.
func unescape(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			switch c {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case '\\':
				buf.WriteByte('\\')
			case '=':
				buf.WriteByte('=')
			case ' ', '\t':
				buf.WriteByte(c)
			default:
				buf.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		buf.WriteByte(c)
	}
	return buf.String()
}
