// Package configrender renders a release's items in one of the formats
// a namespace name may carry ("properties", "json", "yaml", "yml",
// "xml", "txt"). Shared by the server's GET /configfiles endpoint and
// the client's ConfigFile view, since both render the same body the
// same way, and the client's view mirrors it locally so a cache-only
// bootstrap still produces a correctly formatted ConfigFile body.
package configrender

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/configwatch/configd/pkg/model"
	"github.com/configwatch/configd/pkg/properties"
)

// Render renders items in format, returning the rendered body's
// Content-Type and bytes. json/yaml go through OrderedMap's
// order-preserving MarshalJSON; sigs.k8s.io/yaml round-trips JSON to
// produce canonical map output rather than going through gopkg.in/yaml.v3
// directly.
func Render(format string, items *model.OrderedMap) (contentType string, body []byte, err error) {
	switch format {
	case "yaml", "yml":
		js, err := json.Marshal(items)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling items to json: %w", err)
		}
		out, err := yaml.JSONToYAML(js)
		if err != nil {
			return "", nil, fmt.Errorf("converting to yaml: %w", err)
		}
		return "application/yaml; charset=utf-8", out, nil
	case "xml":
		out, err := renderXML(items)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling items to xml: %w", err)
		}
		return "application/xml; charset=utf-8", out, nil
	case "txt":
		// A namespace with no structured schema; spec treats it as a
		// single opaque blob under a well-known "content" key.
		content, _ := items.Get("content")
		return "text/plain; charset=utf-8", []byte(content), nil
	case "json":
		js, err := json.Marshal(items)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling items to json: %w", err)
		}
		return "application/json", js, nil
	default:
		return "text/plain; charset=utf-8", properties.Marshal(items), nil
	}
}

type xmlEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type xmlDocument struct {
	XMLName xml.Name   `xml:"properties"`
	Entries []xmlEntry `xml:"entry"`
}

func renderXML(items *model.OrderedMap) ([]byte, error) {
	doc := xmlDocument{}
	for _, p := range items.Pairs() {
		doc.Entries = append(doc.Entries, xmlEntry{Key: p.Key, Value: p.Value})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf strings.Builder
	buf.WriteString(xml.Header)
	buf.Write(out)
	return []byte(buf.String()), nil
}
