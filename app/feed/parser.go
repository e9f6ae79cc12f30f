package feed

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	jsonfeed "github.com/mmcdole/gofeed/json"
	"github.com/mmcdole/gofeed/rss"
	"golang.org/x/net/html/charset"
)

var (
	errUnrecognizedFormat = errors.New("payload is neither an XML feed nor JSON")
	errNotAFeed           = errors.New("XML document has no feed root and no item or entry elements")
)

// feedRoots are the root element names of RSS 0.9x/1.0/2.0 and Atom documents.
var feedRoots = map[string]bool{"rss": true, "rdf": true, "feed": true}

// ParseFailure reports a structurally invalid payload.
type ParseFailure struct {
	Kind Kind
	Err  error
}

func (f *ParseFailure) Error() string {
	return fmt.Sprintf("failed to parse %s payload: %v", f.Kind, f.Err)
}

func (f *ParseFailure) Unwrap() error {
	return f.Err
}

// jsonField maps one logical candidate field to its aliases, highest
// priority first.
type jsonField struct {
	keys []string
	set  func(c *Candidate, value string)
}

var jsonFields = []jsonField{
	{
		keys: []string{"title", "titulo", "name", "nombre", "asunto"},
		set:  func(c *Candidate, v string) { c.Title = strings.TrimSpace(v) },
	},
	{
		keys: []string{"link", "url", "enlace", "uri", "href"},
		set:  func(c *Candidate, v string) { c.Link = strings.TrimSpace(v) },
	},
	{
		keys: []string{"description", "descripcion", "detalle", "summary", "resumen"},
		set:  func(c *Candidate, v string) { c.Summary = StripHTML(v) },
	},
	{
		keys: []string{"published_at", "fecha", "publication_date", "pubDate", "date", "fecha_publicacion"},
		set:  func(c *Candidate, v string) { c.PublishedRaw = strings.TrimSpace(v) },
	},
}

// jsonWrappers are the wrapper shapes used by open-data portals (Socrata,
// CKAN and friends), tried before scanning every top-level value.
var jsonWrappers = [][]string{
	{"data"},
	{"result", "records"},
	{"results"},
	{"items"},
	{"records"},
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// DetectKind classifies a payload. XML documents that are not Atom are
// reported as RSS since both go through the same XML path.
func DetectKind(data []byte) Kind {
	switch Sniff(data) {
	case SniffJSON:
		return KindJSON
	case SniffXML:
		if gofeed.DetectFeedType(bytes.NewReader(data)) == gofeed.FeedTypeAtom {
			return KindAtom
		}
		return KindRSS
	default:
		return KindUnknown
	}
}

// Run extracts candidates in feed order. A declared kind pins the shape;
// RSS and ATOM declarations share the XML path because sources mislabel them.
func (p *Parser) Run(data []byte, declared Kind) ([]Candidate, error) {
	kind := declared
	if kind == KindUnknown {
		kind = DetectKind(data)
	}

	switch kind {
	case KindRSS, KindAtom:
		return p.parseXML(data, kind)
	case KindJSON:
		return p.parseJSON(data)
	default:
		return nil, &ParseFailure{Kind: kind, Err: errUnrecognizedFormat}
	}
}

func (p *Parser) parseXML(data []byte, kind Kind) ([]Candidate, error) {
	if err := checkFeedXML(data); err != nil {
		return nil, &ParseFailure{Kind: kind, Err: err}
	}

	if candidates := p.parseRSS(data); len(candidates) > 0 {
		return candidates, nil
	}
	if candidates := p.parseAtom(data); len(candidates) > 0 {
		return candidates, nil
	}

	items, entries, err := scanXML(data)
	if err != nil {
		return nil, &ParseFailure{Kind: kind, Err: err}
	}
	if len(items) > 0 {
		return items, nil
	}
	return entries, nil
}

func (p *Parser) parseRSS(data []byte) []Candidate {
	parser := rss.Parser{}
	feed, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:        strings.TrimSpace(item.Title),
			Link:         strings.TrimSpace(item.Link),
			Summary:      StripHTML(item.Description),
			PublishedRaw: strings.TrimSpace(item.PubDate),
		})
	}
	return candidates
}

func (p *Parser) parseAtom(data []byte) []Candidate {
	parser := atom.Parser{}
	feed, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	candidates := make([]Candidate, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if entry == nil {
			continue
		}

		summary := entry.Summary
		if strings.TrimSpace(summary) == "" && entry.Content != nil {
			summary = entry.Content.Value
		}

		candidates = append(candidates, Candidate{
			Title:        strings.TrimSpace(entry.Title),
			Link:         atomHref(entry.Links),
			Summary:      StripHTML(summary),
			PublishedRaw: strings.TrimSpace(firstNonEmpty(entry.Updated, entry.Published)),
		})
	}
	return candidates
}

func atomHref(links []*atom.Link) string {
	for _, link := range links {
		if link != nil && (link.Rel == "" || link.Rel == "alternate") && link.Href != "" {
			return strings.TrimSpace(link.Href)
		}
	}
	for _, link := range links {
		if link != nil && link.Href != "" {
			return strings.TrimSpace(link.Href)
		}
	}
	return ""
}

// xmlNode is a namespace-unaware element tree used when the typed parsers
// find nothing, e.g. mislabelled namespaces or hybrid documents.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) name() string {
	return strings.ToLower(n.XMLName.Local)
}

func (n *xmlNode) child(names ...string) *xmlNode {
	for _, name := range names {
		for i := range n.Nodes {
			if n.Nodes[i].name() == strings.ToLower(name) {
				return &n.Nodes[i]
			}
		}
	}
	return nil
}

func (n *xmlNode) childText(names ...string) string {
	for _, name := range names {
		if c := n.child(name); c != nil {
			if text := strings.TrimSpace(c.text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func (n *xmlNode) text() string {
	var b strings.Builder
	b.WriteString(n.Text)
	for i := range n.Nodes {
		b.WriteString(n.Nodes[i].text())
	}
	return b.String()
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if strings.EqualFold(a.Name.Local, name) {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) walk(visit func(*xmlNode)) {
	visit(n)
	for i := range n.Nodes {
		n.Nodes[i].walk(visit)
	}
}

func newXMLDecoder(data []byte) *xml.Decoder {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity
	decoder.CharsetReader = charset.NewReaderLabel
	return decoder
}

// checkFeedXML reads the whole document. It fails on truncated or malformed
// markup and on well-formed documents that are not feeds, such as error
// pages served with status 200.
func checkFeedXML(data []byte) error {
	decoder := newXMLDecoder(data)

	var root string
	var entries int
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("invalid XML: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		name := strings.ToLower(start.Name.Local)
		if root == "" {
			root = name
		}
		if name == "item" || name == "entry" {
			entries++
		}
	}

	if root == "" {
		return fmt.Errorf("invalid XML: no root element")
	}
	if !feedRoots[root] && entries == 0 {
		return fmt.Errorf("%w (root <%s>)", errNotAFeed, root)
	}
	return nil
}

func scanXML(data []byte) ([]Candidate, []Candidate, error) {
	decoder := newXMLDecoder(data)

	var root xmlNode
	if err := decoder.Decode(&root); err != nil {
		return nil, nil, fmt.Errorf("invalid XML: %w", err)
	}

	var items, entries []Candidate
	root.walk(func(n *xmlNode) {
		switch n.name() {
		case "item":
			items = append(items, Candidate{
				Title:        n.childText("title"),
				Link:         nodeLink(n),
				Summary:      StripHTML(n.childText("description", "summary", "encoded")),
				PublishedRaw: n.childText("pubDate", "date", "published", "updated"),
			})
		case "entry":
			entries = append(entries, Candidate{
				Title:        n.childText("title"),
				Link:         nodeLink(n),
				Summary:      StripHTML(n.childText("summary", "content")),
				PublishedRaw: n.childText("updated", "published"),
			})
		}
	})

	return items, entries, nil
}

// nodeLink prefers an href attribute of an alternate link, then link text.
func nodeLink(n *xmlNode) string {
	var text string
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.name() != "link" {
			continue
		}
		if href := strings.TrimSpace(c.attr("href")); href != "" {
			if rel := c.attr("rel"); rel == "" || rel == "alternate" {
				return href
			}
			if text == "" {
				text = href
			}
			continue
		}
		if t := strings.TrimSpace(c.text()); t != "" && text == "" {
			text = t
		}
	}
	return text
}

func (p *Parser) parseJSON(data []byte) ([]Candidate, error) {
	if candidates, ok := p.parseJSONFeed(data); ok {
		return candidates, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, &ParseFailure{Kind: KindJSON, Err: err}
	}

	var records []any
	switch v := doc.(type) {
	case []any:
		records = v
	case map[string]any:
		records = unwrapRecords(data, v)
	}

	candidates := make([]Candidate, 0, len(records))
	for _, raw := range records {
		record, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		var candidate Candidate
		for _, field := range jsonFields {
			for _, key := range field.keys {
				if value, ok := scalarString(record[key]); ok && strings.TrimSpace(value) != "" {
					field.set(&candidate, value)
					break
				}
			}
		}
		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

// parseJSONFeed handles jsonfeed.org documents.
func (p *Parser) parseJSONFeed(data []byte) ([]Candidate, bool) {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || !strings.Contains(probe.Version, "jsonfeed.org") {
		return nil, false
	}

	parser := jsonfeed.Parser{}
	feed, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}

	candidates := make([]Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:        strings.TrimSpace(item.Title),
			Link:         strings.TrimSpace(firstNonEmpty(item.URL, item.ExternalURL)),
			Summary:      StripHTML(firstNonEmpty(item.Summary, item.ContentText, item.ContentHTML)),
			PublishedRaw: strings.TrimSpace(firstNonEmpty(item.DatePublished, item.DateModified)),
		})
	}
	return candidates, true
}

// unwrapRecords finds the record array inside a wrapper object: known
// wrapper paths first, then the first top-level array of objects in
// document order.
func unwrapRecords(data []byte, doc map[string]any) []any {
	for _, path := range jsonWrappers {
		var node any = doc
		for _, key := range path {
			obj, ok := node.(map[string]any)
			if !ok {
				node = nil
				break
			}
			node = obj[key]
		}
		if arr, ok := node.([]any); ok && isObjectArray(arr) {
			return arr
		}
	}

	for _, key := range topLevelKeys(data) {
		if arr, ok := doc[key].([]any); ok && isObjectArray(arr) {
			return arr
		}
	}

	return nil
}

func isObjectArray(arr []any) bool {
	if len(arr) == 0 {
		return false
	}
	_, ok := arr[0].(map[string]any)
	return ok
}

// topLevelKeys returns the keys of a JSON object in document order.
func topLevelKeys(data []byte) []string {
	decoder := json.NewDecoder(bytes.NewReader(data))
	if tok, err := decoder.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}

	var keys []string
	for decoder.More() {
		tok, err := decoder.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := decoder.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

func scalarString(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case json.Number:
		return value.String(), true
	case bool:
		return strconv.FormatBool(value), true
	default:
		return "", false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
