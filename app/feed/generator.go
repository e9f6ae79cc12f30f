package feed

import (
	"bytes"
	"cmp"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"
)

// Channel describes the RSS channel wrapping republished records.
type Channel struct {
	Title       string
	Link        string
	Description string
	SelfLink    string
	Generator   string
}

// Generator renders stored records of a source as an RSS 2.0 document.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Run(channel Channel, records []Record) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", channel.Title, 4)
	g.writeElement(&buf, "link", channel.Link, 4)
	description := channel.Description
	if description == "" {
		description = fmt.Sprintf("Relevant notices from %s", cmp.Or(channel.Title, channel.Link))
	}
	g.writeElement(&buf, "description", description, 4)

	if channel.SelfLink != "" {
		buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
			html.EscapeString(channel.SelfLink)))
	}

	lastBuildDate := time.Now().UTC()
	if len(records) > 0 && records[0].PublishedAt != nil {
		lastBuildDate = *records[0].PublishedAt
	}

	g.writeElement(&buf, "lastBuildDate", lastBuildDate.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", channel.Generator, 4)

	for _, record := range records {
		g.writeItem(&buf, record)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, record Record) {
	buf.WriteString("    <item>\n")

	guid := record.SourceCode + ":" + record.ExternalID
	isPermaLink := false
	if g.isURL(record.ExternalID) {
		guid = record.ExternalID
		isPermaLink = true
	}
	buf.WriteString(fmt.Sprintf("      <guid isPermaLink=\"%t\">", isPermaLink))
	xml.EscapeText(buf, []byte(guid))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", record.Title, 6)
	g.writeElement(buf, "link", record.URL, 6)

	var summary string
	if record.Summary != nil {
		summary = *record.Summary
	}
	g.writeElement(buf, "description", cmp.Or(summary, "No description available"), 6)

	if record.Body != nil && *record.Body != "" && *record.Body != summary {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(strings.ReplaceAll(*record.Body, "]]>", "]]]]><![CDATA[>"))
		buf.WriteString("]]></content:encoded>\n")
	}

	if record.PublishedAt != nil {
		g.writeElement(buf, "pubDate", record.PublishedAt.Format(time.RFC1123Z), 6)
	}

	if record.Region != nil {
		g.writeElement(buf, "category", *record.Region, 6)
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

func (g *Generator) isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
