package utils

import (
	"encoding/json"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// textPolicy removes every tag, for subjects, names, bios and label names
	textPolicy = bluemonday.StrictPolicy()
	// bodyPolicy keeps the formatting the web client produces in HTML bodies
	bodyPolicy = newBodyPolicy()
)

var linkSchemes = map[string]bool{"http": true, "https": true, "mailto": true}

func newBodyPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()

	p.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("strong", "em", "u", "s", "code", "pre", "blockquote")
	p.AllowElements("ul", "ol", "li", "a", "img")

	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	p.AllowAttrs("class").Globally()
	p.AllowAttrs("style").OnElements("span", "div", "p")

	p.RequireParseableURLs(true)
	schemes := make([]string, 0, len(linkSchemes))
	for scheme := range linkSchemes {
		schemes = append(schemes, scheme)
	}
	p.AllowURLSchemes(schemes...)
	return p
}

// PlainText strips every tag and returns unescaped text
func PlainText(content string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(content)))
}

// SanitizeBody cleans an email body. Delta documents keep their inserts,
// which clients render as text, but lose links with unsafe schemes.
// Anything else is cleaned as HTML.
func SanitizeBody(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "[") {
		var ops []DeltaOp
		if err := json.Unmarshal([]byte(trimmed), &ops); err == nil {
			return sanitizeDelta(ops)
		}
		// embeds such as images have object inserts
		if json.Valid([]byte(trimmed)) {
			return trimmed
		}
	}
	return bodyPolicy.Sanitize(body)
}

func sanitizeDelta(ops []DeltaOp) string {
	for i := range ops {
		link, ok := ops[i].Attributes["link"].(string)
		if !ok {
			continue
		}
		if u, err := url.Parse(link); err != nil || !linkSchemes[strings.ToLower(u.Scheme)] {
			delete(ops[i].Attributes, "link")
		}
	}
	data, err := json.Marshal(ops)
	if err != nil {
		return "[]"
	}
	return string(data)
}
