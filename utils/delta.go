package utils

import (
	"encoding/json"
	"strings"
)

// DeltaOp is a single operation of a Quill delta document, the rich-text
// format stored in email bodies by the web client.
type DeltaOp struct {
	Insert     string                 `json:"insert"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// PlainTextToDelta wraps text into a one-op delta document terminated by a newline
func PlainTextToDelta(text string) string {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	data, err := json.Marshal([]DeltaOp{{Insert: text}})
	if err != nil {
		// marshalling a string slice cannot fail
		return "[]"
	}
	return string(data)
}

// DeltaToPlainText concatenates the inserts of a delta document. Bodies that
// are not deltas are returned unchanged.
func DeltaToPlainText(body string) string {
	var ops []DeltaOp
	if err := json.Unmarshal([]byte(body), &ops); err != nil {
		return body
	}
	var b strings.Builder
	for _, op := range ops {
		b.WriteString(op.Insert)
	}
	return strings.TrimRight(b.String(), "\n")
}
