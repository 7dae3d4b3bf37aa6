// Package scan runs the external JARM scan tool and turns its line-oriented
// output into a structured Outcome.
package scan

import (
	"strings"
)

// Outcome is the success reply sent back to the extension. Fields the tool did
// not report are encoded as JSON null.
type Outcome struct {
	Domain     *string `json:"Domain"`
	ResolvedIP *string `json:"Resolved IP"`
	JARM       *string `json:"JARM"`
}

var outcomeFields = []struct {
	prefix string
	field  func(*Outcome) **string
}{
	{"domain:", func(o *Outcome) **string { return &o.Domain }},
	{"resolved ip:", func(o *Outcome) **string { return &o.ResolvedIP }},
	{"jarm:", func(o *Outcome) **string { return &o.JARM }},
}

// ParseOutput extracts the domain, resolved IP and JARM hash from the tool's
// stdout. Prefixes are matched case-insensitively; a later line wins over an
// earlier one; anything else is ignored.
func ParseOutput(stdout string) Outcome {
	var o Outcome
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		i := fieldIndex(line)
		if i < 0 {
			continue
		}
		_, value, _ := strings.Cut(line, ":")
		value = strings.TrimSpace(value)
		*outcomeFields[i].field(&o) = &value
	}
	return o
}

// fieldIndex returns the outcomeFields entry a trimmed line sets, or -1.
func fieldIndex(line string) int {
	lower := strings.ToLower(line)
	for i, f := range outcomeFields {
		if strings.HasPrefix(lower, f.prefix) {
			return i
		}
	}
	return -1
}
