package scm

import (
	"encoding/json"
	"sort"
	"strings"
)

// Attribute keys embedded in commit and tag messages.
const (
	AttrBaseVersion             = "bzlrel-base-version"
	AttrBaseVersionCommit       = "bzlrel-base-version-commit"
	AttrVersion                 = "bzlrel-version"
	AttrReferenceVersionChange  = "bzlrel-reference-version-change"
	AttrVersionChange           = "bzlrel-version-change"
	AttrEquivalentStaticVersion = "bzlrel-equivalent-static-version"
)

// Attributes are key/value metadata embedded in a commit or tag message.
//
// Wire format: when attributes are present the message starts with a
// single-line JSON object with sorted keys, followed by a blank line and the
// human text.
//
//	{"bzlrel-reference-version-change":"true"}
//
//	Change reference to lib_b to 1.0.
type Attributes map[string]string

// Keys returns the attribute keys, sorted.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is set.
func (a Attributes) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// IsTrue reports whether key is set to "true".
func (a Attributes) IsTrue(key string) bool {
	return a[key] == "true"
}

// Merge returns a copy of a with other's entries added, overriding a.
func (a Attributes) Merge(other Attributes) Attributes {
	out := make(Attributes, len(a)+len(other))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// EncodeMessage returns text prefixed with the attribute block.
// Without attributes the text is returned unchanged.
func EncodeMessage(attrs Attributes, text string) string {
	if len(attrs) == 0 {
		return text
	}
	// encoding/json sorts map keys and never emits newlines.
	block, err := json.Marshal(map[string]string(attrs))
	if err != nil {
		return text
	}
	if text == "" {
		return string(block)
	}
	return string(block) + "\n\n" + text
}

// DecodeMessage splits a message into its attributes and human text.
// A message that does not start with a valid attribute block has no
// attributes.
func DecodeMessage(msg string) (Attributes, string) {
	if !strings.HasPrefix(msg, "{") {
		return nil, msg
	}
	line, _, _ := strings.Cut(msg, "\n")
	dec := json.NewDecoder(strings.NewReader(line))
	var attrs map[string]string
	if err := dec.Decode(&attrs); err != nil {
		return nil, msg
	}
	rest := strings.TrimSpace(line[dec.InputOffset():])
	if rest != "" {
		return nil, msg
	}
	text := strings.TrimPrefix(msg[len(line):], "\n")
	text = strings.TrimPrefix(text, "\n")
	return Attributes(attrs), text
}
