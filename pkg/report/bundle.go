package report

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Bundle is the ordered mapping from attribute name to diagnostic list.
// It is the sole currency between the resolver, the plugin protocol and
// the merger. Key order is preserved: iteration and JSON encoding both
// follow insertion order, which for a full run is the caller's
// requested attribute order.
type Bundle struct {
	names  []string
	byName map[string][]Diagnostic
}

// NewBundle creates an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{byName: make(map[string][]Diagnostic)}
}

// Ensure registers an attribute name with an empty diagnostic list if
// it is not already present. Every requested attribute must appear as a
// key in the final bundle even when nothing was reported for it.
func (b *Bundle) Ensure(name string) {
	if _, ok := b.byName[name]; !ok {
		b.names = append(b.names, name)
		b.byName[name] = nil
	}
}

// Append adds diagnostics to the end of an attribute's list, creating
// the key when needed. Existing order is never disturbed.
func (b *Bundle) Append(name string, diags ...Diagnostic) {
	b.Ensure(name)
	b.byName[name] = append(b.byName[name], diags...)
}

// Get returns the diagnostic list for an attribute and whether the
// attribute is a key in the bundle.
func (b *Bundle) Get(name string) ([]Diagnostic, bool) {
	diags, ok := b.byName[name]
	return diags, ok
}

// Names returns the attribute names in bundle order.
func (b *Bundle) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Len returns the number of attribute keys.
func (b *Bundle) Len() int {
	return len(b.names)
}

// Count returns the total number of diagnostics across all attributes.
func (b *Bundle) Count() int {
	n := 0
	for _, diags := range b.byName {
		n += len(diags)
	}
	return n
}

// MarshalJSON encodes the bundle as a JSON object whose keys follow
// bundle order. Empty diagnostic lists encode as [] rather than null.
func (b *Bundle) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range b.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		diags := b.byName[name]
		if diags == nil {
			diags = []Diagnostic{}
		}
		val, err := json.Marshal(diags)
		if err != nil {
			return nil, fmt.Errorf("encoding diagnostics for %s: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the bundle, preserving the
// key order of the document. A plain map decode would lose it.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	b.names = nil
	b.byName = make(map[string][]Diagnostic)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("bundle must be a JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("bundle key is not a string: %v", keyTok)
		}

		var diags []Diagnostic
		if err := dec.Decode(&diags); err != nil {
			return fmt.Errorf("decoding diagnostics for %s: %w", name, err)
		}
		b.Ensure(name)
		b.byName[name] = append(b.byName[name], diags...)
	}

	// Consume the closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
