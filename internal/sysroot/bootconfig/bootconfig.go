// Package bootconfig reads and writes bootloader entry files in the
// Boot Loader Specification shape: `key value` lines with comments and
// unknown lines preserved verbatim across a parse/write round trip.
package bootconfig

import (
	"sort"
	"strings"

	"github.com/bootwright/bootwright/internal/sysroot/errors"
)

// Reserved keys consumed by the deployment engine.
const (
	KeyTitle      = "title"
	KeyVersion    = "version"
	KeyLinux      = "linux"
	KeyInitrd     = "initrd"
	KeyDevicetree = "devicetree"
	KeyOptions    = "options"
	KeyAboot      = "aboot"
	KeyAbootCfg   = "abootcfg"
)

// DefaultSeparators are the byte values recognized between key and value.
const DefaultSeparators = " \t"

// line is one input line; key is empty for opaque lines (comments,
// blanks, anything not shaped like `key value`).
type line struct {
	key  string
	text string
}

// BootConfig holds the ordered lines of an entry file plus a keyed
// lookup view. The lookup is last-write-wins on parse.
type BootConfig struct {
	separators string
	parsed     bool
	lines      []line
	options    map[string]string
}

type Option func(*BootConfig)

// WithSeparators overrides the recognized key/value separator bytes.
func WithSeparators(separators string) Option {
	return func(c *BootConfig) {
		c.separators = separators
	}
}

func New(options ...Option) *BootConfig {
	c := &BootConfig{
		separators: DefaultSeparators,
		options:    map[string]string{},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Parse initializes the config from file contents. Parse is one-shot:
// parsing into an already-parsed config fails.
func (c *BootConfig) Parse(contents []byte) error {
	if c.parsed {
		return errors.ErrAlreadyParsed
	}

	for _, text := range splitLines(string(contents)) {
		key := ""
		if len(text) > 0 && isASCIILetter(text[0]) {
			if k, v, ok := c.splitKeyValue(text); ok {
				key = k
				c.options[k] = v
			}
		}
		c.lines = append(c.lines, line{key: key, text: text})
	}

	c.parsed = true
	return nil
}

// splitKeyValue splits at the first separator byte; the value is
// everything after it, verbatim.
func (c *BootConfig) splitKeyValue(text string) (string, string, bool) {
	idx := strings.IndexAny(text, c.separators)
	if idx <= 0 {
		return "", "", false
	}
	return text[:idx], text[idx+1:], true
}

// Get returns the value for key, or "" when absent.
func (c *BootConfig) Get(key string) string {
	return c.options[key]
}

// Lookup returns the value for key and whether it is present.
func (c *BootConfig) Lookup(key string) (string, bool) {
	v, ok := c.options[key]
	return v, ok
}

// Set stores a value for key. The key keeps its original line position
// on write, or is appended when new.
func (c *BootConfig) Set(key, value string) {
	c.options[key] = value
}

// Delete removes a key from the lookup view; its originating line, if
// any, is dropped on write.
func (c *BootConfig) Delete(key string) {
	delete(c.options, key)
}

// Clone produces an independent copy.
func (c *BootConfig) Clone() *BootConfig {
	out := New(WithSeparators(c.separators))
	out.parsed = c.parsed
	out.lines = append([]line(nil), c.lines...)
	for k, v := range c.options {
		out.options[k] = v
	}
	return out
}

// Bytes serializes the config. Opaque lines are emitted verbatim; key
// lines whose lookup value changed are rewritten in place; keys with no
// originating line are appended.
func (c *BootConfig) Bytes() []byte {
	var b strings.Builder
	written := map[string]bool{}

	for _, l := range c.lines {
		if l.key == "" {
			b.WriteString(l.text)
			b.WriteByte('\n')
			continue
		}
		value, ok := c.options[l.key]
		if !ok {
			// deleted key: drop the line
			continue
		}
		if written[l.key] {
			// duplicate key line; the lookup view holds one value
			continue
		}
		written[l.key] = true
		if _, orig, _ := c.splitKeyValue(l.text); orig == value {
			b.WriteString(l.text)
		} else {
			b.WriteString(l.key)
			b.WriteByte(c.separators[0])
			b.WriteString(value)
		}
		b.WriteByte('\n')
	}

	for _, key := range sortedKeys(c.options) {
		if written[key] {
			continue
		}
		if hasLine(c.lines, key) {
			continue
		}
		b.WriteString(key)
		b.WriteByte(c.separators[0])
		b.WriteString(c.options[key])
		b.WriteByte('\n')
	}

	return []byte(b.String())
}

func hasLine(lines []line, key string) bool {
	for _, l := range lines {
		if l.key == key {
			return true
		}
	}
	return false
}

func splitLines(contents string) []string {
	contents = strings.TrimSuffix(contents, "\n")
	if contents == "" {
		return nil
	}
	return strings.Split(contents, "\n")
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// insertion-order independence for appended keys: the reserved keys
	// first in their canonical order, everything else lexicographic
	canonical := []string{KeyTitle, KeyVersion, KeyLinux, KeyInitrd, KeyDevicetree, KeyAboot, KeyAbootCfg, KeyOptions}
	out := make([]string, 0, len(keys))
	seen := map[string]bool{}
	for _, k := range canonical {
		if _, ok := m[k]; ok {
			out = append(out, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}
