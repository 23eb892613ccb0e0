package metadata

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/smartclm/clm/internal/models"
)

// placeholderPattern matches {{key}}. The key is taken verbatim, so
// "{{ key }}" looks up " key ".
var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// SubstituteVariables replaces every {{key}} with its value. Placeholders
// without a value are left in the text untouched.
func SubstituteVariables(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		key := token[2 : len(token)-2]
		if v, ok := vars[key]; ok {
			return v
		}
		return token
	})
}

// SubstituteStrict works like SubstituteVariables but fails when any
// placeholder has no value.
func SubstituteStrict(template string, vars map[string]string) (string, error) {
	var missing []string
	for _, key := range Placeholders(template) {
		if _, ok := vars[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", models.ErrUnresolvedPlaceholder, strings.Join(missing, ", "))
	}
	return SubstituteVariables(template, vars), nil
}

// Placeholders lists the distinct keys referenced by a template, in order of
// first appearance.
func Placeholders(template string) []string {
	var keys []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

// Value is one side of a variable diff. Present is false when the key does
// not exist on that side, which is different from an empty string.
type Value struct {
	Present bool   `json:"present"`
	Data    string `json:"value,omitempty"`
}

func (v Value) String() string {
	if !v.Present {
		return "<absent>"
	}
	return v.Data
}

// Present wraps a value that exists.
func Present(s string) Value {
	return Value{Present: true, Data: s}
}

// Absent is the marker for a missing key.
var Absent = Value{}

type VariableDiff struct {
	A Value `json:"a"`
	B Value `json:"b"`
}

// DiffVariables reports the keys whose values differ between a and b,
// including keys that exist on only one side.
func DiffVariables(a, b map[string]string) map[string]VariableDiff {
	diff := map[string]VariableDiff{}
	for k, va := range a {
		vb, ok := b[k]
		switch {
		case !ok:
			diff[k] = VariableDiff{A: Present(va), B: Absent}
		case va != vb:
			diff[k] = VariableDiff{A: Present(va), B: Present(vb)}
		}
	}
	for k, vb := range b {
		if _, ok := a[k]; !ok {
			diff[k] = VariableDiff{A: Absent, B: Present(vb)}
		}
	}
	return diff
}

// SortedKeys returns the keys of a diff in lexical order, for stable output.
func SortedKeys(diff map[string]VariableDiff) []string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
