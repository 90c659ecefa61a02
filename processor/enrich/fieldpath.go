package enrich

import (
	"fmt"
	"strings"

	"github.com/c360/lookupstream/errors"
)

// fieldPath is a parsed reference to a nested event field.
type fieldPath []string

// parsePath accepts dotted paths (a.b.c) and bracket references ([a][b][c]).
func parsePath(path string) (fieldPath, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "enrich", "parsePath", "empty field path")
	}

	if !strings.HasPrefix(path, "[") {
		parts := strings.Split(path, ".")
		for _, part := range parts {
			if part == "" {
				return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "enrich", "parsePath",
					fmt.Sprintf("empty segment in %q", path))
			}
		}
		return parts, nil
	}

	var parts []string
	rest := path
	for rest != "" {
		if rest[0] != '[' {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "enrich", "parsePath",
				fmt.Sprintf("expected [ in %q", path))
		}
		end := strings.IndexByte(rest, ']')
		if end < 2 {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "enrich", "parsePath",
				fmt.Sprintf("malformed reference %q", path))
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	return parts, nil
}

func (p fieldPath) String() string {
	return strings.Join(p, ".")
}

// get returns the value at p and whether every segment was present.
func (p fieldPath) get(event map[string]any) (any, bool) {
	var current any = event
	for _, part := range p {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// set stores value at p, replacing non-object intermediate values with objects.
func (p fieldPath) set(event map[string]any, value any) {
	current := event
	for _, part := range p[:len(p)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[p[len(p)-1]] = value
}

// addTags appends tags to the list at p, skipping ones already present.
// A single string value is turned into a list first.
func (p fieldPath) addTags(event map[string]any, tags []string) {
	if len(tags) == 0 {
		return
	}

	var list []any
	switch existing, _ := p.get(event); v := existing.(type) {
	case []any:
		list = v
	case string:
		list = []any{v}
	}

	seen := make(map[string]bool, len(list))
	for _, tag := range list {
		if s, ok := tag.(string); ok {
			seen[s] = true
		}
	}
	for _, tag := range tags {
		if !seen[tag] {
			list = append(list, tag)
			seen[tag] = true
		}
	}
	p.set(event, list)
}
