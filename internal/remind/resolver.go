package remind

import "strings"

// Resolver turns a free-text recipient hint into platform mention text.
// It keeps the core decoupled from any one chat platform's mention syntax.
type Resolver interface {
	Resolve(name string) string
}

// MapResolver maps screen names to Discord user ids, configured statically.
// Unknown names fall back to plain "@name" text; empty hints resolve to "".
type MapResolver map[string]string

func (m MapResolver) Resolve(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	if name == "" {
		return ""
	}
	if id, ok := m[name]; ok && strings.TrimSpace(id) != "" {
		return "<@" + strings.TrimSpace(id) + ">"
	}
	return "@" + name
}
