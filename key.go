package sequel

import "strings"

// Key identifies one logical query against the remote API. Keys are
// composed from the resource kind, a verb, and the query scope so that
// every distinct query maps to exactly one key, e.g.
// "instance-group:list:my-project:europe-west1-b".
type Key string

// NewKey builds a cache key from a kind, verb and scope parts. Empty parts
// are normalised to "all" so optional scopes (such as a zone filter) still
// produce a stable key.
func NewKey(kind Kind, verb string, parts ...string) Key {
	elems := make([]string, 0, len(parts)+2)
	elems = append(elems, string(kind), verb)
	for _, p := range parts {
		if p == "" {
			p = "all"
		}
		elems = append(elems, p)
	}
	return Key(strings.Join(elems, ":"))
}

// ListKey builds the key for a "list" query.
func ListKey(kind Kind, parts ...string) Key {
	return NewKey(kind, "list", parts...)
}

// GetKey builds the key for a "get" query.
func GetKey(kind Kind, parts ...string) Key {
	return NewKey(kind, "get", parts...)
}

// Prefix reports whether the key belongs to the given kind and scope
// prefix. Matching is segment-aligned: a prefix scoped to "foo" never
// matches keys scoped to "foo-bar".
func (k Key) Prefix(kind Kind, verb string, parts ...string) bool {
	prefix := string(NewKey(kind, verb, parts...))
	return string(k) == prefix || strings.HasPrefix(string(k), prefix+":")
}

// Scope returns the first scope segment of the key, or "" for unscoped
// keys such as the global project listing. Every project-scoped query,
// child listings included, carries the project as its first scope
// segment, so Scope identifies the keys a project refresh must drop.
func (k Key) Scope() string {
	segs := strings.SplitN(string(k), ":", 4)
	if len(segs) < 3 {
		return ""
	}
	return segs[2]
}

func (k Key) String() string { return string(k) }
