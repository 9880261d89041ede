package websocket

import "sort"

// typingTracker records which connections are currently typing.
type typingTracker struct {
	names map[string]string
}

func newTypingTracker() *typingTracker {
	return &typingTracker{names: make(map[string]string)}
}

func (t *typingTracker) set(connID, name string, typing bool) {
	if typing {
		t.names[connID] = name
		return
	}
	delete(t.names, connID)
}

// remove reports whether connID had an entry.
func (t *typingTracker) remove(connID string) bool {
	if _, ok := t.names[connID]; !ok {
		return false
	}
	delete(t.names, connID)
	return true
}

// snapshot returns the distinct typing names, sorted.
func (t *typingTracker) snapshot() []string {
	seen := make(map[string]struct{}, len(t.names))
	names := make([]string, 0, len(t.names))
	for _, name := range t.names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
