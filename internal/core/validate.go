package core

import (
	"fmt"
	"regexp"
)

var entryIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateEntries enforces basic entry contract invariants at startup.
func ValidateEntries(entries []Entry) error {
	seen := make(map[string]bool)
	for _, entry := range entries {
		id := entry.ID()
		manifest := entry.Manifest()
		if id == "" {
			return fmt.Errorf("entry id is empty")
		}
		if !entryIDPattern.MatchString(id) {
			return fmt.Errorf("entry id %q does not match %s", id, entryIDPattern.String())
		}
		if manifest.EntryID != id {
			return fmt.Errorf("entry id mismatch: id=%q manifest=%q", id, manifest.EntryID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate entry id: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// FindEntry returns the entry with id.
func FindEntry(entries []Entry, id string) (Entry, bool) {
	for _, entry := range entries {
		if entry.ID() == id {
			return entry, true
		}
	}
	return nil, false
}
