package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ACLEntry grants one principal access to everything under a key prefix.
type ACLEntry struct {
	Name   string `json:"Name"`
	Type   string `json:"Type"`
	Access string `json:"Access"`
}

// ManifestEntry is the access list for one mirrored object or folder prefix.
type ManifestEntry struct {
	KeyPrefix  string     `json:"keyPrefix"`
	ACLEntries []ACLEntry `json:"aclEntries"`
}

// Manifest is the access-control manifest read by the index sync.
type Manifest struct {
	entries []ManifestEntry
}

// DecodeManifest parses acl.json; empty input yields an empty manifest.
func DecodeManifest(raw []byte) (*Manifest, error) {
	m := &Manifest{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m.entries); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// NewManifest builds a manifest from entries, sorted by prefix.
func NewManifest(entries []ManifestEntry) *Manifest {
	m := &Manifest{entries: append([]ManifestEntry(nil), entries...)}
	m.sort()
	return m
}

// Encode renders the manifest deterministically.
func (m *Manifest) Encode() ([]byte, error) {
	entries := m.entries
	if entries == nil {
		entries = []ManifestEntry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// Entries returns a copy of the manifest entries.
func (m *Manifest) Entries() []ManifestEntry {
	return append([]ManifestEntry(nil), m.entries...)
}

// Lookup returns the entry for an exact prefix.
func (m *Manifest) Lookup(keyPrefix string) (ManifestEntry, bool) {
	for _, entry := range m.entries {
		if entry.KeyPrefix == keyPrefix {
			return entry, true
		}
	}
	return ManifestEntry{}, false
}

// Put replaces or inserts the entry for entry.KeyPrefix.
func (m *Manifest) Put(entry ManifestEntry) {
	for i := range m.entries {
		if m.entries[i].KeyPrefix == entry.KeyPrefix {
			m.entries[i] = entry
			return
		}
	}
	m.entries = append(m.entries, entry)
	m.sort()
}

// Remove drops the entries for the given prefixes and reports how many were removed.
func (m *Manifest) Remove(keyPrefixes ...string) int {
	if len(keyPrefixes) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(keyPrefixes))
	for _, prefix := range keyPrefixes {
		drop[prefix] = struct{}{}
	}
	kept := m.entries[:0]
	removed := 0
	for _, entry := range m.entries {
		if _, ok := drop[entry.KeyPrefix]; ok {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	m.entries = kept
	return removed
}

func (m *Manifest) sort() {
	sort.SliceStable(m.entries, func(i, j int) bool {
		return m.entries[i].KeyPrefix < m.entries[j].KeyPrefix
	})
}

// BuildACL lists the owner followed by every live collaborator, deduplicated.
func BuildACL(item Item, collaborations []Collaboration) []ACLEntry {
	entries := make([]ACLEntry, 0, len(collaborations)+1)
	seen := make(map[string]struct{}, len(collaborations)+1)
	add := func(name, principalType string) {
		name = strings.TrimSpace(name)
		principalType = strings.ToUpper(strings.TrimSpace(principalType))
		if name == "" || principalType == "" {
			return
		}
		key := principalType + "\x00" + name
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		entries = append(entries, ACLEntry{Name: name, Type: principalType, Access: "ALLOW"})
	}
	add(item.OwnerName, item.OwnerType)
	sorted := append([]Collaboration(nil), collaborations...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CollaborationID < sorted[j].CollaborationID })
	for _, collaboration := range sorted {
		add(collaboration.AccessibleName, collaboration.AccessibleType)
	}
	return entries
}
