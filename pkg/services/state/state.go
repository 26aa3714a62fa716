// Package state keeps a hierarchical key/value mirror of orchestrator state,
// addressed by dotted keys ("vehicles.V001.status"). It exists for
// snapshotting and audit history; the registries remain the owners of the
// live records. All mutation is serialized by a single mutex, making the
// store safe for concurrent publishers.
package state

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
)

const auditCapacity = 100

// AuditEntry records one Set call.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	OldValue  any       `json:"old_value"`
	NewValue  any       `json:"new_value"`
}

// Persister receives the full tree plus the triggering audit entry on every
// Set while persistence is enabled. It runs synchronously on the mutation
// path; slow implementations add latency to every write.
type Persister interface {
	Persist(tree map[string]any, entry AuditEntry) error
}

type Store struct {
	mu        sync.Mutex
	tree      map[string]any
	history   []AuditEntry // ring, oldest evicted first
	histStart int
	persister Persister
}

func New() *Store {
	return &Store{
		tree: map[string]any{
			"vehicles":  map[string]any{},
			"missions":  map[string]any{},
			"geofences": map[string]any{},
			"workflows": map[string]any{},
			"system": map[string]any{
				"status":      "initialized",
				"start_time":  time.Now().Format(time.RFC3339),
				"event_count": 0,
			},
		},
	}
}

// EnablePersistence installs the persister; pass nil to disable again.
func (s *Store) EnablePersistence(p Persister) {
	s.mu.Lock()
	s.persister = p
	s.mu.Unlock()
}

// Get walks the dotted key and returns def when any path segment is missing
// or not a map.
func (s *Store) Get(key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key, def)
}

func (s *Store) get(key string, def any) any {
	var value any = s.tree
	for _, k := range strings.Split(key, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return def
		}
		value, ok = m[k]
		if !ok || value == nil {
			return def
		}
	}
	return value
}

// Set writes the value at the dotted key, creating intermediate maps as
// needed, and records an audit entry.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key, value)
}

func (s *Store) set(key string, value any) {
	keys := strings.Split(key, ".")
	node := s.tree
	for _, k := range keys[:len(keys)-1] {
		child, ok := node[k].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[k] = child
		}
		node = child
	}

	leaf := keys[len(keys)-1]
	entry := AuditEntry{
		Timestamp: time.Now(),
		Key:       key,
		OldValue:  node[leaf],
		NewValue:  value,
	}
	node[leaf] = value
	s.appendAudit(entry)

	if s.persister != nil {
		if err := s.persister.Persist(s.snapshot(), entry); err != nil {
			log.Printf("[State] Persistence error for %s: %v", key, err)
		}
	}
}

func (s *Store) appendAudit(entry AuditEntry) {
	if len(s.history) < auditCapacity {
		s.history = append(s.history, entry)
		return
	}
	s.history[s.histStart] = entry
	s.histStart = (s.histStart + 1) % auditCapacity
}

// Update shallow-merges the partial map into the map stored at key. A
// missing or non-map current value becomes a fresh map holding the updates.
func (s *Store) Update(key string, updates map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.get(key, nil).(map[string]any)
	merged := map[string]any{}
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	s.set(key, merged)
}

// Delete removes the leaf at the dotted key; missing paths are a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := strings.Split(key, ".")
	node := s.tree
	for _, k := range keys[:len(keys)-1] {
		child, ok := node[k].(map[string]any)
		if !ok {
			return
		}
		node = child
	}
	delete(node, keys[len(keys)-1])
}

// Snapshot returns a deep copy of the whole tree, safe to serialize or hand
// across goroutines.
func (s *Store) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// snapshot deep-copies via a JSON round trip, which also normalizes any
// struct values into plain maps. Unserializable values drop out rather than
// failing the copy.
func (s *Store) snapshot() map[string]any {
	data, err := json.Marshal(s.tree)
	if err != nil {
		log.Printf("[State] Snapshot marshal error: %v", err)
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		log.Printf("[State] Snapshot unmarshal error: %v", err)
		return map[string]any{}
	}
	return out
}

// History returns the audit entries, oldest first.
func (s *Store) History() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AuditEntry, 0, len(s.history))
	for i := 0; i < len(s.history); i++ {
		out = append(out, s.history[(s.histStart+i)%len(s.history)])
	}
	return out
}
