package persona

import (
	"slices"
	"strings"
)

// Store exposes persona retrieval for the engine and the monitor API.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore is a read-only catalogue keyed by persona id. Ids match
// case-insensitively so HONEYPOT_PERSONA=GameDev selects "gamedev".
type MemoryStore struct {
	order []string
	byID  map[string]Persona
}

// NewMemoryStore indexes items. A later persona replaces an earlier one with
// the same id but keeps its position.
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]Persona, len(items))}
	for _, p := range items {
		key := normalizeID(p.ID)
		if _, seen := s.byID[key]; !seen {
			s.order = append(s.order, key)
		}
		s.byID[key] = clonePersona(p)
	}
	return s
}

// List returns the personas in catalogue order. Callers may modify the result.
func (s *MemoryStore) List() []Persona {
	out := make([]Persona, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, clonePersona(s.byID[key]))
	}
	return out
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	p, ok := s.byID[normalizeID(id)]
	if !ok {
		return Persona{}, false
	}
	return clonePersona(p), true
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func clonePersona(p Persona) Persona {
	p.Services = slices.Clone(p.Services)
	p.Artifacts = slices.Clone(p.Artifacts)
	return p
}
