package persona

// Store exposes persona retrieval.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store over a fixed list, keeping seed order for listing.
type MemoryStore struct {
	items []Persona
	byID  map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{
		items: append([]Persona(nil), items...),
		byID:  make(map[string]int, len(items)),
	}
	for i, item := range s.items {
		s.byID[item.ID] = i
	}
	return s
}

// List returns the personas in seed order.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Persona{}, false
	}
	return s.items[idx], true
}

// Resolve returns the persona with id, falling back to DefaultID and then to the first entry.
func Resolve(s Store, id string) (Persona, bool) {
	if p, ok := s.FindByID(id); ok {
		return p, true
	}
	if p, ok := s.FindByID(DefaultID); ok {
		return p, true
	}
	if items := s.List(); len(items) > 0 {
		return items[0], true
	}
	return Persona{}, false
}
