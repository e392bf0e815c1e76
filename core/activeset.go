package core

import "encoding/json"

// ActiveSet is the ordered set of activity ids currently in-flight for a
// process instance. Order is insertion order, which keeps flow-following
// deterministic. It serializes as a JSON array at the persistence boundary.
type ActiveSet struct {
	ids []string
}

func NewActiveSet(ids ...string) ActiveSet {
	s := ActiveSet{}
	for _, id := range ids {
		s.Add(id)
	}

	return s
}

// Add inserts the given activity id if it is not already present.
func (s *ActiveSet) Add(id string) {
	if s.Contains(id) {
		return
	}

	s.ids = append(s.ids, id)
}

// Remove deletes the given activity id, preserving the order of the rest.
func (s *ActiveSet) Remove(id string) {
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return
		}
	}
}

func (s *ActiveSet) Contains(id string) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}

	return false
}

func (s *ActiveSet) Len() int {
	return len(s.ids)
}

// IDs returns a copy of the activity ids in insertion order.
func (s *ActiveSet) IDs() []string {
	ids := make([]string, len(s.ids))
	copy(ids, s.ids)

	return ids
}

func (s *ActiveSet) Clear() {
	s.ids = nil
}

// Clone returns a copy that shares no backing storage with the receiver.
func (s *ActiveSet) Clone() ActiveSet {
	return NewActiveSet(s.ids...)
}

func (s ActiveSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}

	return json.Marshal(s.ids)
}

func (s *ActiveSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}

	s.ids = nil
	for _, id := range ids {
		s.Add(id)
	}

	return nil
}
