package model

import (
	"encoding/json"
	"sort"
)

// DocSet is a set of document identifiers. The zero value is an empty set.
type DocSet map[string]struct{}

func NewDocSet(ids ...string) DocSet {
	s := make(DocSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s DocSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s DocSet) Len() int { return len(s) }

// Outstanding counts members of s missing from received.
func (s DocSet) Outstanding(received DocSet) int {
	n := 0
	for id := range s {
		if !received.Has(id) {
			n++
		}
	}
	return n
}

// Slice returns the ids sorted, for storage and stable output.
func (s DocSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s DocSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *DocSet) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*s = NewDocSet(ids...)
	return nil
}
