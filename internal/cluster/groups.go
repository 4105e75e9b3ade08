package cluster

import (
	"fmt"
	"sync"

	"github.com/andresmejia3/aibum/internal/types"
	"github.com/google/uuid"
)

// groupNamespace scopes seeded group ids so they never collide with ids minted by other tools.
var groupNamespace = uuid.MustParse("6f1c7a52-3f0e-4c57-9a43-5b1d8e2f4c10")

// IDSource mints group ids.
type IDSource func() string

// RandomIDs returns an IDSource producing random UUIDs.
func RandomIDs() IDSource {
	return uuid.NewString
}

// SeededIDs returns an IDSource producing name-based UUIDs from seed and a counter,
// so two stores with the same seed hand out the same id sequence.
func SeededIDs(seed string) IDSource {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return uuid.NewSHA1(groupNamespace, fmt.Appendf(nil, "%s/%d", seed, n)).String()
	}
}

// Group is a person group. Values returned by the store are copies.
type Group struct {
	ID             string          `json:"id"`
	Label          string          `json:"label"`
	Faces          []types.Face    `json:"faces"`
	Representative types.Embedding `json:"representative"`
}

func (g *Group) clone() Group {
	out := Group{
		ID:             g.ID,
		Label:          g.Label,
		Faces:          make([]types.Face, len(g.Faces)),
		Representative: g.Representative.Clone(),
	}
	for i, f := range g.Faces {
		f.Embedding = f.Embedding.Clone()
		out.Faces[i] = f
	}
	return out
}

// GroupStore owns the authoritative set of groups and their faces.
// All methods are safe for concurrent use; ListGroups never observes a half-applied mutation.
type GroupStore struct {
	mu       sync.RWMutex
	groups   map[string]*Group
	order    []string
	reserved map[string]struct{}
	created  int
	newID    IDSource
}

// NewGroupStore creates an empty store. A nil source uses random UUIDs.
func NewGroupStore(ids IDSource) *GroupStore {
	if ids == nil {
		ids = RandomIDs()
	}
	return &GroupStore{
		groups:   make(map[string]*Group),
		reserved: make(map[string]struct{}),
		newID:    ids,
	}
}

// Reserve marks ids (typically from persisted records) that CreateGroup must never hand out.
func (s *GroupStore) Reserve(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.reserved[id] = struct{}{}
	}
}

// CreateGroup starts a new group with face as its first member and representative.
// The default label is "Person n", n counting groups created this session.
func (s *GroupStore) CreateGroup(face types.Face) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for s.taken(id) {
		id = s.newID()
	}
	s.created++
	s.insert(id, fmt.Sprintf("Person %d", s.created), face)
	return id
}

// Materialize creates a group under a known id and label, used when a face rejoins
// a person persisted in an earlier session. A nil rep makes face the representative.
func (s *GroupStore) Materialize(id, label string, face types.Face, rep types.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; ok {
		return fmt.Errorf("%w: group %q already exists", ErrInvalidOperation, id)
	}
	s.insert(id, label, face)
	if rep != nil {
		s.groups[id].Representative = rep.Clone()
	}
	return nil
}

func (s *GroupStore) taken(id string) bool {
	if _, ok := s.groups[id]; ok {
		return true
	}
	_, ok := s.reserved[id]
	return ok
}

func (s *GroupStore) insert(id, label string, face types.Face) {
	face.GroupID = id
	s.groups[id] = &Group{
		ID:             id,
		Label:          label,
		Faces:          []types.Face{face},
		Representative: face.Embedding,
	}
	s.order = append(s.order, id)
}

// AppendFace adds face to the end of a group. The representative is not changed.
func (s *GroupStore) AppendFace(groupID string, face types.Face) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, groupID)
	}
	face.GroupID = groupID
	g.Faces = append(g.Faces, face)
	return nil
}

// Relabel replaces a group's label. Any string is accepted, including "".
func (s *GroupStore) Relabel(groupID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, groupID)
	}
	g.Label = label
	return nil
}

// Merge moves every face of source to the end of target and deletes source.
// Target keeps its label and representative. Nothing changes on error.
func (s *GroupStore) Merge(sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: cannot merge group %q into itself", ErrInvalidOperation, sourceID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.groups[sourceID]
	if !ok {
		return fmt.Errorf("%w: source %q", ErrNotFound, sourceID)
	}
	dst, ok := s.groups[targetID]
	if !ok {
		return fmt.Errorf("%w: target %q", ErrNotFound, targetID)
	}

	for _, f := range src.Faces {
		f.GroupID = targetID
		dst.Faces = append(dst.Faces, f)
	}
	delete(s.groups, sourceID)
	for i, id := range s.order {
		if id == sourceID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Rekey moves a group under a different id and label, keeping its faces and position.
// A non-nil rep replaces the representative.
func (s *GroupStore) Rekey(oldID, newID, label string, rep types.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[oldID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, oldID)
	}
	if _, ok := s.groups[newID]; ok {
		return fmt.Errorf("%w: group %q already exists", ErrInvalidOperation, newID)
	}

	g.ID = newID
	g.Label = label
	if rep != nil {
		g.Representative = rep.Clone()
	}
	for i := range g.Faces {
		g.Faces[i].GroupID = newID
	}
	delete(s.groups, oldID)
	s.groups[newID] = g
	for i, id := range s.order {
		if id == oldID {
			s.order[i] = newID
			break
		}
	}
	return nil
}

// Get returns a copy of one group.
func (s *GroupStore) Get(groupID string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[groupID]
	if !ok {
		return Group{}, fmt.Errorf("%w: %q", ErrNotFound, groupID)
	}
	return g.clone(), nil
}

// Has reports whether a group exists.
func (s *GroupStore) Has(groupID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID]
	return ok
}

// ListGroups returns a point-in-time copy of all groups in creation order.
func (s *GroupStore) ListGroups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Group, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.groups[id].clone())
	}
	return out
}

// Len returns the number of groups.
func (s *GroupStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Records returns one persistence record per group, in creation order.
func (s *GroupStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		g := s.groups[id]
		out = append(out, Record{ID: g.ID, Label: g.Label, Descriptor: g.Representative.Clone()})
	}
	return out
}

// candidates returns the matching candidates in creation order without copying
// embeddings. Embeddings are never mutated in place, so sharing them is safe.
func (s *GroupStore) candidates(all bool) []candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]candidate, 0, len(s.order))
	for _, id := range s.order {
		g := s.groups[id]
		c := candidate{id: id, embeddings: []types.Embedding{g.Representative}}
		if all {
			c.embeddings = make([]types.Embedding, len(g.Faces))
			for i, f := range g.Faces {
				c.embeddings[i] = f.Embedding
			}
		}
		out = append(out, c)
	}
	return out
}

type candidate struct {
	id         string
	embeddings []types.Embedding
}
