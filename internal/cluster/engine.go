package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/aibum/internal/logger"
	"github.com/andresmejia3/aibum/internal/types"
	"github.com/google/uuid"
)

// Persister is the durable store person groups are restored from and saved to.
type Persister interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// MatchPolicy selects what an incoming face is compared against within an in-session group.
type MatchPolicy int

const (
	// MatchRepresentative compares against the group's first face only: O(groups) per face.
	MatchRepresentative MatchPolicy = iota
	// MatchAnyMember compares against every member and matches if any is close enough.
	MatchAnyMember
)

// ParseMatchPolicy maps "representative" / "any-member" to a MatchPolicy.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch s {
	case "", "representative":
		return MatchRepresentative, nil
	case "any-member", "any":
		return MatchAnyMember, nil
	}
	return 0, fmt.Errorf("%w: unknown match policy %q", ErrInvalidInput, s)
}

func (p MatchPolicy) String() string {
	if p == MatchAnyMember {
		return "any-member"
	}
	return "representative"
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Threshold   float64 // default DefaultThreshold
	Dimension   int     // 0 infers the length from the first record or face
	MatchPolicy MatchPolicy
	Logger      *logger.Logger
}

// Engine assigns faces to person groups.
//
// Matching is greedy and append-only: a face joins the first group closer than the
// threshold (restored persons first, in persisted order, then in-session groups in
// creation order) and past assignments are never revisited. An early poor match is
// therefore never corrected by later faces.
type Engine struct {
	mu        sync.Mutex
	groups    *GroupStore
	persister Persister
	known     []Record
	merged    map[string]string
	anchored  map[string]struct{} // restored persons that received a merge keep their stored descriptor
	threshold float64
	dim       int
	policy    MatchPolicy
	log       *logger.Logger
}

// NewEngine creates an engine over groups with no persisted state.
func NewEngine(groups *GroupStore, opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Engine{
		groups:    groups,
		merged:    make(map[string]string),
		anchored:  make(map[string]struct{}),
		threshold: opts.Threshold,
		dim:       opts.Dimension,
		policy:    opts.MatchPolicy,
		log:       opts.Logger.WithField("component", "cluster"),
	}
}

// Open creates an engine and seeds cross-session matching from p. Load is called exactly once.
func Open(ctx context.Context, groups *GroupStore, p Persister, opts Options) (*Engine, error) {
	e := NewEngine(groups, opts)
	e.persister = p
	if p == nil {
		return e, nil
	}

	records, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	if err := checkRecords(records); err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	if len(records) > 0 {
		if e.dim == 0 {
			e.dim = len(records[0].Descriptor)
		} else if len(records[0].Descriptor) != e.dim {
			return nil, fmt.Errorf("load groups: %w: persisted descriptors are %d-d, engine expects %d-d",
				ErrInvalidInput, len(records[0].Descriptor), e.dim)
		}
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	groups.Reserve(ids...)
	e.known = records

	e.log.WithFields(logger.Fields{"records": len(records), "dim": e.dim}).Info("Restored person groups")
	return e, nil
}

// Threshold returns the match threshold in use.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// ProcessFace assigns one face to a group and returns the group id.
func (e *Engine) ProcessFace(ctx context.Context, face types.Face) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assign(face)
}

// ProcessBatch assigns faces in order, exactly as repeated ProcessFace calls would.
// The result has one entry per face; rejected faces get "" and a *FaceError for each
// is joined into the returned error. Cancellation stops before the next face.
func (e *Engine) ProcessBatch(ctx context.Context, faces []types.Face) ([]string, error) {
	ids := make([]string, len(faces))
	var errs []error
	for i, f := range faces {
		if err := ctx.Err(); err != nil {
			return ids, errors.Join(append(errs, err)...)
		}
		id, err := e.ProcessFace(ctx, f)
		if err != nil {
			errs = append(errs, &FaceError{Index: i, Err: err})
			continue
		}
		ids[i] = id
	}
	return ids, errors.Join(errs...)
}

func (e *Engine) assign(face types.Face) (string, error) {
	if err := Validate(face.Embedding, e.dim); err != nil {
		return "", err
	}
	face.Embedding = face.Embedding.Clone()
	if face.ID == "" {
		face.ID = uuid.NewString()
	}
	if face.CreatedAt.IsZero() {
		face.CreatedAt = time.Now()
	}
	if e.dim == 0 {
		e.dim = len(face.Embedding)
	}

	m, ok, err := e.match(face.Embedding)
	if err != nil {
		return "", err
	}
	switch {
	case !ok:
		// Nobody matched: a new person.
		id := e.groups.CreateGroup(face)
		e.log.WithFields(logger.Fields{"group": id, "face": face.ID}).Debug("Created person group")
		return id, nil
	case e.groups.Has(m.GroupID):
		if err := e.groups.AppendFace(m.GroupID, face); err != nil {
			return "", err
		}
	default:
		if err := e.groups.Materialize(m.GroupID, e.knownLabel(m.GroupID), face, e.anchor(m.GroupID)); err != nil {
			return "", err
		}
		e.log.WithFields(logger.Fields{"group": m.GroupID, "distance": m.Distance}).Debug("Rejoined persisted person")
	}
	return m.GroupID, nil
}

// Match describes the group a face would join.
type Match struct {
	GroupID   string
	Label     string
	Distance  float64
	Persisted bool // matched a person restored from storage
}

// Match reports the group a face would join without assigning it. ok is false when
// the face would start a new group.
func (e *Engine) Match(ctx context.Context, emb types.Embedding) (Match, bool, error) {
	if err := ctx.Err(); err != nil {
		return Match{}, false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := Validate(emb, e.dim); err != nil {
		return Match{}, false, err
	}
	m, ok, err := e.match(emb)
	if err != nil || !ok {
		return Match{}, false, err
	}
	if g, err := e.groups.Get(m.GroupID); err == nil {
		m.Label = g.Label
	} else {
		m.Label = e.knownLabel(m.GroupID)
	}
	return m, true, nil
}

func (e *Engine) match(emb types.Embedding) (Match, bool, error) {
	// 1. People persisted by earlier sessions.
	for _, r := range e.known {
		d, err := Distance(emb, r.Descriptor)
		if err != nil {
			return Match{}, false, err
		}
		if d < e.threshold {
			return Match{GroupID: e.resolve(r.ID), Distance: d, Persisted: true}, true, nil
		}
	}

	// 2. In-session groups, first match wins.
	for _, c := range e.groups.candidates(e.policy == MatchAnyMember) {
		for _, ce := range c.embeddings {
			d, err := Distance(emb, ce)
			if err != nil {
				return Match{}, false, err
			}
			if d < e.threshold {
				return Match{GroupID: c.id, Distance: d}, true, nil
			}
		}
	}
	return Match{}, false, nil
}

// resolve follows merges of restored persons to the surviving group id.
func (e *Engine) resolve(id string) string {
	for i := 0; i <= len(e.merged); i++ {
		next, ok := e.merged[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

func (e *Engine) knownIndex(id string) int {
	if _, gone := e.merged[id]; gone {
		return -1
	}
	for i, r := range e.known {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) knownLabel(id string) string {
	if i := e.knownIndex(id); i >= 0 {
		return e.known[i].Label
	}
	return id
}

// anchor returns the stored descriptor of a restored person that was a merge target,
// or nil when the group's own first face should represent it.
func (e *Engine) anchor(id string) types.Embedding {
	if _, ok := e.anchored[id]; !ok {
		return nil
	}
	if i := e.knownIndex(id); i >= 0 {
		return e.known[i].Descriptor
	}
	return nil
}

func (e *Engine) exists(id string) bool {
	return e.groups.Has(id) || e.knownIndex(id) >= 0
}

// Relabel renames a group (in-session, or persisted but not yet seen this session) and saves.
func (e *Engine) Relabel(ctx context.Context, groupID, label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.groups.Has(groupID):
		if err := e.groups.Relabel(groupID, label); err != nil {
			return err
		}
	case e.knownIndex(groupID) >= 0:
		e.known[e.knownIndex(groupID)].Label = label
	default:
		return fmt.Errorf("%w: %q", ErrNotFound, groupID)
	}

	e.log.WithFields(logger.Fields{"group": groupID, "label": label}).Info("Relabeled person group")
	return e.save(ctx)
}

// Merge moves all faces of source into target, deletes source and saves.
func (e *Engine) Merge(ctx context.Context, sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: cannot merge group %q into itself", ErrInvalidOperation, sourceID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.exists(sourceID) {
		return fmt.Errorf("%w: source %q", ErrNotFound, sourceID)
	}
	if !e.exists(targetID) {
		return fmt.Errorf("%w: target %q", ErrNotFound, targetID)
	}

	// A restored target with no faces this session keeps its stored descriptor as the representative.
	var rep types.Embedding
	restored := !e.groups.Has(targetID)
	if restored {
		rep = e.known[e.knownIndex(targetID)].Descriptor
	}

	switch {
	case e.groups.Has(sourceID) && e.groups.Has(targetID):
		if err := e.groups.Merge(sourceID, targetID); err != nil {
			return err
		}
	case e.groups.Has(sourceID):
		if err := e.groups.Rekey(sourceID, targetID, e.knownLabel(targetID), rep); err != nil {
			return err
		}
	}
	e.merged[sourceID] = targetID
	delete(e.anchored, sourceID)
	if restored {
		e.anchored[targetID] = struct{}{}
	}

	e.log.WithFields(logger.Fields{"source": sourceID, "target": targetID}).Info("Merged person groups")
	return e.save(ctx)
}

// ListGroups returns a snapshot of the in-session groups in creation order.
func (e *Engine) ListGroups() []Group {
	return e.groups.ListGroups()
}

// Group returns a snapshot of one in-session group.
func (e *Engine) Group(id string) (Group, error) {
	return e.groups.Get(id)
}

// Records returns what Save would write: persisted persons in their stored order
// (with in-session changes applied) followed by groups first seen this session.
func (e *Engine) Records() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.records()
}

func (e *Engine) records() []Record {
	session := e.groups.Records()
	byID := make(map[string]Record, len(session))
	for _, r := range session {
		byID[r.ID] = r
	}

	out := make([]Record, 0, len(e.known)+len(session))
	seen := make(map[string]struct{}, len(e.known))
	for _, r := range e.known {
		if _, gone := e.merged[r.ID]; gone {
			continue
		}
		seen[r.ID] = struct{}{}
		if s, ok := byID[r.ID]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, Record{ID: r.ID, Label: r.Label, Descriptor: r.Descriptor.Clone()})
	}
	for _, r := range session {
		if _, ok := seen[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// Save writes the current records to the persister, if any.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.save(ctx)
}

func (e *Engine) save(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}
	records := e.records()
	if err := e.persister.Save(ctx, records); err != nil {
		e.log.WithError(err).Error("Failed to save person groups")
		return fmt.Errorf("save groups: %w", err)
	}
	e.log.WithField("records", len(records)).Debug("Saved person groups")
	return nil
}
