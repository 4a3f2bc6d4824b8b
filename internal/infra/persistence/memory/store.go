// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Round aliases domain.Round for in-memory persistence operations.
	Round = domain.Round
	// EvaluationAnswer aliases domain.EvaluationAnswer.
	EvaluationAnswer = domain.EvaluationAnswer
	// Category aliases domain.Category.
	Category = domain.Category
	// Item aliases domain.Item.
	Item = domain.Item
	// Capa aliases domain.Capa.
	Capa = domain.Capa
	// Action aliases domain.Action.
	Action = domain.Action
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	rounds     map[string]Round
	answers    map[string][]EvaluationAnswer
	categories map[string]Category
	items      map[string]Item
	capas      map[string]Capa
	actions    map[string]Action
}

// Snapshot captures a point-in-time clone of the store state. Answers are
// keyed by round ID and kept in insertion order.
type Snapshot struct {
	Rounds     map[string]Round              `json:"rounds"`
	Answers    map[string][]EvaluationAnswer `json:"answers"`
	Categories map[string]Category           `json:"categories"`
	Items      map[string]Item               `json:"items"`
	Capas      map[string]Capa               `json:"capas"`
	Actions    map[string]Action             `json:"actions"`
}

// Bucket names used by snapshotting backends.
const (
	BucketRounds     = "rounds"
	BucketAnswers    = "answers"
	BucketCategories = "categories"
	BucketItems      = "items"
	BucketCapas      = "capas"
	BucketActions    = "actions"
)

// Buckets lists every snapshot bucket in persistence order.
var Buckets = []string{BucketRounds, BucketAnswers, BucketCategories, BucketItems, BucketCapas, BucketActions}

func (s *Snapshot) bucketTarget(bucket string) (any, bool) {
	switch bucket {
	case BucketRounds:
		return &s.Rounds, true
	case BucketAnswers:
		return &s.Answers, true
	case BucketCategories:
		return &s.Categories, true
	case BucketItems:
		return &s.Items, true
	case BucketCapas:
		return &s.Capas, true
	case BucketActions:
		return &s.Actions, true
	}
	return nil, false
}

// EncodeBucket marshals one bucket of the snapshot as JSON.
func (s Snapshot) EncodeBucket(bucket string) ([]byte, error) {
	target, ok := s.bucketTarget(bucket)
	if !ok {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	return json.Marshal(target)
}

// DecodeBucket unmarshals a JSON payload into the named bucket. Unknown
// buckets are ignored so older tables can be read by newer builds.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	target, ok := s.bucketTarget(bucket)
	if !ok || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func newMemoryState() memoryState {
	return memoryState{
		rounds:     make(map[string]Round),
		answers:    make(map[string][]EvaluationAnswer),
		categories: make(map[string]Category),
		items:      make(map[string]Item),
		capas:      make(map[string]Capa),
		actions:    make(map[string]Action),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	return Snapshot{
		Rounds:     cloned.rounds,
		Answers:    cloned.answers,
		Categories: cloned.categories,
		Items:      cloned.items,
		Capas:      cloned.capas,
		Actions:    cloned.actions,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		rounds:     s.Rounds,
		answers:    s.Answers,
		categories: s.Categories,
		items:      s.Items,
		capas:      s.Capas,
		actions:    s.Actions,
	}.clone()
}

// migrateSnapshot fills missing buckets and drops records whose owner no
// longer exists.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Rounds == nil {
		snapshot.Rounds = map[string]Round{}
	}
	if snapshot.Answers == nil {
		snapshot.Answers = map[string][]EvaluationAnswer{}
	}
	if snapshot.Categories == nil {
		snapshot.Categories = map[string]Category{}
	}
	if snapshot.Items == nil {
		snapshot.Items = map[string]Item{}
	}
	if snapshot.Capas == nil {
		snapshot.Capas = map[string]Capa{}
	}
	if snapshot.Actions == nil {
		snapshot.Actions = map[string]Action{}
	}
	for roundID := range snapshot.Answers {
		if _, ok := snapshot.Rounds[roundID]; !ok {
			delete(snapshot.Answers, roundID)
		}
	}
	for id, action := range snapshot.Actions {
		if _, ok := snapshot.Capas[action.CapaID]; !ok {
			delete(snapshot.Actions, id)
		}
	}
	for id, capa := range snapshot.Capas {
		if capa.VerificationStatus == "" {
			capa.VerificationStatus = domain.VerificationPending
		}
		if capa.EscalationLevel > domain.MaxEscalationLevel {
			capa.EscalationLevel = domain.MaxEscalationLevel
		}
		snapshot.Capas[id] = capa
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.rounds {
		cloned.rounds[k] = cloneRound(v)
	}
	for k, v := range s.answers {
		cloned.answers[k] = append([]EvaluationAnswer(nil), v...)
	}
	for k, v := range s.categories {
		cloned.categories[k] = cloneCategory(v)
	}
	for k, v := range s.items {
		cloned.items[k] = v
	}
	for k, v := range s.capas {
		cloned.capas[k] = cloneCapa(v)
	}
	for k, v := range s.actions {
		cloned.actions[k] = cloneAction(v)
	}
	return cloned
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func cloneRound(r Round) Round {
	cp := r
	cp.CategoryIDs = append([]string(nil), r.CategoryIDs...)
	cp.Evaluators = append([]string(nil), r.Evaluators...)
	cp.CategoryScores = append([]domain.CategoryScore(nil), r.CategoryScores...)
	cp.Deadline = cloneTime(r.Deadline)
	cp.DerivedEndDate = cloneTime(r.DerivedEndDate)
	cp.LastEvaluatedAt = cloneTime(r.LastEvaluatedAt)
	cp.FinalizedAt = cloneTime(r.FinalizedAt)
	return cp
}

func cloneCategory(c Category) Category {
	cp := c
	cp.Items = append([]domain.CategoryItem(nil), c.Items...)
	return cp
}

func cloneCapa(c Capa) Capa {
	cp := c
	cp.RoundID = cloneString(c.RoundID)
	cp.ItemID = cloneString(c.ItemID)
	cp.AnswerID = cloneString(c.AnswerID)
	cp.AssignedToID = cloneString(c.AssignedToID)
	cp.LastEscalatedOn = cloneTime(c.LastEscalatedOn)
	cp.EscalationResetAt = cloneTime(c.EscalationResetAt)
	cp.ClosedAt = cloneTime(c.ClosedAt)
	cp.VerifiedAt = cloneTime(c.VerifiedAt)
	cp.History = append([]domain.CapaHistoryEntry(nil), c.History...)
	return cp
}

func cloneAction(a Action) Action {
	cp := a
	cp.DueDate = cloneTime(a.DueDate)
	cp.CompletedAt = cloneTime(a.CompletedAt)
	cp.EvidenceKeys = append([]string(nil), a.EvidenceKeys...)
	return cp
}

func sortByCreated[T any](out []T, base func(T) domain.Base) {
	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := base(out[i]), base(out[j])
		if !bi.CreatedAt.Equal(bj.CreatedAt) {
			return bi.CreatedAt.Before(bj.CreatedAt)
		}
		return bi.ID < bj.ID
	})
}

func sortActions(out []Action) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the clock used to stamp CreatedAt/UpdatedAt.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListRounds() []Round { return listRounds(v.state) }

func (v transactionView) FindRound(id string) (Round, bool) { return findRound(v.state, id) }

func (v transactionView) ListCapas() []Capa { return listCapas(v.state) }

func (v transactionView) FindCapa(id string) (Capa, bool) { return findCapa(v.state, id) }

func (v transactionView) ListActions(capaID string) []Action { return listActions(v.state, capaID) }

func (v transactionView) FindAction(id string) (Action, bool) {
	a, ok := v.state.actions[id]
	if !ok {
		return Action{}, false
	}
	return cloneAction(a), true
}

func (v transactionView) FindItem(id string) (Item, bool) {
	i, ok := v.state.items[id]
	return i, ok
}

func (v transactionView) ListItems() []Item { return listItems(v.state) }

func (v transactionView) ListCategories() []Category { return listCategories(v.state) }

func (v transactionView) FindCategory(id string) (Category, bool) {
	c, ok := v.state.categories[id]
	if !ok {
		return Category{}, false
	}
	return cloneCategory(c), true
}

func (v transactionView) ListAnswers(roundID string) []EvaluationAnswer {
	return append([]EvaluationAnswer(nil), v.state.answers[roundID]...)
}

func listRounds(state *memoryState) []Round {
	out := make([]Round, 0, len(state.rounds))
	for _, r := range state.rounds {
		out = append(out, cloneRound(r))
	}
	sortByCreated(out, func(r Round) domain.Base { return r.Base })
	return out
}

func findRound(state *memoryState, id string) (Round, bool) {
	r, ok := state.rounds[id]
	if !ok {
		return Round{}, false
	}
	return cloneRound(r), true
}

func listCapas(state *memoryState) []Capa {
	out := make([]Capa, 0, len(state.capas))
	for _, c := range state.capas {
		out = append(out, cloneCapa(c))
	}
	sortByCreated(out, func(c Capa) domain.Base { return c.Base })
	return out
}

func findCapa(state *memoryState, id string) (Capa, bool) {
	c, ok := state.capas[id]
	if !ok {
		return Capa{}, false
	}
	return cloneCapa(c), true
}

func listActions(state *memoryState, capaID string) []Action {
	var out []Action
	for _, a := range state.actions {
		if a.CapaID == capaID {
			out = append(out, cloneAction(a))
		}
	}
	sortActions(out)
	return out
}

func listItems(state *memoryState) []Item {
	out := make([]Item, 0, len(state.items))
	for _, i := range state.items {
		out = append(out, i)
	}
	sortByCreated(out, func(i Item) domain.Base { return i.Base })
	return out
}

func listCategories(state *memoryState) []Category {
	out := make([]Category, 0, len(state.categories))
	for _, c := range state.categories {
		out = append(out, cloneCategory(c))
	}
	sortByCreated(out, func(c Category) domain.Base { return c.Base })
	return out
}

// CommitHook persists the state a transaction is about to publish. It runs
// under the store's write lock; an error aborts the commit.
type CommitHook func(ctx context.Context, next Snapshot) error

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces committed state only when fn succeeds and no blocking rule
// violation is reported.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunInTransactionWithCommit(ctx, fn, nil)
}

// RunInTransactionWithCommit is RunInTransaction with an extra commit gate:
// the new state is published only after hook accepts it. Backends that mirror
// state into a database use it so a failed write leaves the store unchanged.
func (s *Store) RunInTransactionWithCommit(ctx context.Context, fn func(tx Transaction) error, hook CommitHook) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if hook != nil {
		if err := hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

func (tx *transaction) FindRound(id string) (Round, bool) { return findRound(&tx.state, id) }

func (tx *transaction) FindCapa(id string) (Capa, bool) { return findCapa(&tx.state, id) }

func (tx *transaction) FindAction(id string) (Action, bool) {
	return newTransactionView(&tx.state).FindAction(id)
}

// CreateCategory stores a new checklist category.
func (tx *transaction) CreateCategory(c Category) (Category, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.categories[c.ID]; exists {
		return Category{}, fmt.Errorf("category %q already exists", c.ID)
	}
	for _, ci := range c.Items {
		if _, ok := tx.state.items[ci.ItemID]; !ok {
			return Category{}, domain.NotFoundError{Entity: domain.EntityItem, ID: ci.ItemID}
		}
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.categories[c.ID] = cloneCategory(c)
	tx.recordChange(Change{Entity: domain.EntityCategory, Action: domain.ChangeCreate, After: cloneCategory(c)})
	return cloneCategory(c), nil
}

// UpdateCategory mutates a category using the provided mutator function.
func (tx *transaction) UpdateCategory(id string, mutator func(*Category) error) (Category, error) {
	current, ok := tx.state.categories[id]
	if !ok {
		return Category{}, domain.NotFoundError{Entity: domain.EntityCategory, ID: id}
	}
	before := cloneCategory(current)
	if err := mutator(&current); err != nil {
		return Category{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.categories[id] = cloneCategory(current)
	tx.recordChange(Change{Entity: domain.EntityCategory, Action: domain.ChangeUpdate, Before: before, After: cloneCategory(current)})
	return cloneCategory(current), nil
}

// CreateItem stores a new checklist item.
func (tx *transaction) CreateItem(i Item) (Item, error) {
	if i.ID == "" {
		i.ID = tx.store.newID()
	}
	if _, exists := tx.state.items[i.ID]; exists {
		return Item{}, fmt.Errorf("item %q already exists", i.ID)
	}
	i.CreatedAt = tx.now
	i.UpdatedAt = tx.now
	tx.state.items[i.ID] = i
	tx.recordChange(Change{Entity: domain.EntityItem, Action: domain.ChangeCreate, After: i})
	return i, nil
}

// CreateRound stores a new round.
func (tx *transaction) CreateRound(r Round) (Round, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.rounds[r.ID]; exists {
		return Round{}, fmt.Errorf("round %q already exists", r.ID)
	}
	for _, id := range r.CategoryIDs {
		if _, ok := tx.state.categories[id]; !ok {
			return Round{}, domain.NotFoundError{Entity: domain.EntityCategory, ID: id}
		}
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.rounds[r.ID] = cloneRound(r)
	tx.recordChange(Change{Entity: domain.EntityRound, Action: domain.ChangeCreate, After: cloneRound(r)})
	return cloneRound(r), nil
}

// UpdateRound mutates a round using the provided mutator function.
func (tx *transaction) UpdateRound(id string, mutator func(*Round) error) (Round, error) {
	current, ok := tx.state.rounds[id]
	if !ok {
		return Round{}, domain.NotFoundError{Entity: domain.EntityRound, ID: id}
	}
	before := cloneRound(current)
	if err := mutator(&current); err != nil {
		return Round{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.rounds[id] = cloneRound(current)
	tx.recordChange(Change{Entity: domain.EntityRound, Action: domain.ChangeUpdate, Before: before, After: cloneRound(current)})
	return cloneRound(current), nil
}

// DeleteRound removes a round and its answers. Rounds still referenced by a
// CAPA cannot be deleted.
func (tx *transaction) DeleteRound(id string) error {
	current, ok := tx.state.rounds[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityRound, ID: id}
	}
	for _, capa := range tx.state.capas {
		if capa.RoundID != nil && *capa.RoundID == id {
			return fmt.Errorf("round %q still referenced by capa %q", id, capa.ID)
		}
	}
	delete(tx.state.rounds, id)
	delete(tx.state.answers, id)
	tx.recordChange(Change{Entity: domain.EntityRound, Action: domain.ChangeDelete, Before: cloneRound(current)})
	return nil
}

// AppendAnswers appends answers to a round. Existing answers are never
// rewritten; a later pass supersedes an earlier one at read time.
func (tx *transaction) AppendAnswers(roundID string, answers []EvaluationAnswer) ([]EvaluationAnswer, error) {
	if _, ok := tx.state.rounds[roundID]; !ok {
		return nil, domain.NotFoundError{Entity: domain.EntityRound, ID: roundID}
	}
	out := make([]EvaluationAnswer, 0, len(answers))
	for _, a := range answers {
		if a.ID == "" {
			a.ID = tx.store.newID()
		}
		a.RoundID = roundID
		a.CreatedAt = tx.now
		a.UpdatedAt = tx.now
		tx.state.answers[roundID] = append(tx.state.answers[roundID], a)
		tx.recordChange(Change{Entity: domain.EntityAnswer, Action: domain.ChangeCreate, After: a})
		out = append(out, a)
	}
	return out, nil
}

// CreateCapa stores a new CAPA.
func (tx *transaction) CreateCapa(c Capa) (Capa, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.capas[c.ID]; exists {
		return Capa{}, fmt.Errorf("capa %q already exists", c.ID)
	}
	if c.RoundID != nil {
		if _, ok := tx.state.rounds[*c.RoundID]; !ok {
			return Capa{}, domain.NotFoundError{Entity: domain.EntityRound, ID: *c.RoundID}
		}
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.capas[c.ID] = cloneCapa(c)
	tx.recordChange(Change{Entity: domain.EntityCapa, Action: domain.ChangeCreate, After: cloneCapa(c)})
	return cloneCapa(c), nil
}

// UpdateCapa mutates a CAPA using the provided mutator function.
func (tx *transaction) UpdateCapa(id string, mutator func(*Capa) error) (Capa, error) {
	current, ok := tx.state.capas[id]
	if !ok {
		return Capa{}, domain.NotFoundError{Entity: domain.EntityCapa, ID: id}
	}
	before := cloneCapa(current)
	if err := mutator(&current); err != nil {
		return Capa{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.capas[id] = cloneCapa(current)
	tx.recordChange(Change{Entity: domain.EntityCapa, Action: domain.ChangeUpdate, Before: before, After: cloneCapa(current)})
	return cloneCapa(current), nil
}

// UpdateAction mutates an action ledger entry.
func (tx *transaction) UpdateAction(id string, mutator func(*Action) error) (Action, error) {
	current, ok := tx.state.actions[id]
	if !ok {
		return Action{}, domain.NotFoundError{Entity: domain.EntityAction, ID: id}
	}
	before := cloneAction(current)
	if err := mutator(&current); err != nil {
		return Action{}, err
	}
	current.ID = id
	current.CapaID = before.CapaID
	current.UpdatedAt = tx.now
	tx.state.actions[id] = cloneAction(current)
	tx.recordChange(Change{Entity: domain.EntityAction, Action: domain.ChangeUpdate, Before: before, After: cloneAction(current)})
	return cloneAction(current), nil
}

// ReplaceActions deletes every action of the CAPA and inserts the supplied set.
func (tx *transaction) ReplaceActions(capaID string, actions []Action) ([]Action, error) {
	if _, ok := tx.state.capas[capaID]; !ok {
		return nil, domain.NotFoundError{Entity: domain.EntityCapa, ID: capaID}
	}
	for id, existing := range tx.state.actions {
		if existing.CapaID != capaID {
			continue
		}
		delete(tx.state.actions, id)
		tx.recordChange(Change{Entity: domain.EntityAction, Action: domain.ChangeDelete, Before: cloneAction(existing)})
	}
	out := make([]Action, 0, len(actions))
	for i, a := range actions {
		if a.ID == "" {
			a.ID = tx.store.newID()
		}
		if _, exists := tx.state.actions[a.ID]; exists {
			return nil, fmt.Errorf("action %q already exists", a.ID)
		}
		a.CapaID = capaID
		a.Position = i
		if a.CreatedAt.IsZero() {
			a.CreatedAt = tx.now
		}
		a.UpdatedAt = tx.now
		tx.state.actions[a.ID] = cloneAction(a)
		tx.recordChange(Change{Entity: domain.EntityAction, Action: domain.ChangeCreate, After: cloneAction(a)})
		out = append(out, cloneAction(a))
	}
	return out, nil
}

// Read helpers ---------------------------------------------------------------

// GetRound retrieves a round by ID from committed state.
func (s *Store) GetRound(id string) (Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findRound(&s.state, id)
}

// ListRounds returns all rounds ordered by creation time.
func (s *Store) ListRounds() []Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRounds(&s.state)
}

// GetCapa retrieves a CAPA by ID from committed state.
func (s *Store) GetCapa(id string) (Capa, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findCapa(&s.state, id)
}

// ListCapas returns all CAPAs ordered by creation time.
func (s *Store) ListCapas() []Capa {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCapas(&s.state)
}

// ListActions returns the CAPA's action ledger ordered by position.
func (s *Store) ListActions(capaID string) []Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listActions(&s.state, capaID)
}

// ListAnswers returns every answer recorded for the round in insertion order.
func (s *Store) ListAnswers(roundID string) []EvaluationAnswer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]EvaluationAnswer(nil), s.state.answers[roundID]...)
}

// ListCategories returns all categories.
func (s *Store) ListCategories() []Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listCategories(&s.state)
}

// ListItems returns all checklist items.
func (s *Store) ListItems() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listItems(&s.state)
}
