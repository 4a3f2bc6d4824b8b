package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/salehzaid/slamaty-sub000/internal/evidence"
	"github.com/salehzaid/slamaty-sub000/internal/infra/persistence/memory"
	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock    Clock
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	notifier Notifier
	evidence evidence.Store
	policy   Policy
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:   noopLogger{},
		audit:    noopAuditRecorder{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		notifier: noopNotifier{},
		policy:   DefaultPolicy(),
	}
}

// WithClock injects the time source. Stores that accept a now function are
// switched to the same clock so record timestamps agree.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithNotifier sets the receiver of domain events.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(o *serviceOptions) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// WithEvidenceStore enables evidence attachments.
func WithEvidenceStore(store evidence.Store) ServiceOption {
	return func(o *serviceOptions) {
		o.evidence = store
	}
}

// WithPolicy overrides the default scheduling, SLA and reminder policy.
func WithPolicy(policy Policy) ServiceOption {
	return func(o *serviceOptions) {
		o.policy = policy
	}
}

// Service runs the rounds and CAPA workflows as transactional operations
// over a PersistentStore.
type Service struct {
	store    PersistentStore
	repo     *StoreRepository
	clock    Clock
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	notifier Notifier
	evidence evidence.Store
	policy   Policy
	capas    CapaMachine
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

type nowFuncSetter interface {
	SetNowFunc(func() time.Time)
}

// NewService constructs a service backed by store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	clock := o.clock
	if clock != nil {
		if setter, ok := store.(nowFuncSetter); ok {
			setter.SetNowFunc(clock.Now)
		}
	} else if provider, ok := store.(nowFuncProvider); ok {
		if fn := provider.NowFunc(); fn != nil {
			clock = ClockFunc(fn)
		}
	}
	if clock == nil {
		clock = systemClock()
	}
	return &Service{
		store:    store,
		repo:     NewStoreRepository(store),
		clock:    clock,
		logger:   o.logger,
		audit:    o.audit,
		metrics:  o.metrics,
		tracer:   o.tracer,
		notifier: o.notifier,
		evidence: o.evidence,
		policy:   o.policy,
		capas:    NewCapaMachine(o.policy),
	}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying store.
func (s *Service) Store() PersistentStore { return s.store }

// Repository returns the repository view of the store.
func (s *Service) Repository() Repository { return s.repo }

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

func (s *Service) now() time.Time { return s.clock.Now().UTC() }

// txScope carries per-operation state through a transaction. Events are
// published only after the transaction commits.
type txScope struct {
	now      time.Time
	entityID string
	events   []domain.Event
}

func (sc *txScope) emit(eventType domain.EventType, entity domain.EntityType, id string, payload map[string]any) {
	sc.events = append(sc.events, domain.Event{Type: eventType, Entity: entity, EntityID: id, Payload: payload, OccurredAt: sc.now})
}

func (s *Service) run(ctx context.Context, op string, fn func(tx Transaction, sc *txScope) error) (Result, error) {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	sc := &txScope{now: s.now()}
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return fn(tx, sc)
	})
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	s.recordAudit(ctx, op, sc.entityID, err, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "entity_id", sc.entityID, "error", err)
		return res, err
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", string(v.Severity), "entity_id", v.EntityID, "message", v.Message)
	}
	s.logger.Debug("operation completed", "operation", op, "entity_id", sc.entityID, "duration", duration)
	s.publish(ctx, sc.events)
	return res, nil
}

func (s *Service) publish(ctx context.Context, events []domain.Event) {
	for _, event := range events {
		if err := s.notifier.Notify(ctx, event); err != nil {
			s.logger.Warn("notify failed", "type", string(event.Type), "entity_id", event.EntityID, "error", err)
		}
	}
}

func roundInvalid(id, field, format string, args ...any) error {
	return domain.ValidationError{Entity: domain.EntityRound, ID: id, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Checklist ------------------------------------------------------------------

// CreateItem stores a checklist item. Severity defaults to 3.
func (s *Service) CreateItem(ctx context.Context, item Item) (Item, Result, error) {
	var created Item
	res, err := s.run(ctx, "create_item", func(tx Transaction, sc *txScope) error {
		if item.Title == "" {
			return domain.ValidationError{Entity: domain.EntityItem, ID: item.ID, Field: "title", Reason: "required"}
		}
		if item.Weight < 0 {
			return domain.ValidationError{Entity: domain.EntityItem, ID: item.ID, Field: "weight", Reason: fmt.Sprintf("must be >= 0, got %g", item.Weight)}
		}
		if item.Severity == 0 {
			item.Severity = 3
		}
		if item.Severity < 1 || item.Severity > 5 {
			return domain.ValidationError{Entity: domain.EntityItem, ID: item.ID, Field: "severity", Reason: fmt.Sprintf("must be between 1 and 5, got %d", item.Severity)}
		}
		var err error
		created, err = tx.CreateItem(item)
		sc.entityID = created.ID
		return err
	})
	return created, res, err
}

func validateCategory(c *Category) error {
	invalid := func(field, format string, args ...any) error {
		return domain.ValidationError{Entity: domain.EntityCategory, ID: c.ID, Field: field, Reason: fmt.Sprintf(format, args...)}
	}
	if c.Name == "" {
		return invalid("name", "required")
	}
	if c.WeightPercent < 0 || c.WeightPercent > 100 {
		return invalid("weight_percent", "must be between 0 and 100, got %g", c.WeightPercent)
	}
	seen := make(map[string]bool, len(c.Items))
	for i := range c.Items {
		if seen[c.Items[i].ItemID] {
			return invalid("items", "item %s listed twice", c.Items[i].ItemID)
		}
		seen[c.Items[i].ItemID] = true
		c.Items[i].Position = i
	}
	return nil
}

// CreateCategory stores a category. Item positions follow slice order.
func (s *Service) CreateCategory(ctx context.Context, category Category) (Category, Result, error) {
	var created Category
	res, err := s.run(ctx, "create_category", func(tx Transaction, sc *txScope) error {
		category.Items = append([]domain.CategoryItem(nil), category.Items...)
		if err := validateCategory(&category); err != nil {
			return err
		}
		var err error
		created, err = tx.CreateCategory(category)
		sc.entityID = created.ID
		return err
	})
	return created, res, err
}

// UpdateCategory mutates a category and revalidates it.
func (s *Service) UpdateCategory(ctx context.Context, id string, mutator func(*Category) error) (Category, Result, error) {
	var updated Category
	res, err := s.run(ctx, "update_category", func(tx Transaction, sc *txScope) error {
		sc.entityID = id
		view := tx.Snapshot()
		var err error
		updated, err = tx.UpdateCategory(id, func(c *Category) error {
			if err := mutator(c); err != nil {
				return err
			}
			for _, ci := range c.Items {
				if _, ok := view.FindItem(ci.ItemID); !ok {
					return domain.NotFoundError{Entity: domain.EntityItem, ID: ci.ItemID}
				}
			}
			return validateCategory(c)
		})
		return err
	})
	return updated, res, err
}

// Rounds ---------------------------------------------------------------------

// RoundDraft is the input for scheduling a round.
type RoundDraft struct {
	Title         string
	DepartmentID  string
	CategoryIDs   []string
	ScheduledDate time.Time
	Deadline      *time.Time
	Evaluators    []string
	CreatedBy     string
}

// ScheduleRound creates a round, deriving its end date from the policy when
// no deadline is given and resolving its initial status.
func (s *Service) ScheduleRound(ctx context.Context, draft RoundDraft) (Round, Result, error) {
	var created Round
	res, err := s.run(ctx, "schedule_round", func(tx Transaction, sc *txScope) error {
		if draft.Title == "" {
			return roundInvalid("", "title", "required")
		}
		if draft.ScheduledDate.IsZero() {
			return roundInvalid("", "scheduled_date", "required")
		}
		if len(draft.CategoryIDs) == 0 {
			return roundInvalid("", "category_ids", "at least one category required")
		}
		round := Round{
			Title:         draft.Title,
			DepartmentID:  draft.DepartmentID,
			CategoryIDs:   append([]string(nil), draft.CategoryIDs...),
			ScheduledDate: draft.ScheduledDate.UTC(),
			Evaluators:    append([]string(nil), draft.Evaluators...),
			CreatedBy:     draft.CreatedBy,
			Status:        domain.RoundScheduled,
		}
		if draft.Deadline != nil {
			if draft.Deadline.Before(draft.ScheduledDate) {
				return roundInvalid("", "deadline", "must not be before the scheduled date")
			}
			round.Deadline = timePtr(draft.Deadline.UTC())
		}
		round.DerivedEndDate = DeriveEndDate(round.ScheduledDate, round.Deadline, s.policy.RoundDurationDays)
		round.Status = ResolveRoundStatus(RoundClockFor(round, sc.now))
		var err error
		created, err = tx.CreateRound(round)
		if err != nil {
			return err
		}
		sc.entityID = created.ID
		if created.Status == domain.RoundOverdue {
			sc.emit(domain.EventRoundOverdue, domain.EntityRound, created.ID, map[string]any{"from_status": string(domain.RoundScheduled)})
		}
		return nil
	})
	return created, res, err
}

// AnswerInput is one evaluator answer. An empty status marks the item as not
// yet answered and is dropped.
type AnswerInput struct {
	ItemID      string
	Status      AnswerStatus
	Comment     string
	FlagForCapa bool
}

// EvaluationSubmission is one evaluation pass over a round.
type EvaluationSubmission struct {
	RoundID     string
	EvaluatorID string
	Answers     []AnswerInput
	// Finalize completes the round and opens CAPAs for findings. It requires
	// every checklist item to be answered.
	Finalize bool
}

// EvaluationOutcome reports what a submission changed.
type EvaluationOutcome struct {
	Round   Round
	Answers []EvaluationAnswer
	Scores  ScoreResult
	Capas   []Capa
}

func roundChecklist(view TransactionView, round Round) ([]Item, []Category) {
	categories := make([]Category, 0, len(round.CategoryIDs))
	if len(round.CategoryIDs) == 0 {
		categories = view.ListCategories()
	}
	for _, id := range round.CategoryIDs {
		if c, ok := view.FindCategory(id); ok {
			categories = append(categories, c)
		}
	}
	return view.ListItems(), categories
}

// SubmitEvaluation appends a pass of answers, rescores the round and resolves
// its status. Finalizing additionally completes the round and opens one CAPA
// per non-compliant or flagged finding without an open CAPA.
func (s *Service) SubmitEvaluation(ctx context.Context, sub EvaluationSubmission) (EvaluationOutcome, Result, error) {
	var out EvaluationOutcome
	res, err := s.run(ctx, "submit_evaluation", func(tx Transaction, sc *txScope) error {
		sc.entityID = sub.RoundID
		round, ok := tx.FindRound(sub.RoundID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityRound, ID: sub.RoundID}
		}
		switch {
		case round.Status == domain.RoundCancelled:
			return roundInvalid(round.ID, "status", "round is cancelled")
		case round.Status == domain.RoundOnHold:
			return roundInvalid(round.ID, "status", "round is on hold")
		case round.FinalizedAt != nil:
			return roundInvalid(round.ID, "status", "round was finalized")
		}

		view := tx.Snapshot()
		pass := round.PassCount + 1
		answers := make([]EvaluationAnswer, 0, len(sub.Answers))
		for _, in := range sub.Answers {
			if in.Status == "" {
				continue
			}
			if !in.Status.Valid() {
				return domain.ValidationError{Entity: domain.EntityAnswer, Field: "status", Reason: fmt.Sprintf("unknown status %q for item %s", in.Status, in.ItemID)}
			}
			if _, ok := view.FindItem(in.ItemID); !ok {
				return domain.NotFoundError{Entity: domain.EntityItem, ID: in.ItemID}
			}
			answers = append(answers, EvaluationAnswer{
				ItemID:      in.ItemID,
				Pass:        pass,
				Status:      in.Status,
				Comment:     in.Comment,
				FlagForCapa: in.FlagForCapa,
				EvaluatorID: sub.EvaluatorID,
			})
		}
		stored, err := tx.AppendAnswers(round.ID, answers)
		if err != nil {
			return err
		}
		out.Answers = stored

		items, categories := roundChecklist(view, round)
		all := tx.Snapshot().ListAnswers(round.ID)
		scores := CalculateScores(all, items, categories)
		out.Scores = scores
		if sub.Finalize && scores.CompletionPercent < 100 {
			return roundInvalid(round.ID, "completion_percent", "cannot finalize at %.1f%% completion", scores.CompletionPercent)
		}

		updated, err := tx.UpdateRound(round.ID, func(r *Round) error {
			ApplyScores(r, scores)
			r.PassCount = pass
			r.LastEvaluatedAt = timePtr(sc.now)
			if sub.EvaluatorID != "" && !containsString(r.Evaluators, sub.EvaluatorID) {
				r.Evaluators = append(r.Evaluators, sub.EvaluatorID)
			}
			if sub.Finalize {
				r.FinalizedAt = timePtr(sc.now)
			}
			r.Status = ResolveRoundStatus(RoundClockFor(*r, sc.now))
			return nil
		})
		if err != nil {
			return err
		}
		out.Round = updated
		if !sub.Finalize {
			return nil
		}
		out.Capas, err = s.openFindingCapas(tx, sc, updated, all, items, categories, sub.EvaluatorID)
		return err
	})
	if err == nil {
		for _, w := range out.Scores.Warnings {
			s.logger.Warn("score computation degraded", "round_id", sub.RoundID, "scope", string(w.Scope), "id", w.ID, "reason", w.Reason)
		}
	}
	return out, res, err
}

// findingNeedsCapa reports whether an answer is a finding: not applied, or
// flagged by the evaluator on an applicable item.
func findingNeedsCapa(a EvaluationAnswer) bool {
	if a.Status == domain.AnswerNotApplied {
		return true
	}
	return a.FlagForCapa && a.Status != domain.AnswerNotApplicable
}

func (s *Service) openFindingCapas(tx Transaction, sc *txScope, round Round, answers []EvaluationAnswer, items []Item, categories []Category, actorID string) ([]Capa, error) {
	itemByID := make(map[string]Item, len(items))
	for _, it := range items {
		itemByID[it.ID] = it
	}
	inChecklist := make(map[string]bool)
	for _, c := range categories {
		if !c.Active {
			continue
		}
		for _, m := range c.Items {
			inChecklist[m.ItemID] = true
		}
	}
	open := make(map[string]bool)
	for _, c := range tx.Snapshot().ListCapas() {
		if c.RoundID != nil && *c.RoundID == round.ID && c.ItemID != nil && c.Status != domain.CapaClosed {
			open[*c.ItemID] = true
		}
	}

	valid := make([]EvaluationAnswer, 0, len(answers))
	for _, a := range answers {
		if a.Status.Valid() {
			valid = append(valid, a)
		}
	}
	var created []Capa
	for _, a := range LatestAnswers(valid) {
		if !findingNeedsCapa(a) || !inChecklist[a.ItemID] || open[a.ItemID] {
			continue
		}
		item := itemByID[a.ItemID]
		roundID, itemID, answerID := round.ID, a.ItemID, a.ID
		draft := CapaDraft{
			Title:       fmt.Sprintf("Non-compliance: %s", itemLabel(item)),
			Description: a.Comment,
			RoundID:     &roundID,
			ItemID:      &itemID,
			AnswerID:    &answerID,
			Severity:    item.Severity,
		}
		capa, err := s.capas.NewCapa(draft, TransitionContext{ActorID: actorID, Note: "opened from evaluation finding", At: sc.now})
		if err != nil {
			return nil, err
		}
		capa, err = tx.CreateCapa(capa)
		if err != nil {
			return nil, err
		}
		open[a.ItemID] = true
		created = append(created, capa)
		sc.emit(domain.EventCapaCreated, domain.EntityCapa, capa.ID, map[string]any{
			"round_id": round.ID,
			"item_id":  a.ItemID,
			"severity": capa.Severity,
			"source":   "evaluation",
		})
	}
	return created, nil
}

func itemLabel(item Item) string {
	switch {
	case item.Code != "" && item.Title != "":
		return item.Code + " " + item.Title
	case item.Code != "":
		return item.Code
	case item.Title != "":
		return item.Title
	}
	return item.ID
}

func (s *Service) updateRound(ctx context.Context, op, id string, apply func(r Round, sc *txScope) (Round, error)) (Round, Result, error) {
	var updated Round
	res, err := s.run(ctx, op, func(tx Transaction, sc *txScope) error {
		sc.entityID = id
		current, ok := tx.FindRound(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityRound, ID: id}
		}
		next, err := apply(current, sc)
		if err != nil {
			return err
		}
		if next.Status == domain.RoundOverdue && current.Status != domain.RoundOverdue {
			sc.emit(domain.EventRoundOverdue, domain.EntityRound, id, map[string]any{"from_status": string(current.Status)})
		}
		updated, err = tx.UpdateRound(id, func(r *Round) error {
			*r = next
			return nil
		})
		return err
	})
	return updated, res, err
}

// RefreshRoundStatus re-resolves a round's status against the clock.
func (s *Service) RefreshRoundStatus(ctx context.Context, id string) (Round, Result, error) {
	return s.updateRound(ctx, "refresh_round_status", id, func(r Round, sc *txScope) (Round, error) {
		r.Status = ResolveRoundStatus(RoundClockFor(r, sc.now))
		return r, nil
	})
}

// HoldRound suspends date-driven status changes of an open round.
func (s *Service) HoldRound(ctx context.Context, id string) (Round, Result, error) {
	return s.updateRound(ctx, "hold_round", id, func(r Round, _ *txScope) (Round, error) {
		switch r.Status {
		case domain.RoundScheduled, domain.RoundInProgress, domain.RoundOverdue:
		default:
			return Round{}, roundInvalid(r.ID, "status", "cannot hold %s round", r.Status)
		}
		r.Status = domain.RoundOnHold
		return r, nil
	})
}

// ResumeRound releases a held round and resolves its status again.
func (s *Service) ResumeRound(ctx context.Context, id string) (Round, Result, error) {
	return s.updateRound(ctx, "resume_round", id, func(r Round, sc *txScope) (Round, error) {
		if r.Status != domain.RoundOnHold {
			return Round{}, roundInvalid(r.ID, "status", "cannot resume %s round", r.Status)
		}
		clock := RoundClockFor(r, sc.now)
		clock.Current = domain.RoundScheduled
		r.Status = ResolveRoundStatus(clock)
		return r, nil
	})
}

// CancelRound cancels a round that is not completed.
func (s *Service) CancelRound(ctx context.Context, id string) (Round, Result, error) {
	return s.updateRound(ctx, "cancel_round", id, func(r Round, _ *txScope) (Round, error) {
		if r.Status == domain.RoundCompleted || r.Status == domain.RoundCancelled {
			return Round{}, roundInvalid(r.ID, "status", "cannot cancel %s round", r.Status)
		}
		r.Status = domain.RoundCancelled
		return r, nil
	})
}

// DeleteRound removes a round and its answers. Rounds referenced by a CAPA
// are kept.
func (s *Service) DeleteRound(ctx context.Context, id string) (Result, error) {
	return s.run(ctx, "delete_round", func(tx Transaction, sc *txScope) error {
		sc.entityID = id
		return tx.DeleteRound(id)
	})
}

// CAPAs ----------------------------------------------------------------------

// OpenCapa creates a CAPA manually. Severity defaults to the linked item's.
func (s *Service) OpenCapa(ctx context.Context, draft CapaDraft, actorID string) (Capa, Result, error) {
	var created Capa
	res, err := s.run(ctx, "open_capa", func(tx Transaction, sc *txScope) error {
		view := tx.Snapshot()
		if draft.ItemID != nil {
			item, ok := view.FindItem(*draft.ItemID)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityItem, ID: *draft.ItemID}
			}
			if draft.Severity == 0 {
				draft.Severity = item.Severity
			}
		}
		capa, err := s.capas.NewCapa(draft, TransitionContext{ActorID: actorID, At: sc.now})
		if err != nil {
			return err
		}
		created, err = tx.CreateCapa(capa)
		if err != nil {
			return err
		}
		sc.entityID = created.ID
		payload := map[string]any{"severity": created.Severity, "source": "manual"}
		if created.RoundID != nil {
			payload["round_id"] = *created.RoundID
		}
		sc.emit(domain.EventCapaCreated, domain.EntityCapa, created.ID, payload)
		return nil
	})
	return created, res, err
}

type capaTransition func(c Capa, actions []Action, tc TransitionContext) (Capa, error)

func (s *Service) transitionCapa(ctx context.Context, op, id string, tc TransitionContext, apply capaTransition, events ...domain.EventType) (Capa, Result, error) {
	var updated Capa
	res, err := s.run(ctx, op, func(tx Transaction, sc *txScope) error {
		sc.entityID = id
		current, ok := tx.FindCapa(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityCapa, ID: id}
		}
		tc.At = sc.now
		next, err := apply(current, tx.Snapshot().ListActions(id), tc)
		if err != nil {
			return err
		}
		updated, err = tx.UpdateCapa(id, func(c *Capa) error {
			*c = next
			return nil
		})
		if err != nil {
			return err
		}
		for _, eventType := range events {
			sc.emit(eventType, domain.EntityCapa, id, map[string]any{
				"status":              string(updated.Status),
				"verification_status": string(updated.VerificationStatus),
			})
		}
		return nil
	})
	return updated, res, err
}

// AssignCapa assigns or reassigns an owner.
func (s *Service) AssignCapa(ctx context.Context, id, assigneeID string, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "assign_capa", id, tc, func(c Capa, _ []Action, tc TransitionContext) (Capa, error) {
		return s.capas.Assign(c, assigneeID, tc)
	})
}

// StartCapa moves an assigned CAPA to in_progress.
func (s *Service) StartCapa(ctx context.Context, id string, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "start_capa", id, tc, func(c Capa, _ []Action, tc TransitionContext) (Capa, error) {
		return s.capas.Start(c, tc)
	})
}

// ReworkCapa reopens a rejected CAPA.
func (s *Service) ReworkCapa(ctx context.Context, id string, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "rework_capa", id, tc, func(c Capa, _ []Action, tc TransitionContext) (Capa, error) {
		return s.capas.Rework(c, tc)
	})
}

// ImplementCapa marks the plan implemented.
func (s *Service) ImplementCapa(ctx context.Context, id string, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "implement_capa", id, tc, func(c Capa, _ []Action, tc TransitionContext) (Capa, error) {
		return s.capas.Implement(c, tc)
	})
}

// SubmitCapaForVerification hands the CAPA to reviewers and emits
// verification_required.
func (s *Service) SubmitCapaForVerification(ctx context.Context, id string, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "submit_capa_for_verification", id, tc, func(c Capa, _ []Action, tc TransitionContext) (Capa, error) {
		return s.capas.SubmitForVerification(c, tc)
	}, domain.EventVerificationRequired)
}

// VerifyCapa verifies a CAPA once its required verification actions are
// completed, closing it too when closeNow is set.
func (s *Service) VerifyCapa(ctx context.Context, id string, closeNow bool, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "verify_capa", id, tc, func(c Capa, actions []Action, tc TransitionContext) (Capa, error) {
		return s.capas.Verify(c, actions, closeNow, tc)
	})
}

// CloseCapa closes a verified CAPA.
func (s *Service) CloseCapa(ctx context.Context, id string, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "close_capa", id, tc, func(c Capa, _ []Action, tc TransitionContext) (Capa, error) {
		return s.capas.Close(c, tc)
	})
}

// RejectCapa fails verification.
func (s *Service) RejectCapa(ctx context.Context, id string, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "reject_capa", id, tc, func(c Capa, _ []Action, tc TransitionContext) (Capa, error) {
		return s.capas.Reject(c, tc)
	})
}

// ExtendCapaTarget moves the target date and resets escalation.
func (s *Service) ExtendCapaTarget(ctx context.Context, id string, target time.Time, tc TransitionContext) (Capa, Result, error) {
	return s.transitionCapa(ctx, "extend_capa_target", id, tc, func(c Capa, _ []Action, tc TransitionContext) (Capa, error) {
		return s.capas.ExtendTarget(c, target, tc)
	})
}

// Action ledger --------------------------------------------------------------

func ensureLedgerEditable(c Capa) error {
	if c.Status == domain.CapaVerified || c.Status == domain.CapaClosed {
		return capaInvalid(c, "status", "actions of a %s capa are read-only", c.Status)
	}
	return nil
}

// ReplaceCapaActions swaps the CAPA's whole ledger for plan in one
// transaction and records the change in the CAPA history. Evidence keys of
// entries kept by ID survive the swap.
func (s *Service) ReplaceCapaActions(ctx context.Context, capaID string, plan ActionPlan, tc TransitionContext) ([]Action, Result, error) {
	var replaced []Action
	res, err := s.run(ctx, "replace_capa_actions", func(tx Transaction, sc *txScope) error {
		sc.entityID = capaID
		capa, ok := tx.FindCapa(capaID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityCapa, ID: capaID}
		}
		if err := ensureLedgerEditable(capa); err != nil {
			return err
		}
		normalized, err := NormalizeActionPlan(capaID, plan, sc.now)
		if err != nil {
			return err
		}
		previous := tx.Snapshot().ListActions(capaID)
		evidenceByID := make(map[string][]string, len(previous))
		for _, a := range previous {
			evidenceByID[a.ID] = a.EvidenceKeys
		}
		for i := range normalized {
			if keys, ok := evidenceByID[normalized[i].ID]; ok && normalized[i].ID != "" {
				normalized[i].EvidenceKeys = append([]string(nil), keys...)
			}
		}
		replaced, err = tx.ReplaceActions(capaID, normalized)
		if err != nil {
			return err
		}
		note := fmt.Sprintf("%d -> %d actions", len(previous), len(replaced))
		if patch := ActionsPatchNote(previous, replaced); patch != "" {
			note += "\n" + patch
		}
		if tc.Note != "" {
			note = tc.Note + "\n" + note
		}
		_, err = tx.UpdateCapa(capaID, func(c *Capa) error {
			c.History = append(c.History, domain.CapaHistoryEntry{
				Timestamp:  sc.now,
				ActorID:    tc.ActorID,
				Kind:       domain.HistoryActionsReplaced,
				FromStatus: c.Status,
				ToStatus:   c.Status,
				Note:       note,
			})
			return nil
		})
		return err
	})
	return replaced, res, err
}

// UpdateAction applies a partial update to one ledger entry, leaving the rest
// of the CAPA's ledger untouched.
func (s *Service) UpdateAction(ctx context.Context, actionID string, patch ActionPatch, tc TransitionContext) (Action, Result, error) {
	var updated Action
	res, err := s.run(ctx, "update_action", func(tx Transaction, sc *txScope) error {
		sc.entityID = actionID
		current, ok := tx.FindAction(actionID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityAction, ID: actionID}
		}
		capa, ok := tx.FindCapa(current.CapaID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityCapa, ID: current.CapaID}
		}
		if err := ensureLedgerEditable(capa); err != nil {
			return err
		}
		next, err := ApplyActionPatch(current, patch, tc.ActorID, sc.now)
		if err != nil {
			return err
		}
		updated, err = tx.UpdateAction(actionID, func(a *Action) error {
			*a = next
			return nil
		})
		return err
	})
	return updated, res, err
}

// ErrEvidenceDisabled is returned when no evidence store is configured.
var ErrEvidenceDisabled = errors.New("evidence store not configured")

// AttachEvidence stores a file and links its key to the action. The stored
// file is removed again when the ledger update fails.
func (s *Service) AttachEvidence(ctx context.Context, actionID, name string, body io.Reader, opts evidence.PutOptions, tc TransitionContext) (Action, evidence.Info, Result, error) {
	if s.evidence == nil {
		return Action{}, evidence.Info{}, Result{}, ErrEvidenceDisabled
	}
	name = path.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		return Action{}, evidence.Info{}, Result{}, actionInvalid(actionID, "name", "file name required")
	}
	var capaID string
	if err := s.store.View(ctx, func(v TransactionView) error {
		var err error
		capaID, err = evidenceTarget(v, actionID)
		return err
	}); err != nil {
		return Action{}, evidence.Info{}, Result{}, err
	}
	if opts.Metadata == nil {
		opts.Metadata = map[string]string{}
	}
	opts.Metadata["actor_id"] = tc.ActorID
	// upload outside the store lock; the key is linked in a short transaction
	info, err := s.evidence.Put(ctx, evidence.ActionKey(capaID, actionID, name), body, opts)
	if err != nil {
		return Action{}, evidence.Info{}, Result{}, fmt.Errorf("store evidence: %w", err)
	}
	var updated Action
	res, err := s.run(ctx, "attach_evidence", func(tx Transaction, sc *txScope) error {
		sc.entityID = actionID
		if _, err := evidenceTarget(tx, actionID); err != nil {
			return err
		}
		var err error
		updated, err = tx.UpdateAction(actionID, func(a *Action) error {
			a.EvidenceKeys = append(a.EvidenceKeys, info.Key)
			return nil
		})
		return err
	})
	if err != nil {
		if _, derr := s.evidence.Delete(ctx, info.Key); derr != nil {
			s.logger.Warn("evidence cleanup failed", "key", info.Key, "error", derr)
		}
		return Action{}, evidence.Info{}, res, err
	}
	return updated, info, res, nil
}

type actionLookup interface {
	FindAction(id string) (Action, bool)
	FindCapa(id string) (Capa, bool)
}

// evidenceTarget returns the CAPA id of an action that may take evidence.
func evidenceTarget(v actionLookup, actionID string) (string, error) {
	current, ok := v.FindAction(actionID)
	if !ok {
		return "", domain.NotFoundError{Entity: domain.EntityAction, ID: actionID}
	}
	capa, ok := v.FindCapa(current.CapaID)
	if !ok {
		return "", domain.NotFoundError{Entity: domain.EntityCapa, ID: current.CapaID}
	}
	if capa.Status == domain.CapaClosed {
		return "", capaInvalid(capa, "status", "cannot attach evidence to a closed capa")
	}
	return capa.ID, nil
}

// ListEvidence lists the files attached to an action.
func (s *Service) ListEvidence(ctx context.Context, actionID string) ([]evidence.Info, error) {
	if s.evidence == nil {
		return nil, ErrEvidenceDisabled
	}
	var capaID string
	err := s.store.View(ctx, func(v TransactionView) error {
		a, ok := v.FindAction(actionID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityAction, ID: actionID}
		}
		capaID = a.CapaID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.evidence.List(ctx, evidence.ActionPrefix(capaID, actionID))
}

// EvidenceURL returns a download URL for a stored evidence key.
func (s *Service) EvidenceURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if s.evidence == nil {
		return "", ErrEvidenceDisabled
	}
	return s.evidence.PresignURL(ctx, key, evidence.SignedURLOptions{Expiry: expiry})
}

// Escalation -----------------------------------------------------------------

// RunEscalationSweep runs one sweep with the service's clock, notifier and
// policy.
func (s *Service) RunEscalationSweep(ctx context.Context) SweepReport {
	const op = "run_escalation_sweep"
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	report := RunEscalationSweep(ctx, s.repo, s.clock, s.notifier, s.policy)
	var err error
	if !report.OK() {
		err = errors.Join(report.Errors...)
	}
	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if observer, ok := s.metrics.(SweepObserver); ok {
		observer.ObserveSweep(ctx, report)
	}
	for _, e := range report.Errors {
		s.logger.Warn("escalation sweep item failed", "error", e)
	}
	s.logger.Info("escalation sweep finished",
		"processed", report.Processed,
		"escalated", report.Escalated,
		"reminded", report.Reminded,
		"rounds_updated", report.RoundsUpdated,
		"errors", len(report.Errors),
		"duration", duration,
	)
	return report
}

func containsString(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
