package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

func submit(t *testing.T, svc *Service, roundID string, finalize bool, answers ...AnswerInput) EvaluationOutcome {
	t.Helper()
	out, _, err := svc.SubmitEvaluation(context.Background(), EvaluationSubmission{
		RoundID:     roundID,
		EvaluatorID: "auditor-1",
		Answers:     answers,
		Finalize:    finalize,
	})
	if err != nil {
		t.Fatalf("submit evaluation: %v", err)
	}
	return out
}

func TestServiceChecklistValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.CreateItem(ctx, Item{Title: ""}); err == nil {
		t.Fatalf("expected title validation")
	}
	if _, _, err := svc.CreateItem(ctx, Item{Title: "x", Weight: -1}); err == nil {
		t.Fatalf("expected weight validation")
	}
	item, _, err := svc.CreateItem(ctx, Item{Title: "Hand hygiene poster visible", Weight: 1})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if item.Severity != 3 || item.ID == "" {
		t.Fatalf("unexpected item %+v", item)
	}

	_, _, err = svc.CreateCategory(ctx, Category{Name: "Dup", WeightPercent: 10, Items: []domain.CategoryItem{{ItemID: item.ID}, {ItemID: item.ID}}})
	requireValidation(t, err)
	_, _, err = svc.CreateCategory(ctx, Category{Name: "Too heavy", WeightPercent: 120})
	requireValidation(t, err)
	_, _, err = svc.CreateCategory(ctx, Category{Name: "Ghost", WeightPercent: 10, Items: []domain.CategoryItem{{ItemID: "missing"}}})
	requireNotFound(t, err)

	cat, _, err := svc.CreateCategory(ctx, Category{Name: "Signage", WeightPercent: 10, Active: true, Items: []domain.CategoryItem{{ItemID: item.ID, Position: 7}}})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	if cat.Items[0].Position != 0 {
		t.Fatalf("positions follow slice order, got %d", cat.Items[0].Position)
	}
	updated, _, err := svc.UpdateCategory(ctx, cat.ID, func(c *Category) error {
		c.WeightPercent = 25
		return nil
	})
	if err != nil || updated.WeightPercent != 25 {
		t.Fatalf("update category: %v %+v", err, updated)
	}
	_, _, err = svc.UpdateCategory(ctx, cat.ID, func(c *Category) error {
		c.Items = append(c.Items, domain.CategoryItem{ItemID: "missing"})
		return nil
	})
	requireNotFound(t, err)
}

func TestServiceScheduleRound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := seedChecklist(t, svc)

	round := scheduleRound(t, svc, c, baseNow.Add(days(2)), nil)
	if round.Status != domain.RoundScheduled || round.DerivedEndDate == nil || !round.DerivedEndDate.Equal(baseNow.Add(days(9))) {
		t.Fatalf("unexpected round %+v", round)
	}
	deadline := baseNow.Add(days(3))
	withDeadline := scheduleRound(t, svc, c, baseNow, &deadline)
	if withDeadline.DerivedEndDate != nil {
		t.Fatalf("explicit deadline should not derive an end date")
	}

	bad := []RoundDraft{
		{ScheduledDate: baseNow, CategoryIDs: c.categoryIDs()},
		{Title: "no date", CategoryIDs: c.categoryIDs()},
		{Title: "no categories", ScheduledDate: baseNow},
		{Title: "inverted", ScheduledDate: baseNow, Deadline: timeAt(baseNow.Add(-days(1))), CategoryIDs: c.categoryIDs()},
	}
	for i, draft := range bad {
		if _, _, err := svc.ScheduleRound(ctx, draft); err == nil {
			t.Fatalf("draft %d: expected validation error", i)
		}
	}
	_, _, err := svc.ScheduleRound(ctx, RoundDraft{Title: "x", ScheduledDate: baseNow, CategoryIDs: []string{"nope"}})
	requireNotFound(t, err)
}

func TestServiceScheduleRoundAlreadyOverdue(t *testing.T) {
	notifier := &captureNotifier{}
	svc, _ := newTestService(t, WithNotifier(notifier))
	c := seedChecklist(t, svc)

	deadline := baseNow.Add(-days(1))
	round := scheduleRound(t, svc, c, baseNow.Add(-days(5)), &deadline)
	if round.Status != domain.RoundOverdue {
		t.Fatalf("expected overdue round, got %s", round.Status)
	}
	if notifier.count(domain.EventRoundOverdue) != 1 {
		t.Fatalf("expected one round_overdue event, got %+v", notifier.events)
	}
	var event domain.Event
	for _, e := range notifier.events {
		if e.Type == domain.EventRoundOverdue {
			event = e
		}
	}
	if event.EntityID != round.ID || event.Payload["from_status"] != string(domain.RoundScheduled) {
		t.Fatalf("unexpected event %+v", event)
	}

	scheduleRound(t, svc, c, baseNow.Add(days(1)), nil)
	if notifier.count(domain.EventRoundOverdue) != 1 {
		t.Fatalf("future round must not emit round_overdue")
	}
}

func TestServiceEvaluationFlow(t *testing.T) {
	notifier := &captureNotifier{}
	svc, _ := newTestService(t, WithNotifier(notifier))
	ctx := context.Background()
	c := seedChecklist(t, svc)
	round := scheduleRound(t, svc, c, baseNow.Add(-days(1)), nil)

	draft := submit(t, svc, round.ID, false,
		AnswerInput{ItemID: c.a1.ID, Status: domain.AnswerApplied},
		AnswerInput{ItemID: c.a2.ID, Status: ""},
	)
	if len(draft.Answers) != 1 || draft.Round.PassCount != 1 {
		t.Fatalf("empty statuses are unanswered: %+v", draft)
	}
	if draft.Round.Status != domain.RoundInProgress || draft.Round.CompletionPercent <= 0 {
		t.Fatalf("draft should move the round in progress: %+v", draft.Round)
	}
	if len(draft.Capas) != 0 {
		t.Fatalf("drafts never open capas")
	}

	_, _, err := svc.SubmitEvaluation(ctx, EvaluationSubmission{RoundID: round.ID, Finalize: true})
	if verr := requireValidation(t, err); verr.Field != "completion_percent" {
		t.Fatalf("unexpected validation %+v", verr)
	}

	final := submit(t, svc, round.ID, true,
		AnswerInput{ItemID: c.a2.ID, Status: domain.AnswerNotApplied, Comment: "dispenser empty"},
		AnswerInput{ItemID: c.b1.ID, Status: domain.AnswerApplied, FlagForCapa: true},
	)
	if final.Round.Status != domain.RoundCompleted || final.Round.FinalizedAt == nil || final.Round.PassCount != 2 {
		t.Fatalf("unexpected finalized round %+v", final.Round)
	}
	if final.Scores.CompletionPercent != 100 || final.Round.CompliancePercent != 70 {
		t.Fatalf("unexpected scores %+v", final.Scores)
	}
	if len(final.Capas) != 2 {
		t.Fatalf("expected capas for a2 and flagged b1, got %+v", final.Capas)
	}
	for _, capa := range final.Capas {
		if capa.RoundID == nil || *capa.RoundID != round.ID || capa.AnswerID == nil || capa.CreatedBy != "auditor-1" {
			t.Fatalf("capa not linked to its finding: %+v", capa)
		}
		if *capa.ItemID == c.a2.ID && (capa.Severity != 4 || capa.SLADays != 14 || capa.Description != "dispenser empty") {
			t.Fatalf("capa should inherit item severity: %+v", capa)
		}
	}
	if notifier.count(domain.EventCapaCreated) != 2 {
		t.Fatalf("expected capa_created events, got %+v", notifier.events)
	}

	_, _, err = svc.SubmitEvaluation(ctx, EvaluationSubmission{RoundID: round.ID, Answers: []AnswerInput{{ItemID: c.a1.ID, Status: domain.AnswerPartial}}})
	requireValidation(t, err)
}

func TestServiceFinalizeSkipsFindingsWithOpenCapa(t *testing.T) {
	svc, _ := newTestService(t)
	c := seedChecklist(t, svc)
	round := scheduleRound(t, svc, c, baseNow, nil)
	roundID, itemID := round.ID, c.a2.ID
	existing := openCapa(t, svc, CapaDraft{RoundID: &roundID, ItemID: &itemID})
	if existing.Severity != 4 {
		t.Fatalf("manual capa should default to item severity, got %d", existing.Severity)
	}

	final := submit(t, svc, round.ID, true,
		AnswerInput{ItemID: c.a1.ID, Status: domain.AnswerNotApplicable, FlagForCapa: true},
		AnswerInput{ItemID: c.a2.ID, Status: domain.AnswerNotApplied},
		AnswerInput{ItemID: c.b1.ID, Status: domain.AnswerPartial},
	)
	if len(final.Capas) != 0 {
		t.Fatalf("expected no new capas, got %+v", final.Capas)
	}
}

func TestServiceSubmitEvaluationRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	c := seedChecklist(t, svc)
	round := scheduleRound(t, svc, c, baseNow, nil)

	_, _, err := svc.SubmitEvaluation(ctx, EvaluationSubmission{RoundID: "missing"})
	requireNotFound(t, err)
	_, _, err = svc.SubmitEvaluation(ctx, EvaluationSubmission{RoundID: round.ID, Answers: []AnswerInput{{ItemID: c.a1.ID, Status: "yes"}}})
	requireValidation(t, err)
	_, _, err = svc.SubmitEvaluation(ctx, EvaluationSubmission{RoundID: round.ID, Answers: []AnswerInput{{ItemID: "ghost", Status: domain.AnswerApplied}}})
	requireNotFound(t, err)

	if answers, _ := svc.Repository().LoadAnswersForRound(ctx, round.ID); len(answers) != 0 {
		t.Fatalf("rejected submissions must not store answers: %+v", answers)
	}

	if _, _, err := svc.HoldRound(ctx, round.ID); err != nil {
		t.Fatalf("hold: %v", err)
	}
	_, _, err = svc.SubmitEvaluation(ctx, EvaluationSubmission{RoundID: round.ID, Answers: []AnswerInput{{ItemID: c.a1.ID, Status: domain.AnswerApplied}}})
	requireValidation(t, err)
}

func TestServiceRoundControls(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	c := seedChecklist(t, svc)
	round := scheduleRound(t, svc, c, baseNow, nil)

	held, _, err := svc.HoldRound(ctx, round.ID)
	if err != nil || held.Status != domain.RoundOnHold {
		t.Fatalf("hold: %v %+v", err, held)
	}
	_, _, err = svc.HoldRound(ctx, round.ID)
	requireValidation(t, err)

	clock.advance(days(10))
	if refreshed, _, err := svc.RefreshRoundStatus(ctx, round.ID); err != nil || refreshed.Status != domain.RoundOnHold {
		t.Fatalf("refresh must keep holds: %v %+v", err, refreshed)
	}
	resumed, _, err := svc.ResumeRound(ctx, round.ID)
	if err != nil || resumed.Status != domain.RoundOverdue {
		t.Fatalf("resume should re-resolve to overdue: %v %+v", err, resumed)
	}

	cancelled, _, err := svc.CancelRound(ctx, round.ID)
	if err != nil || cancelled.Status != domain.RoundCancelled {
		t.Fatalf("cancel: %v %+v", err, cancelled)
	}
	_, _, err = svc.CancelRound(ctx, round.ID)
	requireValidation(t, err)
	_, _, err = svc.ResumeRound(ctx, round.ID)
	requireValidation(t, err)

	if _, err := svc.DeleteRound(ctx, round.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = svc.Repository().LoadRound(ctx, round.ID)
	requireNotFound(t, err)

	other := scheduleRound(t, svc, c, clock.Now(), nil)
	otherID := other.ID
	openCapa(t, svc, CapaDraft{RoundID: &otherID})
	if _, err := svc.DeleteRound(ctx, other.ID); err == nil {
		t.Fatalf("rounds referenced by a capa cannot be deleted")
	}
}

func TestServiceCapaWorkflow(t *testing.T) {
	notifier := &captureNotifier{}
	svc, clock := newTestService(t, WithNotifier(notifier))
	ctx := context.Background()
	at := TransitionContext{ActorID: "qa-lead"}

	capa := openCapa(t, svc, CapaDraft{Title: "Fridge temperature log gaps", Severity: 4})
	if capa.Status != domain.CapaPending || notifier.count(domain.EventCapaCreated) != 1 {
		t.Fatalf("unexpected new capa %+v", capa)
	}
	if _, _, err := svc.StartCapa(ctx, capa.ID, at); err == nil {
		t.Fatalf("start requires an assignee first")
	}
	if _, _, err := svc.AssignCapa(ctx, capa.ID, "nurse-7", at); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, _, err := svc.StartCapa(ctx, capa.ID, at); err != nil {
		t.Fatalf("start: %v", err)
	}

	actions, _, err := svc.ReplaceCapaActions(ctx, capa.ID, ActionPlan{
		Corrective:   []ActionInput{{Title: "Backfill log"}},
		Verification: []ActionInput{{Title: "Check log for 7 days", Required: true}},
	}, at)
	if err != nil {
		t.Fatalf("replace actions: %v", err)
	}
	if len(actions) != 2 || actions[1].Position != 1 {
		t.Fatalf("unexpected ledger %+v", actions)
	}
	if _, _, err := svc.ImplementCapa(ctx, capa.ID, at); err != nil {
		t.Fatalf("implement: %v", err)
	}
	if _, _, err := svc.SubmitCapaForVerification(ctx, capa.ID, at); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if notifier.count(domain.EventVerificationRequired) != 1 {
		t.Fatalf("expected verification_required event")
	}

	_, _, err = svc.VerifyCapa(ctx, capa.ID, false, at)
	requireValidation(t, err)
	if got := loadCapa(t, svc, capa.ID); got.Status != domain.CapaVerification || got.VerifiedAt != nil {
		t.Fatalf("failed verify changed state: %+v", got)
	}

	clock.advance(time.Hour)
	done := domain.ActionCompleted
	action, _, err := svc.UpdateAction(ctx, actions[1].ID, ActionPatch{Status: &done}, TransitionContext{ActorID: "auditor-2"})
	if err != nil {
		t.Fatalf("complete verification action: %v", err)
	}
	if action.CompletedAt == nil || !action.CompletedAt.Equal(clock.Now()) || action.CompletedBy != "auditor-2" {
		t.Fatalf("completion not stamped: %+v", action)
	}

	closed, _, err := svc.VerifyCapa(ctx, capa.ID, true, at)
	if err != nil {
		t.Fatalf("verify and close: %v", err)
	}
	if closed.Status != domain.CapaClosed || closed.VerifiedAt == nil || closed.ClosedAt == nil {
		t.Fatalf("unexpected closed capa %+v", closed)
	}

	kinds := map[domain.HistoryKind]int{}
	for _, h := range closed.History {
		kinds[h.Kind]++
	}
	if kinds[domain.HistoryCreated] != 1 || kinds[domain.HistoryActionsReplaced] != 1 || kinds[domain.HistoryTransition] != 6 {
		t.Fatalf("unexpected history %+v", closed.History)
	}
	for _, h := range closed.History {
		if h.Kind == domain.HistoryActionsReplaced && !strings.HasPrefix(h.Note, "0 -> 2 actions") {
			t.Fatalf("unexpected replacement note %q", h.Note)
		}
	}

	_, _, err = svc.UpdateAction(ctx, actions[0].ID, ActionPatch{Status: &done}, at)
	requireValidation(t, err)
	_, _, err = svc.ReplaceCapaActions(ctx, capa.ID, ActionPlan{}, at)
	requireValidation(t, err)
}

func TestServiceReplaceActionsIsAtomic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	capa := openCapa(t, svc, CapaDraft{AssignedToID: strPtr("nurse-1")})
	at := TransitionContext{ActorID: "qa-lead"}

	first, _, err := svc.ReplaceCapaActions(ctx, capa.ID, ActionPlan{Corrective: []ActionInput{{Title: "Relabel"}}}, at)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	_, _, err = svc.ReplaceCapaActions(ctx, capa.ID, ActionPlan{Corrective: []ActionInput{{Title: "ok"}, {Title: ""}}}, at)
	requireValidation(t, err)
	ledger, _ := svc.Repository().LoadActionsForCapa(ctx, capa.ID)
	if len(ledger) != 1 || ledger[0].ID != first[0].ID {
		t.Fatalf("failed replace left a partial ledger: %+v", ledger)
	}
	if got := loadCapa(t, svc, capa.ID); len(got.History) != 3 {
		t.Fatalf("failed replace must not append history: %+v", got.History)
	}

	_, _, err = svc.ReplaceCapaActions(ctx, "missing", ActionPlan{}, at)
	requireNotFound(t, err)
	_, _, err = svc.UpdateAction(ctx, "missing", ActionPatch{}, at)
	requireNotFound(t, err)
}

func TestServiceExtendTargetResetsEscalation(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	target := baseNow.Add(-days(3))
	capa := openCapa(t, svc, CapaDraft{TargetDate: &target})
	svc.RunEscalationSweep(ctx)
	clock.advance(days(1))
	svc.RunEscalationSweep(ctx)
	if got := loadCapa(t, svc, capa.ID).EscalationLevel; got != 2 {
		t.Fatalf("expected level 2, got %d", got)
	}

	extended, _, err := svc.ExtendCapaTarget(ctx, capa.ID, clock.Now().Add(days(14)), TransitionContext{ActorID: "qa-lead", Note: "awaiting parts"})
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if extended.EscalationLevel != 0 || extended.EscalationResetAt == nil {
		t.Fatalf("escalation not reset: %+v", extended)
	}
	report := svc.RunEscalationSweep(ctx)
	if report.Escalated != 0 {
		t.Fatalf("extended capa should not escalate: %+v", report)
	}
}

func TestServiceOpenCapaValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _, err := svc.OpenCapa(ctx, CapaDraft{Title: "x", ItemID: strPtr("ghost")}, "lead")
	requireNotFound(t, err)
	_, _, err = svc.OpenCapa(ctx, CapaDraft{Title: "x", RoundID: strPtr("ghost")}, "lead")
	requireNotFound(t, err)
	_, _, err = svc.OpenCapa(ctx, CapaDraft{}, "lead")
	requireValidation(t, err)
	_, _, err = svc.AssignCapa(ctx, "ghost", "x", TransitionContext{})
	requireNotFound(t, err)
}

type clockOverrideStore struct {
	PersistentStore
}

func (clockOverrideStore) NowFunc() func() time.Time { return nil }

func TestNewServiceClockResolution(t *testing.T) {
	fixed := func() time.Time { return baseNow }

	store := NewInMemoryService(nil).Store()
	if setter, ok := store.(nowFuncSetter); ok {
		setter.SetNowFunc(fixed)
	}
	if got := NewService(store).now(); !got.Equal(baseNow) {
		t.Fatalf("service should adopt the store clock, got %v", got)
	}

	if got := NewService(clockOverrideStore{store}).now(); got.Equal(baseNow) || got.IsZero() {
		t.Fatalf("nil store clock should fall back to system time, got %v", got)
	}

	later := baseNow.Add(days(30))
	svc := NewService(store, WithClock(ClockFunc(func() time.Time { return later })))
	item, _, err := svc.CreateItem(context.Background(), Item{Title: "x", Weight: 1})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if !item.CreatedAt.Equal(later) {
		t.Fatalf("store timestamps should follow the injected clock, got %v", item.CreatedAt)
	}
}

func TestServiceNotifierFailureDoesNotFailOperation(t *testing.T) {
	notifier := &captureNotifier{err: errors.New("queue full")}
	logger := &captureLogger{}
	svc, _ := newTestService(t, WithNotifier(notifier), WithLogger(logger))
	openCapa(t, svc, CapaDraft{})
	if !logger.has("warn", "notify failed") {
		t.Fatalf("expected warning for failed notification, got %+v", logger.entries)
	}
}
