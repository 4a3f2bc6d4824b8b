package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// baseNow is a Monday morning; every date-driven test is relative to it.
var baseNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func strPtr(v string) *string {
	return &v
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type captureNotifier struct {
	events []domain.Event
	err    error
}

func (c *captureNotifier) Notify(_ context.Context, event domain.Event) error {
	c.events = append(c.events, event)
	return c.err
}

func (c *captureNotifier) count(eventType domain.EventType) int {
	n := 0
	for _, e := range c.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *manualClock) {
	t.Helper()
	clock := &manualClock{now: baseNow}
	all := append([]ServiceOption{WithClock(clock)}, opts...)
	return NewInMemoryService(NewDefaultRulesEngine(), all...), clock
}

// checklist mirrors the two-category example: A weighs 60 with two items,
// B weighs 40 with one.
type checklist struct {
	a1, a2, b1 Item
	catA, catB Category
}

func (c checklist) categoryIDs() []string { return []string{c.catA.ID, c.catB.ID} }

func seedChecklist(t *testing.T, svc *Service) checklist {
	t.Helper()
	ctx := context.Background()
	mustItem := func(code string, severity int) Item {
		item, _, err := svc.CreateItem(ctx, Item{Code: code, Title: "check " + code, Weight: 1, Severity: severity})
		if err != nil {
			t.Fatalf("create item %s: %v", code, err)
		}
		return item
	}
	var c checklist
	c.a1 = mustItem("A1", 2)
	c.a2 = mustItem("A2", 4)
	c.b1 = mustItem("B1", 0)
	var err error
	c.catA, _, err = svc.CreateCategory(ctx, Category{
		Name: "Hygiene", WeightPercent: 60, Active: true,
		Items: []domain.CategoryItem{{ItemID: c.a1.ID}, {ItemID: c.a2.ID}},
	})
	if err != nil {
		t.Fatalf("create category A: %v", err)
	}
	c.catB, _, err = svc.CreateCategory(ctx, Category{
		Name: "Documentation", WeightPercent: 40, Active: true,
		Items: []domain.CategoryItem{{ItemID: c.b1.ID}},
	})
	if err != nil {
		t.Fatalf("create category B: %v", err)
	}
	return c
}

func scheduleRound(t *testing.T, svc *Service, c checklist, scheduled time.Time, deadline *time.Time) Round {
	t.Helper()
	round, _, err := svc.ScheduleRound(context.Background(), RoundDraft{
		Title:         "Ward 3 monthly round",
		DepartmentID:  "ward-3",
		CategoryIDs:   c.categoryIDs(),
		ScheduledDate: scheduled,
		Deadline:      deadline,
		CreatedBy:     "lead",
	})
	if err != nil {
		t.Fatalf("schedule round: %v", err)
	}
	return round
}

func openCapa(t *testing.T, svc *Service, draft CapaDraft) Capa {
	t.Helper()
	if draft.Title == "" {
		draft.Title = "Hand rub dispensers empty"
	}
	capa, _, err := svc.OpenCapa(context.Background(), draft, "lead")
	if err != nil {
		t.Fatalf("open capa: %v", err)
	}
	return capa
}

func requireValidation(t *testing.T, err error) domain.ValidationError {
	t.Helper()
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T %v", err, err)
	}
	return verr
}

func requireNotFound(t *testing.T, err error) {
	t.Helper()
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T %v", err, err)
	}
}

func requireRuleViolation(t *testing.T, err error, rule string) {
	t.Helper()
	var rv domain.RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected RuleViolationError, got %T %v", err, err)
	}
	for _, v := range rv.Result.Violations {
		if v.Rule == rule {
			return
		}
	}
	t.Fatalf("expected violation from %s, got %+v", rule, rv.Result.Violations)
}
