package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

func seedChecklist(t *testing.T, store *Store) (domain.Category, domain.Item) {
	t.Helper()
	var category domain.Category
	var item domain.Item
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		item, err = tx.CreateItem(domain.Item{Code: "HH-1", Title: "Hand hygiene", Weight: 1})
		if err != nil {
			return err
		}
		category, err = tx.CreateCategory(domain.Category{
			Name:          "Infection control",
			WeightPercent: 100,
			Active:        true,
			Items:         []domain.CategoryItem{{ItemID: item.ID, Position: 0}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed checklist: %v", err)
	}
	return category, item
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	category, item := seedChecklist(t, store)
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindRound("missing"); ok {
			t.Fatalf("expected missing round lookup")
		}
		created, err := tx.CreateRound(domain.Round{Title: "Ward A", CategoryIDs: []string{category.ID}, Status: domain.RoundScheduled})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if _, err := tx.AppendAnswers(created.ID, []domain.EvaluationAnswer{{ItemID: item.ID, Pass: 1, Status: domain.AnswerApplied}}); err != nil {
			return err
		}
		view := tx.Snapshot()
		if len(view.ListRounds()) != 1 || len(view.ListAnswers(created.ID)) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListRounds()) != 1 {
		t.Fatalf("expected persisted round")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListRounds()) != 0 || len(store.ListItems()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	rounds := store.ListRounds()
	if len(rounds) != 1 || len(store.ListAnswers(rounds[0].ID)) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil || store.NowFunc() == nil {
		t.Fatalf("expected engine and clock")
	}
}

func TestStoreRuleViolationRollsBack(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateItem(domain.Item{Code: "X"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(store.ListItems()) != 0 {
		t.Fatalf("expected no committed items after blocked transaction")
	}
}

func TestStoreFnErrorRollsBack(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateItem(domain.Item{Code: "X"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(store.ListItems()) != 0 {
		t.Fatalf("expected rollback")
	}
}

func TestStoreCommitHookGatesPublish(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	diskFull := errors.New("disk full")
	create := func(tx domain.Transaction) error {
		_, err := tx.CreateRound(domain.Round{Title: "Ward 5", Status: domain.RoundScheduled})
		return err
	}

	_, err := store.RunInTransactionWithCommit(ctx, create, func(_ context.Context, next Snapshot) error {
		if len(next.Rounds) != 1 {
			t.Fatalf("hook should see the pending round, got %d", len(next.Rounds))
		}
		return diskFull
	})
	if !errors.Is(err, diskFull) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if got := len(store.ListRounds()); got != 0 {
		t.Fatalf("rejected commit leaked %d round(s)", got)
	}

	var seen int
	if _, err := store.RunInTransactionWithCommit(ctx, create, func(_ context.Context, next Snapshot) error {
		seen = len(next.Rounds)
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if seen != 1 || len(store.ListRounds()) != 1 {
		t.Fatalf("accepted commit not published: seen=%d stored=%d", seen, len(store.ListRounds()))
	}

	called := false
	_, err = store.RunInTransactionWithCommit(ctx, func(domain.Transaction) error { return diskFull }, func(context.Context, Snapshot) error {
		called = true
		return nil
	})
	if !errors.Is(err, diskFull) || called {
		t.Fatalf("hook must not run when fn fails: err=%v called=%v", err, called)
	}
}

func TestStoreCancelledContext(t *testing.T) {
	store := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := store.RunInTransaction(ctx, func(domain.Transaction) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancelled context to short-circuit, err=%v called=%v", err, called)
	}
}

func TestStoreReferentialChecks(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	cases := []struct {
		name string
		fn   func(tx domain.Transaction) error
	}{
		{"category with unknown item", func(tx domain.Transaction) error {
			_, err := tx.CreateCategory(domain.Category{Items: []domain.CategoryItem{{ItemID: "nope"}}})
			return err
		}},
		{"round with unknown category", func(tx domain.Transaction) error {
			_, err := tx.CreateRound(domain.Round{CategoryIDs: []string{"nope"}})
			return err
		}},
		{"answers for unknown round", func(tx domain.Transaction) error {
			_, err := tx.AppendAnswers("nope", []domain.EvaluationAnswer{{ItemID: "x"}})
			return err
		}},
		{"capa with unknown round", func(tx domain.Transaction) error {
			rid := "nope"
			_, err := tx.CreateCapa(domain.Capa{RoundID: &rid})
			return err
		}},
		{"replace actions for unknown capa", func(tx domain.Transaction) error {
			_, err := tx.ReplaceActions("nope", nil)
			return err
		}},
		{"update unknown action", func(tx domain.Transaction) error {
			_, err := tx.UpdateAction("nope", func(*domain.Action) error { return nil })
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.RunInTransaction(ctx, tc.fn)
			var nf domain.NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("expected not found error, got %v", err)
			}
		})
	}
}

func TestStoreDeleteRoundGuardedByCapa(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var round domain.Round
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		round, err = tx.CreateRound(domain.Round{Title: "R"})
		if err != nil {
			return err
		}
		_, err = tx.CreateCapa(domain.Capa{Title: "C", RoundID: &round.ID})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error { return tx.DeleteRound(round.ID) }); err == nil {
		t.Fatalf("expected delete guard error")
	}
}

func TestStoreReplaceActionsIsAtomicSwap(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var capa domain.Capa
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		capa, err = tx.CreateCapa(domain.Capa{Title: "C"})
		if err != nil {
			return err
		}
		_, err = tx.ReplaceActions(capa.ID, []domain.Action{{Title: "a"}, {Title: "b"}})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	first := store.ListActions(capa.ID)
	if len(first) != 2 || first[0].Title != "a" || first[1].Position != 1 {
		t.Fatalf("unexpected ledger %+v", first)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.ReplaceActions(capa.ID, []domain.Action{{Title: "c"}}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatalf("expected abort")
	}
	if got := store.ListActions(capa.ID); len(got) != 2 {
		t.Fatalf("expected ledger unchanged after abort, got %+v", got)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.ReplaceActions(capa.ID, []domain.Action{{Title: "c"}})
		return err
	})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := store.ListActions(capa.ID); len(got) != 1 || got[0].Title != "c" {
		t.Fatalf("expected swapped ledger, got %+v", got)
	}
}

func TestStoreReturnsClones(t *testing.T) {
	store := NewStore(nil)
	var capa domain.Capa
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		capa, err = tx.CreateCapa(domain.Capa{Title: "C", History: []domain.CapaHistoryEntry{{Kind: domain.HistoryCreated}}})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, _ := store.GetCapa(capa.ID)
	got.History[0].Note = "mutated"
	again, _ := store.GetCapa(capa.ID)
	if again.History[0].Note != "" {
		t.Fatalf("expected committed history to be isolated from callers")
	}
}

func TestStoreChangesCarryBeforeAndAfter(t *testing.T) {
	rec := &recordingRule{}
	engine := domain.NewRulesEngine()
	engine.Register(rec)
	store := NewStore(engine)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.SetNowFunc(func() time.Time { return fixed })
	ctx := context.Background()
	var capa domain.Capa
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		capa, err = tx.CreateCapa(domain.Capa{Title: "C", Status: domain.CapaPending})
		return err
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !capa.CreatedAt.Equal(fixed) {
		t.Fatalf("expected injected clock, got %v", capa.CreatedAt)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateCapa(capa.ID, func(c *domain.Capa) error {
			c.Status = domain.CapaAssigned
			return nil
		})
		return err
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	last := rec.changes[len(rec.changes)-1]
	before, okB := domain.ChangeValue[domain.Capa](last.Before)
	after, okA := domain.ChangeValue[domain.Capa](last.After)
	if !okB || !okA || before.Status != domain.CapaPending || after.Status != domain.CapaAssigned {
		t.Fatalf("unexpected change payload %+v", last)
	}
}

func TestMigrateSnapshotDropsOrphans(t *testing.T) {
	snapshot := Snapshot{
		Answers: map[string][]domain.EvaluationAnswer{"ghost": {{ItemID: "x"}}},
		Actions: map[string]domain.Action{"a": {Base: domain.Base{ID: "a"}, CapaID: "ghost"}},
		Capas:   map[string]domain.Capa{"c": {Base: domain.Base{ID: "c"}, EscalationLevel: 9}},
	}
	store := NewStore(nil)
	store.ImportState(snapshot)
	if len(store.ListAnswers("ghost")) != 0 || len(store.ListActions("ghost")) != 0 {
		t.Fatalf("expected orphans dropped")
	}
	capa, _ := store.GetCapa("c")
	if capa.EscalationLevel != domain.MaxEscalationLevel || capa.VerificationStatus != domain.VerificationPending {
		t.Fatalf("expected capa normalized, got %+v", capa)
	}
}

func TestSnapshotBucketRoundTrip(t *testing.T) {
	src := Snapshot{Items: map[string]domain.Item{"i": {Base: domain.Base{ID: "i"}, Code: "HH-1"}}}
	payload, err := src.EncodeBucket(BucketItems)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var dst Snapshot
	if err := dst.DecodeBucket(BucketItems, payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dst.Items["i"].Code != "HH-1" {
		t.Fatalf("expected item restored, got %+v", dst.Items)
	}
	if _, err := src.EncodeBucket("bogus"); err == nil {
		t.Fatalf("expected unknown bucket error")
	}
	if err := dst.DecodeBucket("bogus", []byte("{}")); err != nil {
		t.Fatalf("unknown buckets should be ignored: %v", err)
	}
	if err := dst.DecodeBucket(BucketItems, []byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}}, nil
}

type recordingRule struct {
	changes []domain.Change
}

func (*recordingRule) Name() string { return "recording" }

func (r *recordingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	r.changes = append(r.changes, changes...)
	return domain.Result{}, nil
}
