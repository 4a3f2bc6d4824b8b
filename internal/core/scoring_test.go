package core

import (
	"math"
	"reflect"
	"testing"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

func scoringFixture() ([]Item, []Category) {
	items := []Item{
		{Base: Base{ID: "a1"}, Weight: 1},
		{Base: Base{ID: "a2"}, Weight: 1},
		{Base: Base{ID: "b1"}, Weight: 1},
	}
	categories := []Category{
		{Base: Base{ID: "A"}, WeightPercent: 60, Active: true, Items: []domain.CategoryItem{{ItemID: "a1"}, {ItemID: "a2"}}},
		{Base: Base{ID: "B"}, WeightPercent: 40, Active: true, Items: []domain.CategoryItem{{ItemID: "b1", Position: 0}}},
	}
	return items, categories
}

func answer(id, item string, pass int, status AnswerStatus) EvaluationAnswer {
	return EvaluationAnswer{Base: Base{ID: id}, ItemID: item, Pass: pass, Status: status}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func categoryScore(t *testing.T, res ScoreResult, id string) CategoryScore {
	t.Helper()
	for _, cs := range res.CategoryScores {
		if cs.CategoryID == id {
			return cs
		}
	}
	t.Fatalf("category %s missing from %+v", id, res.CategoryScores)
	return CategoryScore{}
}

func TestCalculateScoresWeightedCategories(t *testing.T) {
	items, categories := scoringFixture()
	answers := []EvaluationAnswer{
		answer("1", "a1", 1, domain.AnswerApplied),
		answer("2", "a2", 1, domain.AnswerNotApplied),
		answer("3", "b1", 1, domain.AnswerApplied),
	}
	res := CalculateScores(answers, items, categories)
	if a := categoryScore(t, res, "A"); !approx(a.CompliancePercent, 50) || a.MaxWeightedSum != 200 {
		t.Fatalf("category A: %+v", a)
	}
	if b := categoryScore(t, res, "B"); !approx(b.CompliancePercent, 100) {
		t.Fatalf("category B: %+v", b)
	}
	if !approx(res.CompliancePercent, 70) {
		t.Fatalf("expected overall 70, got %v", res.CompliancePercent)
	}
	if res.CompletionPercent != 100 || res.AnsweredItems != 3 || res.TotalItems != 3 {
		t.Fatalf("unexpected completion %+v", res)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings %+v", res.Warnings)
	}
}

func TestCalculateScoresAllNotApplicable(t *testing.T) {
	items, categories := scoringFixture()
	answers := []EvaluationAnswer{
		answer("1", "a1", 1, domain.AnswerNotApplicable),
		answer("2", "a2", 1, domain.AnswerNotApplicable),
		answer("3", "b1", 1, domain.AnswerNotApplicable),
	}
	res := CalculateScores(answers, items, categories)
	if res.CompletionPercent != 100 {
		t.Fatalf("na answers count as answered, got completion %v", res.CompletionPercent)
	}
	if res.CompliancePercent != 0 {
		t.Fatalf("expected compliance 0, got %v", res.CompliancePercent)
	}
	for _, cs := range res.CategoryScores {
		if cs.CompliancePercent != 0 || cs.MaxWeightedSum != 0 {
			t.Fatalf("category %s should be unscored: %+v", cs.CategoryID, cs)
		}
	}
}

func TestCalculateScoresEmptyAnswers(t *testing.T) {
	items, categories := scoringFixture()
	res := CalculateScores(nil, items, categories)
	if res.CompletionPercent != 0 || res.CompliancePercent != 0 {
		t.Fatalf("expected zero scores, got %+v", res)
	}
	if res.TotalItems != 3 {
		t.Fatalf("expected 3 checklist items, got %d", res.TotalItems)
	}

	empty := CalculateScores(nil, nil, nil)
	if empty.CompletionPercent != 0 || empty.TotalItems != 0 {
		t.Fatalf("empty checklist: %+v", empty)
	}
}

func TestCalculateScoresIsDeterministic(t *testing.T) {
	items, categories := scoringFixture()
	answers := []EvaluationAnswer{
		answer("1", "a1", 1, domain.AnswerPartial),
		answer("2", "b1", 1, domain.AnswerApplied),
		answer("3", "a1", 2, domain.AnswerApplied),
	}
	first := CalculateScores(answers, items, categories)
	for i := 0; i < 5; i++ {
		if next := CalculateScores(answers, items, categories); !reflect.DeepEqual(first, next) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, next)
		}
	}
}

func TestCalculateScoresNotApplicableDoesNotMoveCategory(t *testing.T) {
	items, categories := scoringFixture()
	base := []EvaluationAnswer{answer("1", "a1", 1, domain.AnswerPartial)}
	before := CalculateScores(base, items, categories)
	after := CalculateScores(append(base, answer("2", "a2", 1, domain.AnswerNotApplicable)), items, categories)

	ba, aa := categoryScore(t, before, "A"), categoryScore(t, after, "A")
	if ba.WeightedSum != aa.WeightedSum || ba.MaxWeightedSum != aa.MaxWeightedSum {
		t.Fatalf("na answer changed sums: %+v -> %+v", ba, aa)
	}
	// B has no scored answer, so only A forms the overall average
	if !approx(after.CompliancePercent, 50) {
		t.Fatalf("expected 50 from A alone, got %v", after.CompliancePercent)
	}
	if after.CompletionPercent <= before.CompletionPercent {
		t.Fatalf("na should still count as answered: %v -> %v", before.CompletionPercent, after.CompletionPercent)
	}
}

func TestCalculateScoresCompletionIsMonotonic(t *testing.T) {
	items, categories := scoringFixture()
	passes := [][]EvaluationAnswer{
		{answer("1", "a1", 1, domain.AnswerApplied)},
		{answer("2", "a1", 2, domain.AnswerNotApplied), answer("3", "b1", 2, domain.AnswerNotApplicable)},
		{answer("4", "a2", 3, domain.AnswerPartial)},
	}
	var all []EvaluationAnswer
	last := -1.0
	for i, pass := range passes {
		all = append(all, pass...)
		res := CalculateScores(all, items, categories)
		if res.CompletionPercent < last {
			t.Fatalf("pass %d: completion dropped from %v to %v", i+1, last, res.CompletionPercent)
		}
		last = res.CompletionPercent
	}
	if last != 100 {
		t.Fatalf("expected full completion, got %v", last)
	}
}

func TestCalculateScoresLatestPassWins(t *testing.T) {
	items, categories := scoringFixture()
	answers := []EvaluationAnswer{
		answer("1", "b1", 2, domain.AnswerApplied),
		answer("2", "b1", 1, domain.AnswerNotApplied),
	}
	res := CalculateScores(answers, items, categories)
	if b := categoryScore(t, res, "B"); b.CompliancePercent != 100 {
		t.Fatalf("expected pass 2 to win, got %+v", b)
	}
	latest := LatestAnswers(answers)
	if len(latest) != 1 || latest[0].ID != "1" {
		t.Fatalf("unexpected latest answers %+v", latest)
	}
}

func TestCalculateScoresDegradesOnMalformedData(t *testing.T) {
	items := []Item{
		{Base: Base{ID: "neg"}, Weight: -2},
		{Base: Base{ID: "ok"}, Weight: 1},
		{Base: Base{ID: "outside"}, Weight: 1},
	}
	categories := []Category{
		{Base: Base{ID: "C"}, WeightPercent: 100, Active: true, Items: []domain.CategoryItem{{ItemID: "neg"}, {ItemID: "ok"}, {ItemID: "ghost"}}},
		{Base: Base{ID: "off"}, WeightPercent: 100, Active: false, Items: []domain.CategoryItem{{ItemID: "outside"}}},
	}
	answers := []EvaluationAnswer{
		answer("1", "neg", 1, domain.AnswerApplied),
		answer("2", "ok", 1, domain.AnswerApplied),
		answer("3", "outside", 1, domain.AnswerNotApplied),
		answer("4", "ok", 2, AnswerStatus("maybe")),
	}
	res := CalculateScores(answers, items, categories)
	if res.CompliancePercent != 100 {
		t.Fatalf("negative weight should count as zero, got %v", res.CompliancePercent)
	}
	if res.TotalItems != 2 {
		t.Fatalf("inactive categories are not part of the checklist, got %d items", res.TotalItems)
	}
	scopes := map[EntityType]int{}
	for _, w := range res.Warnings {
		scopes[w.Scope]++
	}
	want := map[EntityType]int{
		domain.EntityCategory: 1, // ghost item
		domain.EntityItem:     1, // negative weight
		domain.EntityAnswer:   2, // unknown status, item outside checklist
	}
	if !reflect.DeepEqual(scopes, want) {
		t.Fatalf("warnings by scope = %v, want %v (%+v)", scopes, want, res.Warnings)
	}
}

func TestCalculateScoresZeroCategoryWeight(t *testing.T) {
	items := []Item{{Base: Base{ID: "x"}, Weight: 1}}
	categories := []Category{{Base: Base{ID: "Z"}, WeightPercent: 0, Active: true, Items: []domain.CategoryItem{{ItemID: "x"}}}}
	res := CalculateScores([]EvaluationAnswer{answer("1", "x", 1, domain.AnswerApplied)}, items, categories)
	if res.CompliancePercent != 0 {
		t.Fatalf("expected degraded 0, got %v", res.CompliancePercent)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("expected category and round warnings, got %+v", res.Warnings)
	}
}

func TestApplyScoresCopiesBreakdown(t *testing.T) {
	items, categories := scoringFixture()
	res := CalculateScores([]EvaluationAnswer{answer("1", "a1", 1, domain.AnswerApplied)}, items, categories)
	var round Round
	ApplyScores(&round, res)
	if round.CompletionPercent != res.CompletionPercent || round.CompliancePercent != res.CompliancePercent {
		t.Fatalf("round not updated: %+v", round)
	}
	res.CategoryScores[0].CompliancePercent = -1
	if round.CategoryScores[0].CompliancePercent == -1 {
		t.Fatalf("round shares the score slice")
	}
}
