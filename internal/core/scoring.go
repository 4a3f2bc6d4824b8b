package core

import (
	"fmt"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// ScoreResult is the output of CalculateScores.
type ScoreResult struct {
	CategoryScores    []CategoryScore
	CompliancePercent float64
	CompletionPercent float64
	AnsweredItems     int
	TotalItems        int
	Warnings          []domain.ComputationError
}

// answerScore maps a canonical answer status to its numeric value. The bool
// is false for not_applicable and for anything that is not a known status.
func answerScore(status AnswerStatus) (float64, bool) {
	switch status {
	case domain.AnswerApplied:
		return 100, true
	case domain.AnswerPartial:
		return 50, true
	case domain.AnswerNotApplied:
		return 0, true
	}
	return 0, false
}

// LatestAnswers keeps one answer per item: the one with the highest pass,
// later slice position breaking ties. Output preserves first-seen item order.
func LatestAnswers(answers []EvaluationAnswer) []EvaluationAnswer {
	index := make(map[string]int, len(answers))
	out := make([]EvaluationAnswer, 0, len(answers))
	for _, a := range answers {
		i, seen := index[a.ItemID]
		if !seen {
			index[a.ItemID] = len(out)
			out = append(out, a)
			continue
		}
		if a.Pass >= out[i].Pass {
			out[i] = a
		}
	}
	return out
}

// CalculateScores turns a round's answers into per-category and overall
// compliance plus completion. Only active categories form the checklist.
// Malformed weights degrade to warnings; the call never fails.
func CalculateScores(answers []EvaluationAnswer, items []Item, categories []Category) ScoreResult {
	var res ScoreResult
	warn := func(scope EntityType, id, format string, args ...any) {
		res.Warnings = append(res.Warnings, domain.ComputationError{Scope: scope, ID: id, Reason: fmt.Sprintf(format, args...)})
	}

	itemByID := make(map[string]Item, len(items))
	for _, it := range items {
		itemByID[it.ID] = it
	}

	// item -> indexes of the active categories it belongs to
	membership := make(map[string][]int)
	active := make([]Category, 0, len(categories))
	for _, c := range categories {
		if !c.Active {
			continue
		}
		ci := len(active)
		active = append(active, c)
		for _, m := range c.Items {
			if _, ok := itemByID[m.ItemID]; !ok {
				warn(domain.EntityCategory, c.ID, "references unknown item %s", m.ItemID)
				continue
			}
			if containsIndex(membership[m.ItemID], ci) {
				continue
			}
			membership[m.ItemID] = append(membership[m.ItemID], ci)
		}
	}
	res.TotalItems = len(membership)

	scores := make([]CategoryScore, len(active))
	for i, c := range active {
		scores[i] = CategoryScore{CategoryID: c.ID, WeightPercent: c.WeightPercent}
	}

	// incomplete answers never supersede an earlier valid one
	valid := make([]EvaluationAnswer, 0, len(answers))
	for _, a := range answers {
		if !a.Status.Valid() {
			warn(domain.EntityAnswer, a.ID, "unknown answer status %q for item %s", a.Status, a.ItemID)
			continue
		}
		valid = append(valid, a)
	}

	negativeWarned := make(map[string]bool)
	for _, a := range LatestAnswers(valid) {
		cats, inChecklist := membership[a.ItemID]
		if !inChecklist {
			warn(domain.EntityAnswer, a.ID, "item %s is not part of the round checklist", a.ItemID)
			continue
		}
		res.AnsweredItems++
		score, scored := answerScore(a.Status)
		if !scored {
			continue
		}
		weight := itemByID[a.ItemID].Weight
		if weight < 0 {
			if !negativeWarned[a.ItemID] {
				warn(domain.EntityItem, a.ItemID, "negative weight %g treated as 0", weight)
				negativeWarned[a.ItemID] = true
			}
			weight = 0
		}
		for _, ci := range cats {
			scores[ci].WeightedSum += score * weight
			scores[ci].MaxWeightedSum += 100 * weight
		}
	}

	var weightedTotal, weightTotal float64
	var scoredCategories int
	for i := range scores {
		if scores[i].MaxWeightedSum <= 0 {
			continue
		}
		scores[i].CompliancePercent = scores[i].WeightedSum / scores[i].MaxWeightedSum * 100
		scoredCategories++
		if scores[i].WeightPercent <= 0 {
			warn(domain.EntityCategory, scores[i].CategoryID, "non-positive weight percent %g with scored items", scores[i].WeightPercent)
			continue
		}
		weightedTotal += scores[i].CompliancePercent * scores[i].WeightPercent
		weightTotal += scores[i].WeightPercent
	}
	if weightTotal > 0 {
		res.CompliancePercent = weightedTotal / weightTotal
	} else if scoredCategories > 0 {
		warn(domain.EntityRound, "", "total category weight is zero")
	}

	if res.TotalItems > 0 {
		res.CompletionPercent = float64(res.AnsweredItems) / float64(res.TotalItems) * 100
		if res.CompletionPercent > 100 {
			res.CompletionPercent = 100
		}
	}
	res.CategoryScores = scores
	return res
}

// ApplyScores writes a score result back onto the round.
func ApplyScores(round *Round, res ScoreResult) {
	round.CategoryScores = append([]CategoryScore(nil), res.CategoryScores...)
	round.CompliancePercent = res.CompliancePercent
	round.CompletionPercent = res.CompletionPercent
}

func containsIndex(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
