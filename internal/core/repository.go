package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/salehzaid/slamaty-sub000/pkg/domain"
)

// ErrUnchanged is returned by an update mutator that decides, after seeing
// the current record, that nothing should be written.
var ErrUnchanged = errors.New("unchanged")

// Repository is the persistence surface the escalation engine and CAPA
// workflows depend on.
type Repository interface {
	LoadRound(ctx context.Context, id string) (Round, error)
	SaveRound(ctx context.Context, round Round) (Round, error)
	LoadCapa(ctx context.Context, id string) (Capa, error)
	SaveCapa(ctx context.Context, capa Capa) (Capa, error)
	// UpdateRound and UpdateCapa read the current record and apply mutate in
	// one transaction.
	UpdateRound(ctx context.Context, id string, mutate func(*Round) error) (Round, error)
	UpdateCapa(ctx context.Context, id string, mutate func(*Capa) error) (Capa, error)
	LoadActionsForCapa(ctx context.Context, capaID string) ([]Action, error)
	ReplaceActionsForCapa(ctx context.Context, capaID string, actions []Action) ([]Action, error)
	LoadAnswersForRound(ctx context.Context, roundID string) ([]EvaluationAnswer, error)
	ListRounds(ctx context.Context) ([]Round, error)
	ListCapas(ctx context.Context) ([]Capa, error)
}

// StoreRepository implements Repository over a PersistentStore. Each call runs
// in its own transaction, so commit-time rules apply to every save.
type StoreRepository struct {
	store PersistentStore
}

// NewStoreRepository wraps store.
func NewStoreRepository(store PersistentStore) *StoreRepository {
	return &StoreRepository{store: store}
}

func (r *StoreRepository) LoadRound(ctx context.Context, id string) (Round, error) {
	var out Round
	err := r.store.View(ctx, func(v TransactionView) error {
		round, ok := v.FindRound(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityRound, ID: id}
		}
		out = round
		return nil
	})
	return out, err
}

// SaveRound updates round in place, or creates it when it does not exist yet.
func (r *StoreRepository) SaveRound(ctx context.Context, round Round) (Round, error) {
	var saved Round
	_, err := r.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if round.ID != "" {
			if _, ok := tx.FindRound(round.ID); ok {
				saved, err = tx.UpdateRound(round.ID, func(current *Round) error {
					*current = round
					return nil
				})
				return err
			}
		}
		saved, err = tx.CreateRound(round)
		return err
	})
	if err != nil {
		return Round{}, fmt.Errorf("save round %s: %w", round.ID, err)
	}
	return saved, nil
}

func (r *StoreRepository) UpdateRound(ctx context.Context, id string, mutate func(*Round) error) (Round, error) {
	var saved Round
	_, err := r.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		saved, err = tx.UpdateRound(id, mutate)
		return err
	})
	if err != nil {
		return Round{}, fmt.Errorf("update round %s: %w", id, err)
	}
	return saved, nil
}

func (r *StoreRepository) LoadCapa(ctx context.Context, id string) (Capa, error) {
	var out Capa
	err := r.store.View(ctx, func(v TransactionView) error {
		capa, ok := v.FindCapa(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityCapa, ID: id}
		}
		out = capa
		return nil
	})
	return out, err
}

// SaveCapa updates capa in place, or creates it when it does not exist yet.
func (r *StoreRepository) SaveCapa(ctx context.Context, capa Capa) (Capa, error) {
	var saved Capa
	_, err := r.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if capa.ID != "" {
			if _, ok := tx.FindCapa(capa.ID); ok {
				saved, err = tx.UpdateCapa(capa.ID, func(current *Capa) error {
					*current = capa
					return nil
				})
				return err
			}
		}
		saved, err = tx.CreateCapa(capa)
		return err
	})
	if err != nil {
		return Capa{}, fmt.Errorf("save capa %s: %w", capa.ID, err)
	}
	return saved, nil
}

func (r *StoreRepository) UpdateCapa(ctx context.Context, id string, mutate func(*Capa) error) (Capa, error) {
	var saved Capa
	_, err := r.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		saved, err = tx.UpdateCapa(id, mutate)
		return err
	})
	if err != nil {
		return Capa{}, fmt.Errorf("update capa %s: %w", id, err)
	}
	return saved, nil
}

func (r *StoreRepository) LoadActionsForCapa(ctx context.Context, capaID string) ([]Action, error) {
	var out []Action
	err := r.store.View(ctx, func(v TransactionView) error {
		if _, ok := v.FindCapa(capaID); !ok {
			return domain.NotFoundError{Entity: domain.EntityCapa, ID: capaID}
		}
		out = v.ListActions(capaID)
		return nil
	})
	return out, err
}

// ReplaceActionsForCapa swaps the whole ledger of a CAPA atomically.
func (r *StoreRepository) ReplaceActionsForCapa(ctx context.Context, capaID string, actions []Action) ([]Action, error) {
	var out []Action
	_, err := r.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		out, err = tx.ReplaceActions(capaID, actions)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("replace actions for capa %s: %w", capaID, err)
	}
	return out, nil
}

func (r *StoreRepository) LoadAnswersForRound(ctx context.Context, roundID string) ([]EvaluationAnswer, error) {
	var out []EvaluationAnswer
	err := r.store.View(ctx, func(v TransactionView) error {
		if _, ok := v.FindRound(roundID); !ok {
			return domain.NotFoundError{Entity: domain.EntityRound, ID: roundID}
		}
		out = v.ListAnswers(roundID)
		return nil
	})
	return out, err
}

func (r *StoreRepository) ListRounds(ctx context.Context) ([]Round, error) {
	var out []Round
	err := r.store.View(ctx, func(v TransactionView) error {
		out = v.ListRounds()
		return nil
	})
	return out, err
}

func (r *StoreRepository) ListCapas(ctx context.Context) ([]Capa, error) {
	var out []Capa
	err := r.store.View(ctx, func(v TransactionView) error {
		out = v.ListCapas()
		return nil
	})
	return out, err
}
