package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateCategory(Category) (Category, error)
	UpdateCategory(id string, mutator func(*Category) error) (Category, error)
	CreateItem(Item) (Item, error)
	CreateRound(Round) (Round, error)
	UpdateRound(id string, mutator func(*Round) error) (Round, error)
	DeleteRound(id string) error
	AppendAnswers(roundID string, answers []EvaluationAnswer) ([]EvaluationAnswer, error)
	CreateCapa(Capa) (Capa, error)
	UpdateCapa(id string, mutator func(*Capa) error) (Capa, error)
	UpdateAction(id string, mutator func(*Action) error) (Action, error)
	// ReplaceActions deletes every action of the CAPA and inserts the supplied set.
	ReplaceActions(capaID string, actions []Action) ([]Action, error)
	FindRound(id string) (Round, bool)
	FindCapa(id string) (Capa, bool)
	FindAction(id string) (Action, bool)
}

// TransactionView provides read-only access to snapshot data for rules and services.
type TransactionView interface {
	RuleView
	ListCategories() []Category
	FindCategory(id string) (Category, bool)
	ListItems() []Item
	ListAnswers(roundID string) []EvaluationAnswer
	FindAction(id string) (Action, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetRound(id string) (Round, bool)
	ListRounds() []Round
	GetCapa(id string) (Capa, bool)
	ListCapas() []Capa
	ListActions(capaID string) []Action
	ListAnswers(roundID string) []EvaluationAnswer
	ListCategories() []Category
	ListItems() []Item
}
