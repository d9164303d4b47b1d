package repository

import (
	"context"

	"github.com/sakif/execserver/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// NotebookRepository stores notebooks. Every method is scoped to an owner;
// a notebook belonging to someone else behaves as if it did not exist.
type NotebookRepository interface {
	Create(ctx context.Context, notebook *model.Notebook) error
	GetByID(ctx context.Context, ownerID, id string) (*model.Notebook, error)
	List(ctx context.Context, ownerID string, opts ListOptions) ([]model.Notebook, error)
	Update(ctx context.Context, notebook *model.Notebook) error
	Delete(ctx context.Context, ownerID, id string) error
}
