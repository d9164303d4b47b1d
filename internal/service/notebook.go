// Package service contains the business logic layer of the application.
//
// Handlers parse HTTP and call services; services validate, enforce rules
// and orchestrate the repository and the interpreter; neither knows about
// the other's transport or storage details.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/execserver/internal/apperror"
	"github.com/sakif/execserver/internal/kernel"
	"github.com/sakif/execserver/internal/model"
	"github.com/sakif/execserver/internal/repository"
)

// Validation limits.
const (
	MaxTitleLength   = 100
	MaxCells         = 500
	MaxCellLength    = 100000 // characters
	DefaultTitle     = "Untitled"
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NotebookService manages saved notebooks and runs them against the
// shared interpreter.
type NotebookService struct {
	repo   repository.NotebookRepository
	exec   kernel.Executor
	logger *slog.Logger
}

// NewNotebookService creates a NotebookService.
func NewNotebookService(repo repository.NotebookRepository, exec kernel.Executor, logger *slog.Logger) *NotebookService {
	return &NotebookService{
		repo:   repo,
		exec:   exec,
		logger: logger,
	}
}

// Create validates and saves a new notebook. An empty title becomes
// DefaultTitle.
func (s *NotebookService) Create(ctx context.Context, ownerID, title string, cells []model.Cell) (*model.Notebook, error) {
	title, err := validateTitle(title)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = DefaultTitle
	}
	cells, err = validateCells(cells)
	if err != nil {
		return nil, err
	}

	notebook := &model.Notebook{
		OwnerID: ownerID,
		Title:   title,
		Cells:   cells,
	}
	if err := s.repo.Create(ctx, notebook); err != nil {
		s.logger.Error("failed to create notebook",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating notebook: %w", err)
	}

	s.logger.Info("notebook created",
		slog.String("id", notebook.ID),
		slog.Int("cells", len(notebook.Cells)),
	)
	return notebook, nil
}

// GetByID returns the owner's notebook.
func (s *NotebookService) GetByID(ctx context.Context, ownerID, id string) (*model.Notebook, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "notebook ID is required")
	}
	return s.repo.GetByID(ctx, ownerID, id)
}

// List returns a page of the owner's notebooks. limit is clamped to
// [1, MaxListLimit] with DefaultListLimit for zero; a negative offset is 0.
func (s *NotebookService) List(ctx context.Context, ownerID string, limit, offset int) ([]model.Notebook, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	notebooks, err := s.repo.List(ctx, ownerID, repository.ListOptions{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list notebooks", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing notebooks: %w", err)
	}
	return notebooks, nil
}

// Update replaces the title (when non-empty) and the cells (when non-nil)
// of the owner's notebook.
func (s *NotebookService) Update(ctx context.Context, ownerID, id, title string, cells []model.Cell) (*model.Notebook, error) {
	notebook, err := s.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	title, err = validateTitle(title)
	if err != nil {
		return nil, err
	}
	if title != "" {
		notebook.Title = title
	}
	if cells != nil {
		if notebook.Cells, err = validateCells(cells); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, notebook); err != nil {
		s.logger.Error("failed to update notebook",
			slog.String("id", notebook.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("updating notebook: %w", err)
	}

	s.logger.Info("notebook updated", slog.String("id", notebook.ID))
	return notebook, nil
}

// Delete removes the owner's notebook.
func (s *NotebookService) Delete(ctx context.Context, ownerID, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperror.ValidationFailed("id", "notebook ID is required")
	}
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.logger.Info("notebook deleted", slog.String("id", id))
	return nil
}

// Run executes the notebook's cells in order against the shared
// interpreter and saves what each produced. Blank cells are cleared and
// skipped. Execution stops after the first cell that raises; later cells
// keep their previous outputs.
func (s *NotebookService) Run(ctx context.Context, ownerID, id string) (*model.Notebook, error) {
	notebook, err := s.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	ran := 0
	for i := range notebook.Cells {
		cell := &notebook.Cells[i]
		if strings.TrimSpace(cell.Content) == "" {
			cell.Outputs, cell.Error = []kernel.Output{}, nil
			continue
		}

		res, err := s.exec.Execute(ctx, cell.Content)
		if err != nil {
			s.logger.Error("notebook run aborted",
				slog.String("id", notebook.ID),
				slog.String("cell", cell.ID),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("running cell %s: %w", cell.ID, err)
		}
		ran++
		cell.Outputs, cell.Error = res.Outputs, res.Error
		if !res.Success {
			s.logger.Info("notebook run stopped at failing cell",
				slog.String("id", notebook.ID),
				slog.String("cell", cell.ID),
				slog.String("exception", res.Error.Name),
			)
			break
		}
	}

	if err := s.repo.Update(ctx, notebook); err != nil {
		return nil, fmt.Errorf("saving notebook run: %w", err)
	}

	s.logger.Info("notebook run", slog.String("id", notebook.ID), slog.Int("executed", ran))
	return notebook, nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", apperror.ValidationFailed("title",
			fmt.Sprintf("notebook title must be %d characters or less", MaxTitleLength))
	}
	return title, nil
}

// validateCells enforces the cell limits and normalizes missing outputs to
// an empty list. Missing IDs are assigned by the repository; supplied IDs
// must be unique within the notebook.
func validateCells(cells []model.Cell) ([]model.Cell, error) {
	if len(cells) > MaxCells {
		return nil, apperror.ValidationFailed("cells",
			fmt.Sprintf("a notebook can hold at most %d cells", MaxCells))
	}
	out := make([]model.Cell, len(cells))
	seen := make(map[string]bool, len(cells))
	for i, c := range cells {
		if utf8.RuneCountInString(c.Content) > MaxCellLength {
			return nil, apperror.ValidationFailed("cells",
				fmt.Sprintf("cell %d: code must be %d characters or less", i+1, MaxCellLength))
		}
		if c.ID != "" {
			if seen[c.ID] {
				return nil, apperror.Conflict("cell", c.ID)
			}
			seen[c.ID] = true
		}
		if c.Outputs == nil {
			c.Outputs = []kernel.Output{}
		}
		out[i] = c
	}
	return out, nil
}
