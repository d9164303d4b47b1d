package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/execserver/internal/apperror"
	"github.com/sakif/execserver/internal/model"
	"github.com/sakif/execserver/internal/repository"
)

// Compile-time check that *DB satisfies the repository interface.
var _ repository.NotebookRepository = (*DB)(nil)

const notebookColumns = `id, owner_id, title, cells, created_at, updated_at`

// Create inserts a notebook, assigning its ID and timestamps in place.
// Cells without an ID get one.
func (db *DB) Create(ctx context.Context, notebook *model.Notebook) error {
	notebook.ID = xid.New().String()
	now := time.Now().UTC()
	notebook.CreatedAt = now
	notebook.UpdatedAt = now

	cells, err := encodeCells(notebook.Cells)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO notebooks (`+notebookColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		notebook.ID,
		notebook.OwnerID,
		notebook.Title,
		cells,
		notebook.CreatedAt,
		notebook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating notebook: %w", err)
	}
	return nil
}

// GetByID returns the owner's notebook with the given ID.
func (db *DB) GetByID(ctx context.Context, ownerID, id string) (*model.Notebook, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+notebookColumns+`
		 FROM notebooks
		 WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)

	notebook, err := scanNotebook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("notebook", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting notebook %s: %w", id, err)
	}
	return notebook, nil
}

// List returns the owner's notebooks, newest first.
func (db *DB) List(ctx context.Context, ownerID string, opts repository.ListOptions) ([]model.Notebook, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+notebookColumns+`
		 FROM notebooks
		 WHERE owner_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing notebooks: %w", err)
	}
	defer rows.Close()

	notebooks := make([]model.Notebook, 0, limit)
	for rows.Next() {
		n, err := scanNotebook(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning notebook row: %w", err)
		}
		notebooks = append(notebooks, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating notebooks: %w", err)
	}
	return notebooks, nil
}

// Update replaces a notebook's title and cells. id, owner and created_at
// are immutable.
func (db *DB) Update(ctx context.Context, notebook *model.Notebook) error {
	notebook.UpdatedAt = time.Now().UTC()

	cells, err := encodeCells(notebook.Cells)
	if err != nil {
		return err
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE notebooks
		 SET title = ?, cells = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		notebook.Title,
		cells,
		notebook.UpdatedAt,
		notebook.ID,
		notebook.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating notebook %s: %w", notebook.ID, err)
	}
	return expectOneRow(result, notebook.ID)
}

// Delete removes the owner's notebook with the given ID.
func (db *DB) Delete(ctx context.Context, ownerID, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM notebooks WHERE id = ? AND owner_id = ?`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting notebook %s: %w", id, err)
	}
	return expectOneRow(result, id)
}

// expectOneRow turns "no rows affected" into NotFound.
func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("notebook", id)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNotebook(s scanner) (*model.Notebook, error) {
	var (
		n     model.Notebook
		cells string
	)
	if err := s.Scan(&n.ID, &n.OwnerID, &n.Title, &cells, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cells), &n.Cells); err != nil {
		return nil, fmt.Errorf("decoding cells of notebook %s: %w", n.ID, err)
	}
	if n.Cells == nil {
		n.Cells = []model.Cell{}
	}
	return &n, nil
}

func encodeCells(cells []model.Cell) (string, error) {
	if cells == nil {
		cells = []model.Cell{}
	}
	for i := range cells {
		if cells[i].ID == "" {
			cells[i].ID = xid.New().String()
		}
	}
	raw, err := json.Marshal(cells)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding cells: %w", err)
	}
	return string(raw), nil
}
