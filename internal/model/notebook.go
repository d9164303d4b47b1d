// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/sakif/execserver/internal/kernel"
)

// Notebook is a saved, ordered list of code cells together with the
// outputs they last produced.
type Notebook struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId,omitempty"`
	Title     string    `json:"title"`
	Cells     []Cell    `json:"cells"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cell is one code cell. Outputs and Error hold the result of the cell's
// most recent run; both are empty for a cell that has never run.
type Cell struct {
	ID      string            `json:"id"`
	Content string            `json:"content"`
	Outputs []kernel.Output   `json:"outputs"`
	Error   *kernel.ErrorInfo `json:"error,omitempty"`
}
