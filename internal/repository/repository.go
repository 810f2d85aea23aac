// Package repository defines domain models and data access interfaces for
// documents, prompts, and users.
package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Document statuses as written by the ingestion pipeline.
const (
	StatusDone   = "Done"
	StatusFailed = "Failed"
)

// Document represents an entry of the per-tenant document registry.
// The registry is the source of truth for scope resolution: only
// documents listed here (and marked Done) are ever searched.
type Document struct {
	Doc        string // document id, unique per employee
	Employee   string // owning tenant
	Category   string
	Tags       []string
	Status     string
	Source     string
	Origin     string
	Synthesis  string
	DateInit   time.Time
	DateUpdate time.Time
}

// Prompt is a stored LLM prompt template. Templates contain placeholder
// tokens (e.g. {question}, {context}) substituted by plain text replacement.
type Prompt struct {
	ID          int64
	Name        string
	Prompt      string
	User        string
	Description string
}

// User is a login account. The employee id doubles as the tenant
// identifier throughout the system.
type User struct {
	Employee  string
	Company   string
	Firstname string
	Lastname  string
	Services  map[string]bool
}

// DocumentRepository defines operations for the document registry
type DocumentRepository interface {
	// FilteredDocIDs resolves a scope to the concrete allow-list of
	// document ids: owned by employee, status Done, intersecting tags
	// (case-insensitive; empty tags match everything), minus excludeIDs.
	FilteredDocIDs(ctx context.Context, employee string, tags, excludeIDs []string) ([]string, error)

	// GetByDoc retrieves a single registry entry.
	GetByDoc(ctx context.Context, doc, employee string) (*Document, error)

	// List returns the employee's documents, newest first.
	List(ctx context.Context, employee string, limit, offset int) ([]*Document, error)

	// TagCounts returns the employee's distinct tags with usage counts,
	// most used first.
	TagCounts(ctx context.Context, employee string) (map[string]int, error)
}

// PromptRepository defines operations for the prompt store
type PromptRepository interface {
	// GetByName returns the named template or ErrNotFound.
	GetByName(ctx context.Context, name string) (*Prompt, error)
}

// UserRepository defines operations for login accounts
type UserRepository interface {
	// VerifyCredentials checks an employee/password pair and returns the
	// account on success, ErrNotFound when the pair does not match.
	VerifyCredentials(ctx context.Context, employee, password string) (*User, error)
}
