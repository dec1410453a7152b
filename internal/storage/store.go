package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"linkcheck/internal/models"
)

var (
	// ErrDuplicateKey is returned when a target with the same canonical URL already exists.
	ErrDuplicateKey = errors.New("duplicate")
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("not found")
)

// ListTargetsParams filters and paginates the target listing.
// AfterTime and AfterID form the keyset cursor and are used together.
type ListTargetsParams struct {
	Host      string
	AfterTime time.Time
	AfterID   string
	Limit     int
}

// ListCheckResultsParams filters the results of one target, newest first.
type ListCheckResultsParams struct {
	TargetID string
	Since    *time.Time
	Limit    int
}

// Storer persists link targets and the results of checking them.
type Storer interface {
	CreateTarget(ctx context.Context, target *models.Target, idempotencyKey *string) (*models.Target, error)
	GetTargetByID(ctx context.Context, id string) (*models.Target, error)
	ListTargets(ctx context.Context, params ListTargetsParams) ([]models.Target, error)
	GetAllTargets(ctx context.Context) ([]models.Target, error)

	CreateCheckResult(ctx context.Context, result *models.CheckResult) error
	ListCheckResultsByTargetID(ctx context.Context, params ListCheckResultsParams) ([]models.CheckResult, error)
}

// NewID returns prefix followed by 24 random hex characters.
func NewID(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return prefix + time.Now().UTC().Format("20060102150405.000000")
	}
	return prefix + hex.EncodeToString(b)
}
