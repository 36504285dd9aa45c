package repository

import (
	"context"
	"errors"
	"time"

	"github.com/familyportal/devicelink/internal/model"
)

var (
	ErrNotFound      = errors.New("pairing code not found")
	ErrConflict      = errors.New("pairing code already exists")
	ErrAlreadyLinked = errors.New("pairing code already linked")
)

// PairingCodeRepository holds the lifecycle of outstanding pairing codes.
//
// MarkLinked must be atomic per code: of any number of concurrent calls on the
// same pending code exactly one succeeds and the rest see ErrAlreadyLinked.
// FindByCode may return records that are past their lifetime but not yet
// swept; callers check expiry themselves.
type PairingCodeRepository interface {
	Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error)
	FindByCode(ctx context.Context, code string) (*model.PairingCode, error)
	MarkLinked(ctx context.Context, params model.MarkLinkedParams) (*model.PairingCode, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Lifetimes are shared by every backend.
type Lifetimes struct {
	PendingTTL  time.Duration
	LinkedGrace time.Duration
}
