package repository

import (
	"context"
	"sync"
	"time"

	"github.com/familyportal/devicelink/internal/model"
)

type memoryEntry struct {
	mu      sync.Mutex
	record  *model.PairingCode
	removed bool
}

// memoryPairingRepo keeps codes in process memory. The map lock only guards
// membership; each entry carries its own lock for the pending->linked step.
// Lock order is map then entry. An entry dropped from the map is flagged
// removed so a link already past its lookup cannot revive it.
type memoryPairingRepo struct {
	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	lifetimes Lifetimes
}

func NewMemoryPairingCodeRepository(lifetimes Lifetimes) PairingCodeRepository {
	return &memoryPairingRepo{
		entries:   make(map[string]*memoryEntry),
		lifetimes: lifetimes,
	}
}

func (r *memoryPairingRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[params.Code]; ok {
		existing.mu.Lock()
		expired := existing.record.ExpiredAt(params.CreatedAt, r.lifetimes.PendingTTL, r.lifetimes.LinkedGrace)
		existing.removed = expired
		existing.mu.Unlock()
		if !expired {
			return nil, ErrConflict
		}
	}

	pc := &model.PairingCode{
		ID:        params.ID,
		Code:      params.Code,
		Status:    model.PairingStatusPending,
		CreatedAt: params.CreatedAt,
	}
	r.entries[params.Code] = &memoryEntry{record: pc}

	return pc.Clone(), nil
}

func (r *memoryPairingRepo) lookup(code string) *memoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[code]
}

func (r *memoryPairingRepo) FindByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	entry := r.lookup(code)
	if entry == nil {
		return nil, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.record.Clone(), nil
}

func (r *memoryPairingRepo) MarkLinked(ctx context.Context, params model.MarkLinkedParams) (*model.PairingCode, error) {
	entry := r.lookup(params.Code)
	if entry == nil {
		return nil, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.removed {
		return nil, ErrNotFound
	}
	if entry.record.IsLinked() {
		return nil, ErrAlreadyLinked
	}
	if entry.record.ExpiredAt(params.LinkedAt, r.lifetimes.PendingTTL, r.lifetimes.LinkedGrace) {
		return nil, ErrNotFound
	}

	cred := params.Credential
	identity := params.Identity
	linkedAt := params.LinkedAt

	entry.record.Status = model.PairingStatusLinked
	entry.record.Credential = &cred
	entry.record.Identity = &identity
	entry.record.LinkedAt = &linkedAt

	return entry.record.Clone(), nil
}

func (r *memoryPairingRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for code, entry := range r.entries {
		entry.mu.Lock()
		expired := entry.record.ExpiredAt(now, r.lifetimes.PendingTTL, r.lifetimes.LinkedGrace)
		entry.removed = expired
		entry.mu.Unlock()

		if expired {
			delete(r.entries, code)
			count++
		}
	}
	return count, nil
}

func (r *memoryPairingRepo) Ping(ctx context.Context) error {
	return nil
}
