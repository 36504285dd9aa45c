package model

import (
	"time"
)

type PairingStatus string

const (
	PairingStatusPending PairingStatus = "pending"
	PairingStatusLinked  PairingStatus = "linked"
)

// Credential is the bearer token handed to the TV once a code is linked.
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Identity is the minimal profile returned by the identity provider.
type Identity struct {
	Subject string `json:"sub"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

type PairingCode struct {
	ID         string        `db:"id" json:"id"`
	Code       string        `db:"code" json:"code"`
	Status     PairingStatus `db:"status" json:"status"`
	Credential *Credential   `db:"-" json:"credential,omitempty"`
	Identity   *Identity     `db:"-" json:"identity,omitempty"`
	CreatedAt  time.Time     `db:"created_at" json:"createdAt"`
	LinkedAt   *time.Time    `db:"linked_at" json:"linkedAt,omitempty"`
}

func (p *PairingCode) IsLinked() bool {
	return p.Status == PairingStatusLinked
}

// ExpiredAt reports whether the record is past its lifetime at now: pending
// codes live for pendingTTL from creation, linked codes for linkedGrace from
// the link.
func (p *PairingCode) ExpiredAt(now time.Time, pendingTTL, linkedGrace time.Duration) bool {
	if p.IsLinked() && p.LinkedAt != nil {
		return now.After(p.LinkedAt.Add(linkedGrace))
	}
	return now.After(p.CreatedAt.Add(pendingTTL))
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (p *PairingCode) Clone() *PairingCode {
	c := *p
	if p.Credential != nil {
		cred := *p.Credential
		c.Credential = &cred
	}
	if p.Identity != nil {
		id := *p.Identity
		c.Identity = &id
	}
	if p.LinkedAt != nil {
		at := *p.LinkedAt
		c.LinkedAt = &at
	}
	return &c
}

type CreatePairingCodeParams struct {
	ID        string
	Code      string
	CreatedAt time.Time
}

type MarkLinkedParams struct {
	Code       string
	Credential Credential
	Identity   Identity
	LinkedAt   time.Time
}
