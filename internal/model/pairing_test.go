package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPairingCodeExpiredAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pending expires after pending ttl", func(t *testing.T) {
		pc := &PairingCode{Status: PairingStatusPending, CreatedAt: created}

		assert.False(t, pc.ExpiredAt(created.Add(9*time.Minute), 10*time.Minute, time.Minute))
		assert.True(t, pc.ExpiredAt(created.Add(11*time.Minute), 10*time.Minute, time.Minute))
	})

	t.Run("linked uses grace from link time", func(t *testing.T) {
		linkedAt := created.Add(9 * time.Minute)
		pc := &PairingCode{Status: PairingStatusLinked, CreatedAt: created, LinkedAt: &linkedAt}

		assert.False(t, pc.ExpiredAt(created.Add(10*time.Minute), 10*time.Minute, 2*time.Minute))
		assert.True(t, pc.ExpiredAt(created.Add(12*time.Minute), 10*time.Minute, 2*time.Minute))
	})
}

func TestPairingCodeClone(t *testing.T) {
	linkedAt := time.Now()
	pc := &PairingCode{
		Code:       "ABC234",
		Status:     PairingStatusLinked,
		Credential: &Credential{Token: "tok"},
		Identity:   &Identity{Subject: "u1"},
		LinkedAt:   &linkedAt,
	}

	c := pc.Clone()
	c.Credential.Token = "other"
	c.Identity.Subject = "u2"

	assert.Equal(t, "tok", pc.Credential.Token)
	assert.Equal(t, "u1", pc.Identity.Subject)
}
