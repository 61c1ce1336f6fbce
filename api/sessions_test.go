package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parcela-engine/parcela"
)

func TestSessionRegistry_Expire(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewSessionRegistry()
	r.now = func() time.Time { return now }

	p := parcela.Policy{ID: "apl-1"}
	old := r.Open(p, parcela.NewSession(parcela.Derivation{PolicyID: p.ID}))
	now = now.Add(time.Hour)
	fresh := r.Open(p, parcela.NewSession(parcela.Derivation{PolicyID: p.ID}))

	assert.Equal(t, 1, r.Expire(30*time.Minute))
	assert.ErrorIs(t, r.With(old, func(*parcela.Policy, *parcela.Session) error { return nil }), ErrSessionNotFound)
	assert.NoError(t, r.With(fresh, func(*parcela.Policy, *parcela.Session) error { return nil }))
}

func TestSessionRegistry_CloseForPolicy(t *testing.T) {
	r := NewSessionRegistry()
	a := parcela.Policy{ID: "a"}
	b := parcela.Policy{ID: "b"}
	r.Open(a, parcela.NewSession(parcela.Derivation{PolicyID: a.ID}))
	r.Open(a, parcela.NewSession(parcela.Derivation{PolicyID: a.ID}))
	kept := r.Open(b, parcela.NewSession(parcela.Derivation{PolicyID: b.ID}))

	assert.Equal(t, 2, r.CloseForPolicy("a"))
	require.Equal(t, 1, r.Len())
	assert.True(t, r.Close(kept))
	assert.False(t, r.Close(kept))
}
