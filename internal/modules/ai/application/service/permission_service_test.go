package service

import (
	"context"
	"errors"
	"testing"

	"InsightLink/internal/modules/ai/domain/contextitem"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGrants struct {
	domains map[string][]string
	err     error
}

func (s stubGrants) ListDomains(_ context.Context, userID string) ([]string, error) {
	return s.domains[userID], s.err
}
func (s stubGrants) Grant(context.Context, string, ...string) error { return nil }
func (s stubGrants) Revoke(context.Context, string, string) error   { return nil }

func withDomain(d string) contextitem.ContextItem {
	return contextitem.ContextItem{Namespace: "metric", Key: d, Metadata: map[string]string{contextitem.MetaDomain: d}}
}

func TestBuildPermission(t *testing.T) {
	tests := []struct {
		name    string
		domains []string
		allowed []string
		denied  []string
	}{
		{name: "none", domains: nil, allowed: []string{""}, denied: []string{"sales", "hr"}},
		{name: "sales", domains: []string{"sales"}, allowed: []string{"", "sales"}, denied: []string{"hr"}},
		{name: "wildcard", domains: []string{"*"}, allowed: []string{"", "sales", "hr"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BuildPermission("u1", tt.domains)
			assert.Equal(t, "u1", p.UserID)
			for _, d := range tt.allowed {
				assert.True(t, p.Allows(withDomain(d)), d)
			}
			for _, d := range tt.denied {
				assert.False(t, p.Allows(withDomain(d)), d)
			}
		})
	}
}

func TestPermissionFingerprint(t *testing.T) {
	a := BuildPermission("u1", []string{"sales", "hr"})
	b := BuildPermission("u2", []string{"hr", " sales", "sales"})
	c := BuildPermission("u1", []string{"sales"})

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
	assert.Equal(t, "public", BuildPermission("u1", nil).Fingerprint)
	assert.Equal(t, GrantAll, BuildPermission("u1", []string{"hr", "*"}).Fingerprint)
}

func TestPermissionProvider(t *testing.T) {
	p := NewPermissionProvider(stubGrants{domains: map[string][]string{"u1": {"sales"}}})
	perm, err := p.PermissionFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, perm.Allows(withDomain("sales")))
	assert.False(t, perm.Allows(withDomain("hr")))

	boom := errors.New("db down")
	_, err = NewPermissionProvider(stubGrants{err: boom}).PermissionFor(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}
