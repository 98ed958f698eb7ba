package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole_CanReview(t *testing.T) {
	assert.True(t, RoleManager.CanReview())
	assert.True(t, RoleAdmin.CanReview())
	assert.True(t, RoleSuperAdmin.CanReview())
	assert.False(t, RoleStaff.CanReview())
	assert.False(t, Role("chef").CanReview())
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleStaff.Valid())
	assert.False(t, Role("").Valid())
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{UserID: "u-1", Role: RoleManager})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "u-1", p.UserID)
	assert.Equal(t, RoleManager, p.Role)
}

func TestPrincipal_Actor(t *testing.T) {
	p := Principal{UserID: "u-2", Name: "Dana", Role: RoleAdmin}
	a := p.Actor("192.0.2.7", "console/2.1")

	assert.Equal(t, Actor{UserID: "u-2", Role: RoleAdmin, IPAddress: "192.0.2.7", UserAgent: "console/2.1"}, a)
	assert.Empty(t, System.UserID)
}
