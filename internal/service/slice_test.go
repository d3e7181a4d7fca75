package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketescrow/internal/errors"
	"marketescrow/internal/model"
)

func TestSliceService_AssignProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := f.newUser(model.RoleClient, 100, "US")
	otherClient := f.newUser(model.RoleClient, 100, "US")
	provider := f.newUser(model.RoleProvider, 100, "US")

	newSlice := func(t *testing.T) *model.Slice {
		t.Helper()
		slice, err := f.slices.CreateSlice(ctx, actorOf(client), CreateSliceInput{Title: "Fence repair", PriceCents: 5_000, Currency: "usd"})
		require.NoError(t, err)
		return slice
	}

	tests := []struct {
		name       string
		providerID uuid.UUID
		actor      Actor
		wantErr    error
	}{
		{name: "client as provider", providerID: otherClient.ID, actor: actorOf(client), wantErr: errors.ErrInvalidInput},
		{name: "admin as provider", providerID: f.admin.ID, actor: actorOf(client), wantErr: errors.ErrInvalidInput},
		{name: "creator as provider", providerID: client.ID, actor: actorOf(client), wantErr: errors.ErrInvalidInput},
		{name: "unknown provider", providerID: uuid.New(), actor: actorOf(client), wantErr: errors.ErrNotFound},
		{name: "not the creator", providerID: provider.ID, actor: actorOf(otherClient), wantErr: errors.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slice := newSlice(t)
			_, err := f.slices.AssignProvider(ctx, slice.ID, tt.providerID, tt.actor)
			assert.ErrorIs(t, err, tt.wantErr)

			stored := f.store.slice(slice.ID)
			assert.Equal(t, model.SliceStatusOpen, stored.Status)
			assert.Nil(t, stored.AssignedProviderID)
		})
	}

	t.Run("provider is assigned", func(t *testing.T) {
		slice := newSlice(t)
		assigned, err := f.slices.AssignProvider(ctx, slice.ID, provider.ID, actorOf(client))
		require.NoError(t, err)
		assert.Equal(t, model.SliceStatusAccepted, assigned.Status)
		require.NotNil(t, assigned.AssignedProviderID)
		assert.Equal(t, provider.ID, *assigned.AssignedProviderID)
	})
}
