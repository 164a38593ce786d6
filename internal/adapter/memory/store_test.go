package memory

import (
	"context"
	"testing"

	"github.com/JannisRoesner/PICARD-sub000/internal/adapter/storetest"
	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) domain.Store { return NewStore() })
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	session := storetest.NewSession("Sitzung", "P1")
	session.Items[0].Namensliste = []string{"Anna"}
	_, err := s.CreateSession(ctx, session)
	require.NoError(t, err)

	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	got.Items[0].Namensliste[0] = "mutated"
	got.Items[0].Nummer = 99

	again, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Anna", again.Items[0].Namensliste[0])
	assert.Equal(t, 1, again.Items[0].Nummer)
}
