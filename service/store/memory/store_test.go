package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/hitloop/model"
	"github.com/viant/hitloop/service/store"
	"github.com/viant/hitloop/service/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestStore_Isolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	record := &model.Record{ID: "r1", Status: model.StatusPending, Metadata: map[string]string{"k": "v"}}
	require.NoError(t, s.Save(ctx, record))
	record.Metadata["k"] = "changed"

	actual, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "v", actual.Metadata["k"])
	actual.Status = model.StatusApproved

	again, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, again.Status)
	assert.Equal(t, 1, s.Len())
}
