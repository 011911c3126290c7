package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/viant/hitloop/internal/idgen"
	"github.com/viant/hitloop/service/store"
	"github.com/viant/hitloop/service/store/storetest"
)

func TestStore(t *testing.T) {
	URL := os.Getenv("HITLOOP_TEST_REDIS_URL")
	if URL == "" {
		t.Skip("HITLOOP_TEST_REDIS_URL not set")
	}
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(context.Background(), &Config{URL: URL, Prefix: "hitloop-test:" + idgen.Short(8) + ":"})
		require.NoError(t, err)
		return s
	})
}
