package redis

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/backend/test"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip()
	}

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("set REDIS_TEST_ADDR to run redis store tests")
	}

	test.StoreTest(t, func() backend.Store {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
			DB:    1,
		})

		// Each run starts from an empty database.
		require.NoError(t, client.FlushDB(context.Background()).Err())

		return NewRedisStore(client)
	}, nil)
}
