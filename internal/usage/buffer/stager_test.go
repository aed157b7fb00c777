package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stagers(t *testing.T) map[string]Stager {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Stager{
		"memory": NewMemoryStager(),
		"redis":  NewRedisStager(client),
	}
}

func TestStagerSwapStartsNewCollection(t *testing.T) {
	for name, s := range stagers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, newEvent(1, 1), start))
			require.NoError(t, s.Append(ctx, newEvent(2, 1), start.Add(time.Minute)))

			taken, err := s.Take(ctx, 1)
			require.NoError(t, err)
			require.Len(t, taken, 2)
			assert.Equal(t, snowflake.ID(1), taken[0].ID)
			assert.Equal(t, snowflake.ID(2), taken[1].ID)

			later := start.Add(time.Hour)
			require.NoError(t, s.Append(ctx, newEvent(3, 1), later))

			stages, err := s.Stages(ctx)
			require.NoError(t, err)
			require.Len(t, stages, 1)
			assert.Equal(t, 1, stages[0].Count)
			assert.Equal(t, later.UnixMilli(), stages[0].CreatedAt.UnixMilli())
		})
	}
}

func TestStagerRestoreKeepsOrderAndOldestCreation(t *testing.T) {
	for name, s := range stagers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, newEvent(1, 1), start))
			taken, err := s.Take(ctx, 1)
			require.NoError(t, err)

			require.NoError(t, s.Append(ctx, newEvent(2, 1), start.Add(time.Hour)))
			require.NoError(t, s.Restore(ctx, 1, taken, start))

			stages, err := s.Stages(ctx)
			require.NoError(t, err)
			require.Len(t, stages, 1)
			assert.Equal(t, 2, stages[0].Count)
			assert.Equal(t, start.UnixMilli(), stages[0].CreatedAt.UnixMilli())

			all, err := s.Take(ctx, 1)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, snowflake.ID(1), all[0].ID)
			assert.Equal(t, snowflake.ID(2), all[1].ID)
		})
	}
}

func TestStagerTakeUnknownOrganization(t *testing.T) {
	for name, s := range stagers(t) {
		t.Run(name, func(t *testing.T) {
			taken, err := s.Take(context.Background(), 42)
			require.NoError(t, err)
			assert.Empty(t, taken)
		})
	}
}
