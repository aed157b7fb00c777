package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
)

const defaultRedisPrefix = "meterflow:buffer"

var takeScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SREM', KEYS[3], ARGV[1])
return items
`)

var restoreScript = redis.NewScript(`
for i = #ARGV, 3, -1 do
  redis.call('LPUSH', KEYS[1], ARGV[i])
end
local current = redis.call('GET', KEYS[2])
if (not current) or tonumber(current) > tonumber(ARGV[2]) then
  redis.call('SET', KEYS[2], ARGV[2])
end
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`)

// RedisStager stages events in redis lists so several engine processes
// share one buffer. Collection creation times are unix milliseconds.
type RedisStager struct {
	client *redis.Client
	prefix string
}

func NewRedisStager(client *redis.Client) *RedisStager {
	return &RedisStager{client: client, prefix: defaultRedisPrefix}
}

func (s *RedisStager) Backend() string { return "redis" }

func (s *RedisStager) orgsKey() string { return s.prefix + ":orgs" }

func (s *RedisStager) eventsKey(orgID snowflake.ID) string {
	return fmt.Sprintf("%s:%d:events", s.prefix, orgID)
}

func (s *RedisStager) createdKey(orgID snowflake.ID) string {
	return fmt.Sprintf("%s:%d:created", s.prefix, orgID)
}

func (s *RedisStager) deadLetterKey(orgID snowflake.ID) string {
	return fmt.Sprintf("%s:%d:deadletter", s.prefix, orgID)
}

func (s *RedisStager) Append(ctx context.Context, event usagedomain.Event, now time.Time) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.eventsKey(event.OrgID), payload)
		pipe.SetNX(ctx, s.createdKey(event.OrgID), now.UnixMilli(), 0)
		pipe.SAdd(ctx, s.orgsKey(), event.OrgID.String())
		return nil
	})
	return err
}

func (s *RedisStager) Stages(ctx context.Context) ([]Stage, error) {
	members, err := s.client.SMembers(ctx, s.orgsKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	type pending struct {
		orgID   snowflake.ID
		count   *redis.IntCmd
		created *redis.StringCmd
	}
	cmds := make([]pending, 0, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, member := range members {
			orgID, err := snowflake.ParseString(member)
			if err != nil {
				continue
			}
			cmds = append(cmds, pending{
				orgID:   orgID,
				count:   pipe.LLen(ctx, s.eventsKey(orgID)),
				created: pipe.Get(ctx, s.createdKey(orgID)),
			})
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	stages := make([]Stage, 0, len(cmds))
	for _, cmd := range cmds {
		count, err := cmd.count.Result()
		if err != nil || count == 0 {
			continue
		}
		stage := Stage{OrgID: cmd.orgID, Count: int(count)}
		if raw, err := cmd.created.Result(); err == nil {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				stage.CreatedAt = time.UnixMilli(ms).UTC()
			}
		}
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].CreatedAt.Before(stages[j].CreatedAt) })
	return stages, nil
}

func (s *RedisStager) Take(ctx context.Context, orgID snowflake.ID) ([]usagedomain.Event, error) {
	items, err := takeScript.Run(ctx, s.client,
		[]string{s.eventsKey(orgID), s.createdKey(orgID), s.orgsKey()},
		orgID.String(),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// Undecodable entries go to the dead-letter list and never block the
	// rest of the batch.
	var (
		decodeErrs []error
		dead       []any
	)
	events := make([]usagedomain.Event, 0, len(items))
	for _, item := range items {
		var event usagedomain.Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			decodeErrs = append(decodeErrs, fmt.Errorf("decode staged event: %w", err))
			dead = append(dead, item)
			continue
		}
		events = append(events, event)
	}
	if len(dead) == 0 {
		return events, nil
	}

	undecodable := &UndecodableError{
		OrgID: orgID,
		Count: len(dead),
		Key:   s.deadLetterKey(orgID),
		Err:   errors.Join(decodeErrs...),
	}
	if err := s.client.RPush(context.WithoutCancel(ctx), undecodable.Key, dead...).Err(); err != nil {
		undecodable.Key = ""
		undecodable.Err = errors.Join(undecodable.Err, fmt.Errorf("park undecodable events: %w", err))
	}
	return events, undecodable
}

func (s *RedisStager) Restore(ctx context.Context, orgID snowflake.ID, events []usagedomain.Event, createdAt time.Time) error {
	if len(events) == 0 {
		return nil
	}

	args := make([]any, 0, len(events)+2)
	args = append(args, orgID.String(), createdAt.UnixMilli())
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		args = append(args, payload)
	}

	return restoreScript.Run(ctx, s.client,
		[]string{s.eventsKey(orgID), s.createdKey(orgID), s.orgsKey()},
		args...,
	).Err()
}
