// Package redis implements the store on Redis, for deployments that already
// operate Redis and want fast shared state without a relational database.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

type RedisStoreOptions struct {
	*backend.Options

	// KeyPrefix is prepended to every key written by the store.
	KeyPrefix string
}

type RedisStoreOption func(*RedisStoreOptions)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(o *RedisStoreOptions) {
		o.KeyPrefix = prefix
	}
}

func WithStoreOptions(opts ...backend.Option) RedisStoreOption {
	return func(o *RedisStoreOptions) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

var _ backend.Store = (*redisStore)(nil)

func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) backend.Store {
	options := &RedisStoreOptions{
		Options: backend.ApplyOptions(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &redisStore{
		rdb:     client,
		options: options,
	}
}

type redisStore struct {
	rdb     redis.UniversalClient
	options *RedisStoreOptions
}

func (s *redisStore) Options() *backend.Options {
	return s.options.Options
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}

func (s *redisStore) CreateDefinition(ctx context.Context, def *model.ProcessDefinition) error {
	b, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshaling definition: %w", err)
	}

	if err := s.rdb.Set(ctx, definitionKey(s.options.KeyPrefix, def.Tenant, def.Key), b, 0).Err(); err != nil {
		return fmt.Errorf("storing definition: %w", err)
	}

	return nil
}

func (s *redisStore) GetDefinition(ctx context.Context, tenant, key string) (*model.ProcessDefinition, error) {
	b, err := s.rdb.Get(ctx, definitionKey(s.options.KeyPrefix, tenant, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, backend.ErrDefinitionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}

	var def model.ProcessDefinition
	if err := json.Unmarshal(b, &def); err != nil {
		return nil, fmt.Errorf("unmarshaling definition: %w", err)
	}

	return &def, nil
}

func (s *redisStore) CreateVersion(ctx context.Context, version *model.ProcessVersion) error {
	b, err := json.Marshal(version)
	if err != nil {
		return fmt.Errorf("marshaling version: %w", err)
	}

	if err := s.rdb.HSet(ctx, versionsKey(s.options.KeyPrefix, version.DefinitionID),
		strconv.Itoa(version.Number), b).Err(); err != nil {
		return fmt.Errorf("storing version: %w", err)
	}

	return nil
}

// publishedNumber returns the published version number of a definition, or 0.
func (s *redisStore) publishedNumber(ctx context.Context, definitionID string) (int, error) {
	v, err := s.rdb.Get(ctx, publishedKey(s.options.KeyPrefix, definitionID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading published version: %w", err)
	}

	return v, nil
}

func (s *redisStore) getVersion(ctx context.Context, definitionID string, number int) (*model.ProcessVersion, error) {
	b, err := s.rdb.HGet(ctx, versionsKey(s.options.KeyPrefix, definitionID), strconv.Itoa(number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, backend.ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}

	var version model.ProcessVersion
	if err := json.Unmarshal(b, &version); err != nil {
		return nil, fmt.Errorf("unmarshaling version: %w", err)
	}

	// Published is derived from the published pointer, not the stored copy.
	published, err := s.publishedNumber(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	version.Published = version.Number == published

	return &version, nil
}

func (s *redisStore) GetVersion(ctx context.Context, definitionID string, number int) (*model.ProcessVersion, error) {
	return s.getVersion(ctx, definitionID, number)
}

func (s *redisStore) GetPublishedVersion(ctx context.Context, definitionID string) (*model.ProcessVersion, error) {
	published, err := s.publishedNumber(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if published == 0 {
		return nil, backend.ErrVersionNotFound
	}

	return s.getVersion(ctx, definitionID, published)
}

func (s *redisStore) GetLatestVersion(ctx context.Context, definitionID string) (*model.ProcessVersion, error) {
	numbers, err := s.rdb.HKeys(ctx, versionsKey(s.options.KeyPrefix, definitionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}

	latest := 0
	for _, n := range numbers {
		number, err := strconv.Atoi(n)
		if err != nil {
			continue
		}
		if number > latest {
			latest = number
		}
	}

	if latest == 0 {
		return nil, backend.ErrVersionNotFound
	}

	return s.getVersion(ctx, definitionID, latest)
}

func (s *redisStore) PublishVersion(ctx context.Context, definitionID string, number int) error {
	exists, err := s.rdb.HExists(ctx, versionsKey(s.options.KeyPrefix, definitionID), strconv.Itoa(number)).Result()
	if err != nil {
		return fmt.Errorf("checking version: %w", err)
	}
	if !exists {
		return backend.ErrVersionNotFound
	}

	if err := s.rdb.Set(ctx, publishedKey(s.options.KeyPrefix, definitionID), number, 0).Err(); err != nil {
		return fmt.Errorf("storing published version: %w", err)
	}

	return nil
}

// storedInstance strips the lock fields; the lock lives in its own key with
// a native expiry.
func storedInstance(instance *core.Instance) ([]byte, error) {
	copied := *instance
	copied.LockedBy = ""
	copied.LockedUntil = time.Time{}

	return json.Marshal(&copied)
}

func (s *redisStore) CreateInstance(ctx context.Context, instance *core.Instance) error {
	b, err := storedInstance(instance)
	if err != nil {
		return fmt.Errorf("marshaling instance: %w", err)
	}

	created, err := s.rdb.SetNX(ctx, instanceKey(s.options.KeyPrefix, instance.ID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("storing instance: %w", err)
	}
	if !created {
		return backend.ErrInstanceAlreadyExists
	}

	return nil
}

func (s *redisStore) GetInstance(ctx context.Context, id string) (*core.Instance, error) {
	b, err := s.rdb.Get(ctx, instanceKey(s.options.KeyPrefix, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, backend.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading instance: %w", err)
	}

	var instance core.Instance
	if err := json.Unmarshal(b, &instance); err != nil {
		return nil, fmt.Errorf("unmarshaling instance: %w", err)
	}

	holder, err := s.rdb.Get(ctx, lockKey(s.options.KeyPrefix, id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading lock: %w", err)
	}
	instance.LockedBy = holder

	return &instance, nil
}

func (s *redisStore) UpdateInstance(ctx context.Context, instance *core.Instance) error {
	b, err := storedInstance(instance)
	if err != nil {
		return fmt.Errorf("marshaling instance: %w", err)
	}

	if err := s.rdb.Set(ctx, instanceKey(s.options.KeyPrefix, instance.ID), b, 0).Err(); err != nil {
		return fmt.Errorf("storing instance: %w", err)
	}

	return nil
}

// acquireLockCmd takes the lock when it is free or already held by the same
// holder, refreshing the expiry.
var acquireLockCmd = redis.NewScript(`
	local holder = redis.call("GET", KEYS[1])
	if holder == false or holder == ARGV[1] then
		redis.call("SET", KEYS[1], ARGV[1], "PXAT", ARGV[2])
		return 1
	end
	return 0
`)

func (s *redisStore) AcquireLock(ctx context.Context, instanceID, holder string, until time.Time) error {
	exists, err := s.rdb.Exists(ctx, instanceKey(s.options.KeyPrefix, instanceID)).Result()
	if err != nil {
		return fmt.Errorf("checking instance: %w", err)
	}
	if exists == 0 {
		return backend.ErrInstanceNotFound
	}

	acquired, err := acquireLockCmd.Run(ctx, s.rdb,
		[]string{lockKey(s.options.KeyPrefix, instanceID)},
		holder, until.UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if acquired == 0 {
		return backend.ErrLockContention
	}

	return nil
}

// releaseLockCmd deletes the lock only when held by the given holder.
var releaseLockCmd = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		redis.call("DEL", KEYS[1])
	end
	return 1
`)

func (s *redisStore) ReleaseLock(ctx context.Context, instanceID, holder string) error {
	if err := releaseLockCmd.Run(ctx, s.rdb,
		[]string{lockKey(s.options.KeyPrefix, instanceID)}, holder).Err(); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}

	return nil
}

func (s *redisStore) CreateActivityInstance(ctx context.Context, ai *core.ActivityInstance) error {
	b, err := json.Marshal(ai)
	if err != nil {
		return fmt.Errorf("marshaling activity instance: %w", err)
	}

	p := s.rdb.TxPipeline()
	p.Set(ctx, activityInstanceKey(s.options.KeyPrefix, ai.ID), b, 0)
	p.RPush(ctx, activityInstancesKey(s.options.KeyPrefix, ai.InstanceID), ai.ID)
	if ai.Status == core.ActivityActive {
		p.Set(ctx, activeActivityKey(s.options.KeyPrefix, ai.InstanceID, ai.ActivityID), ai.ID, 0)
	}
	if _, err := p.Exec(ctx); err != nil {
		return fmt.Errorf("storing activity instance: %w", err)
	}

	return nil
}

func (s *redisStore) GetActivityInstance(ctx context.Context, id string) (*core.ActivityInstance, error) {
	b, err := s.rdb.Get(ctx, activityInstanceKey(s.options.KeyPrefix, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, backend.ErrActivityInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading activity instance: %w", err)
	}

	var ai core.ActivityInstance
	if err := json.Unmarshal(b, &ai); err != nil {
		return nil, fmt.Errorf("unmarshaling activity instance: %w", err)
	}

	return &ai, nil
}

func (s *redisStore) GetActiveActivityInstance(ctx context.Context, instanceID, activityID string) (*core.ActivityInstance, error) {
	id, err := s.rdb.Get(ctx, activeActivityKey(s.options.KeyPrefix, instanceID, activityID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, backend.ErrActivityInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading active activity pointer: %w", err)
	}

	return s.GetActivityInstance(ctx, id)
}

func (s *redisStore) ListActivityInstances(ctx context.Context, instanceID string) ([]*core.ActivityInstance, error) {
	ids, err := s.rdb.LRange(ctx, activityInstancesKey(s.options.KeyPrefix, instanceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing activity instances: %w", err)
	}

	result := make([]*core.ActivityInstance, 0, len(ids))
	for _, id := range ids {
		ai, err := s.GetActivityInstance(ctx, id)
		if err != nil {
			return nil, err
		}

		result = append(result, ai)
	}

	return result, nil
}

// clearActiveCmd removes the active pointer only while it still points at
// the given activity instance.
var clearActiveCmd = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		redis.call("DEL", KEYS[1])
	end
	return 1
`)

func (s *redisStore) UpdateActivityInstance(ctx context.Context, ai *core.ActivityInstance) error {
	b, err := json.Marshal(ai)
	if err != nil {
		return fmt.Errorf("marshaling activity instance: %w", err)
	}

	if err := s.rdb.Set(ctx, activityInstanceKey(s.options.KeyPrefix, ai.ID), b, 0).Err(); err != nil {
		return fmt.Errorf("storing activity instance: %w", err)
	}

	active := activeActivityKey(s.options.KeyPrefix, ai.InstanceID, ai.ActivityID)
	if ai.Status == core.ActivityActive {
		if err := s.rdb.Set(ctx, active, ai.ID, 0).Err(); err != nil {
			return fmt.Errorf("storing active activity pointer: %w", err)
		}
	} else {
		if err := clearActiveCmd.Run(ctx, s.rdb, []string{active}, ai.ID).Err(); err != nil {
			return fmt.Errorf("clearing active activity pointer: %w", err)
		}
	}

	return nil
}

func (s *redisStore) GetVariables(ctx context.Context, instanceID string) (map[string]*variable.Value, error) {
	entries, err := s.rdb.HGetAll(ctx, variablesKey(s.options.KeyPrefix, instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading variables: %w", err)
	}

	vars := make(map[string]*variable.Value, len(entries))
	for name, raw := range entries {
		var value variable.Value
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("unmarshaling variable %q: %w", name, err)
		}

		vars[name] = &value
	}

	return vars, nil
}

func (s *redisStore) SetVariables(ctx context.Context, instanceID string, vars map[string]*variable.Value) error {
	if len(vars) == 0 {
		return nil
	}

	fields := make(map[string]any, len(vars))
	for name, value := range vars {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshaling variable %q: %w", name, err)
		}

		fields[name] = b
	}

	if err := s.rdb.HSet(ctx, variablesKey(s.options.KeyPrefix, instanceID), fields).Err(); err != nil {
		return fmt.Errorf("storing variables: %w", err)
	}

	return nil
}
