// Package memory provides an in-memory store, used for tests and for
// embedding the engine without external infrastructure.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

type memoryStore struct {
	mu sync.Mutex

	definitions map[string]*model.ProcessDefinition          // by id
	versions    map[string]map[int]*model.ProcessVersion     // by definition id, number
	instances   map[string]*core.Instance                    // by id
	activities  map[string]map[string]*core.ActivityInstance // by instance id, activity instance id
	order       map[string][]string                          // activity instance ids per instance, oldest first
	variables   map[string]map[string]*variable.Value        // by instance id, name

	options *backend.Options
}

func NewMemoryStore(opts ...backend.Option) backend.Store {
	return &memoryStore{
		definitions: map[string]*model.ProcessDefinition{},
		versions:    map[string]map[int]*model.ProcessVersion{},
		instances:   map[string]*core.Instance{},
		activities:  map[string]map[string]*core.ActivityInstance{},
		order:       map[string][]string{},
		variables:   map[string]map[string]*variable.Value{},
		options:     backend.ApplyOptions(opts...),
	}
}

func (s *memoryStore) CreateDefinition(ctx context.Context, def *model.ProcessDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := *def
	s.definitions[def.ID] = &d

	return nil
}

func (s *memoryStore) GetDefinition(ctx context.Context, tenant, key string) (*model.ProcessDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range s.definitions {
		if def.Tenant == tenant && def.Key == key {
			d := *def
			return &d, nil
		}
	}

	return nil, backend.ErrDefinitionNotFound
}

func (s *memoryStore) CreateVersion(ctx context.Context, version *model.ProcessVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.versions[version.DefinitionID] == nil {
		s.versions[version.DefinitionID] = map[int]*model.ProcessVersion{}
	}

	v := *version
	s.versions[version.DefinitionID][version.Number] = &v

	return nil
}

func (s *memoryStore) GetVersion(ctx context.Context, definitionID string, number int) (*model.ProcessVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version, ok := s.versions[definitionID][number]
	if !ok {
		return nil, backend.ErrVersionNotFound
	}

	v := *version

	return &v, nil
}

func (s *memoryStore) GetPublishedVersion(ctx context.Context, definitionID string) (*model.ProcessVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, version := range s.versions[definitionID] {
		if version.Published {
			v := *version
			return &v, nil
		}
	}

	return nil, backend.ErrVersionNotFound
}

func (s *memoryStore) GetLatestVersion(ctx context.Context, definitionID string) (*model.ProcessVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.ProcessVersion
	for _, version := range s.versions[definitionID] {
		if latest == nil || version.Number > latest.Number {
			latest = version
		}
	}

	if latest == nil {
		return nil, backend.ErrVersionNotFound
	}

	v := *latest

	return &v, nil
}

func (s *memoryStore) PublishVersion(ctx context.Context, definitionID string, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.versions[definitionID]
	if _, ok := versions[number]; !ok {
		return backend.ErrVersionNotFound
	}

	for _, v := range versions {
		v.Published = v.Number == number
	}

	return nil
}

func (s *memoryStore) CreateInstance(ctx context.Context, instance *core.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[instance.ID]; ok {
		return backend.ErrInstanceAlreadyExists
	}

	i := copyInstance(instance)
	s.instances[instance.ID] = i

	return nil
}

func (s *memoryStore) GetInstance(ctx context.Context, id string) (*core.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, backend.ErrInstanceNotFound
	}

	return copyInstance(instance), nil
}

func (s *memoryStore) UpdateInstance(ctx context.Context, instance *core.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.instances[instance.ID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	i := copyInstance(instance)
	// Lock fields are owned by Acquire/ReleaseLock.
	i.LockedBy = existing.LockedBy
	i.LockedUntil = existing.LockedUntil
	s.instances[instance.ID] = i

	return nil
}

// copyInstance copies the record including the active set's backing array,
// so callers mutating their instance cannot reach the stored one.
func copyInstance(instance *core.Instance) *core.Instance {
	i := *instance
	i.Active = instance.Active.Clone()

	return &i
}

func (s *memoryStore) AcquireLock(ctx context.Context, instanceID, holder string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	if instance.LockedBy != "" && instance.LockedBy != holder && time.Now().Before(instance.LockedUntil) {
		return backend.ErrLockContention
	}

	instance.LockedBy = holder
	instance.LockedUntil = until

	return nil
}

func (s *memoryStore) ReleaseLock(ctx context.Context, instanceID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[instanceID]
	if !ok {
		return backend.ErrInstanceNotFound
	}

	if instance.LockedBy == holder {
		instance.LockedBy = ""
		instance.LockedUntil = time.Time{}
	}

	return nil
}

func (s *memoryStore) CreateActivityInstance(ctx context.Context, ai *core.ActivityInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activities[ai.InstanceID] == nil {
		s.activities[ai.InstanceID] = map[string]*core.ActivityInstance{}
	}

	a := *ai
	s.activities[ai.InstanceID][ai.ID] = &a
	s.order[ai.InstanceID] = append(s.order[ai.InstanceID], ai.ID)

	return nil
}

func (s *memoryStore) GetActivityInstance(ctx context.Context, id string) (*core.ActivityInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, byID := range s.activities {
		if ai, ok := byID[id]; ok {
			a := *ai
			return &a, nil
		}
	}

	return nil, backend.ErrActivityInstanceNotFound
}

func (s *memoryStore) GetActiveActivityInstance(ctx context.Context, instanceID, activityID string) (*core.ActivityInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order[instanceID] {
		ai := s.activities[instanceID][id]
		if ai.ActivityID == activityID && ai.Status == core.ActivityActive {
			a := *ai
			return &a, nil
		}
	}

	return nil, backend.ErrActivityInstanceNotFound
}

func (s *memoryStore) ListActivityInstances(ctx context.Context, instanceID string) ([]*core.ActivityInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*core.ActivityInstance
	for _, id := range s.order[instanceID] {
		a := *s.activities[instanceID][id]
		result = append(result, &a)
	}

	return result, nil
}

func (s *memoryStore) UpdateActivityInstance(ctx context.Context, ai *core.ActivityInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := s.activities[ai.InstanceID]
	if _, ok := byID[ai.ID]; !ok {
		return backend.ErrActivityInstanceNotFound
	}

	a := *ai
	byID[ai.ID] = &a

	return nil
}

func (s *memoryStore) GetVariables(ctx context.Context, instanceID string) (map[string]*variable.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars := make(map[string]*variable.Value, len(s.variables[instanceID]))
	for name, value := range s.variables[instanceID] {
		vars[name] = value
	}

	return vars, nil
}

func (s *memoryStore) SetVariables(ctx context.Context, instanceID string, vars map[string]*variable.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.variables[instanceID] == nil {
		s.variables[instanceID] = map[string]*variable.Value{}
	}

	for name, value := range vars {
		s.variables[instanceID][name] = value
	}

	return nil
}

func (s *memoryStore) Options() *backend.Options {
	return s.options
}

func (s *memoryStore) Close() error {
	return nil
}
