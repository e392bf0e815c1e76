// Package mysql implements the store on a MySQL database, for deployments
// where multiple engine processes share one store.
package mysql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/MontaserZalloum90/XenonClinic-sub004/backend"
	"github.com/MontaserZalloum90/XenonClinic-sub004/core"
	"github.com/MontaserZalloum90/XenonClinic-sub004/model"
	"github.com/MontaserZalloum90/XenonClinic-sub004/variable"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

// NewMysqlStore creates a store backed by the given MySQL database and
// applies any pending schema migrations.
//
// clientFoundRows is required: the store relies on matched-row counts for
// its conditional updates.
func NewMysqlStore(host string, port int, user, password, database string, opts ...backend.Option) backend.Store {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true&multiStatements=true",
		user, password, host, port, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}

	s := &mysqlStore{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}

	if err := s.migrate(); err != nil {
		panic(err)
	}

	return s
}

type mysqlStore struct {
	db      *sql.DB
	options *backend.Options
}

func (s *mysqlStore) migrate() error {
	dbi, err := migratemysql.WithInstance(s.db, &migratemysql.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "mysql", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

func (s *mysqlStore) Options() *backend.Options {
	return s.options
}

func (s *mysqlStore) Close() error {
	return s.db.Close()
}

func (s *mysqlStore) CreateDefinition(ctx context.Context, def *model.ProcessDefinition) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO `definitions` (id, tenant, def_key, name, created_at) VALUES (?, ?, ?, ?, ?)",
		def.ID, def.Tenant, def.Key, def.Name, def.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting definition: %w", err)
	}

	return nil
}

func (s *mysqlStore) GetDefinition(ctx context.Context, tenant, key string) (*model.ProcessDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, tenant, def_key, name, created_at FROM `definitions` WHERE tenant = ? AND def_key = ?",
		tenant, key)

	var def model.ProcessDefinition
	if err := row.Scan(&def.ID, &def.Tenant, &def.Key, &def.Name, &def.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("selecting definition: %w", err)
	}

	return &def, nil
}

func (s *mysqlStore) CreateVersion(ctx context.Context, version *model.ProcessVersion) error {
	m, err := json.Marshal(version.Model)
	if err != nil {
		return fmt.Errorf("marshaling model: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO `versions` (definition_id, number, model, published, created_at) VALUES (?, ?, ?, ?, ?)",
		version.DefinitionID, version.Number, string(m), version.Published, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting version: %w", err)
	}

	return nil
}

const selectVersion = "SELECT definition_id, number, model, published, created_at FROM `versions`"

func scanVersion(row *sql.Row) (*model.ProcessVersion, error) {
	var version model.ProcessVersion
	var m string
	if err := row.Scan(&version.DefinitionID, &version.Number, &m, &version.Published, &version.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrVersionNotFound
		}

		return nil, fmt.Errorf("selecting version: %w", err)
	}

	if err := json.Unmarshal([]byte(m), &version.Model); err != nil {
		return nil, fmt.Errorf("unmarshaling model: %w", err)
	}

	return &version, nil
}

func (s *mysqlStore) GetVersion(ctx context.Context, definitionID string, number int) (*model.ProcessVersion, error) {
	return scanVersion(s.db.QueryRowContext(ctx,
		selectVersion+" WHERE definition_id = ? AND number = ?", definitionID, number))
}

func (s *mysqlStore) GetPublishedVersion(ctx context.Context, definitionID string) (*model.ProcessVersion, error) {
	return scanVersion(s.db.QueryRowContext(ctx,
		selectVersion+" WHERE definition_id = ? AND published = 1", definitionID))
}

func (s *mysqlStore) GetLatestVersion(ctx context.Context, definitionID string) (*model.ProcessVersion, error) {
	return scanVersion(s.db.QueryRowContext(ctx,
		selectVersion+" WHERE definition_id = ? ORDER BY number DESC LIMIT 1", definitionID))
}

func (s *mysqlStore) PublishVersion(ctx context.Context, definitionID string, number int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE `versions` SET published = 1 WHERE definition_id = ? AND number = ?", definitionID, number)
	if err != nil {
		return fmt.Errorf("publishing version: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return backend.ErrVersionNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE `versions` SET published = 0 WHERE definition_id = ? AND number <> ?", definitionID, number); err != nil {
		return fmt.Errorf("unpublishing previous versions: %w", err)
	}

	return tx.Commit()
}

func (s *mysqlStore) CreateInstance(ctx context.Context, instance *core.Instance) error {
	active, err := json.Marshal(instance.Active)
	if err != nil {
		return fmt.Errorf("marshaling active set: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT IGNORE INTO `instances`"+
			" (id, tenant, definition_id, version, business_key, status, suspend_reason, active,"+
			" parent_instance_id, parent_activity_instance_id, created_at, completed_at, error)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		instance.ID, instance.Tenant, instance.DefinitionID, instance.Version, instance.BusinessKey,
		instance.Status, instance.SuspendReason, string(active),
		instance.ParentInstanceID, instance.ParentActivityInstanceID,
		instance.CreatedAt, instance.CompletedAt, instance.Error)
	if err != nil {
		return fmt.Errorf("inserting instance: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return backend.ErrInstanceAlreadyExists
	}

	return nil
}

func (s *mysqlStore) GetInstance(ctx context.Context, id string) (*core.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, tenant, definition_id, version, business_key, status, suspend_reason, active,"+
			" locked_by, locked_until, parent_instance_id, parent_activity_instance_id,"+
			" created_at, completed_at, error"+
			" FROM `instances` WHERE id = ?", id)

	var instance core.Instance
	var active string
	var lockedBy sql.NullString
	var lockedUntil sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(&instance.ID, &instance.Tenant, &instance.DefinitionID, &instance.Version,
		&instance.BusinessKey, &instance.Status, &instance.SuspendReason, &active,
		&lockedBy, &lockedUntil, &instance.ParentInstanceID, &instance.ParentActivityInstanceID,
		&instance.CreatedAt, &completedAt, &instance.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrInstanceNotFound
		}

		return nil, fmt.Errorf("selecting instance: %w", err)
	}

	if err := json.Unmarshal([]byte(active), &instance.Active); err != nil {
		return nil, fmt.Errorf("unmarshaling active set: %w", err)
	}

	instance.LockedBy = lockedBy.String
	if lockedUntil.Valid {
		instance.LockedUntil = time.Unix(0, lockedUntil.Int64).UTC()
	}
	if completedAt.Valid {
		t := completedAt.Time
		instance.CompletedAt = &t
	}

	return &instance, nil
}

// UpdateInstance persists every instance field except the lock columns,
// which only AcquireLock and ReleaseLock write.
func (s *mysqlStore) UpdateInstance(ctx context.Context, instance *core.Instance) error {
	active, err := json.Marshal(instance.Active)
	if err != nil {
		return fmt.Errorf("marshaling active set: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE `instances` SET"+
			" business_key = ?, status = ?, suspend_reason = ?, active = ?,"+
			" completed_at = ?, error = ?"+
			" WHERE id = ?",
		instance.BusinessKey, instance.Status, instance.SuspendReason, string(active),
		instance.CompletedAt, instance.Error, instance.ID)
	if err != nil {
		return fmt.Errorf("updating instance: %w", err)
	}

	return nil
}

func (s *mysqlStore) AcquireLock(ctx context.Context, instanceID, holder string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE `instances` SET locked_by = ?, locked_until = ?"+
			" WHERE id = ? AND (locked_by IS NULL OR locked_by = '' OR locked_by = ? OR locked_until <= ?)",
		holder, until.UnixNano(), instanceID, holder, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1 FROM `instances` WHERE id = ?", instanceID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.ErrInstanceNotFound
		}

		return fmt.Errorf("checking instance: %w", err)
	}

	return backend.ErrLockContention
}

func (s *mysqlStore) ReleaseLock(ctx context.Context, instanceID, holder string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE `instances` SET locked_by = NULL, locked_until = NULL WHERE id = ? AND locked_by = ?",
		instanceID, holder)
	if err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}

	return nil
}

func (s *mysqlStore) CreateActivityInstance(ctx context.Context, ai *core.ActivityInstance) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO `activity_instances`"+
			" (id, instance_id, activity_id, status, retry_count, join_arrivals, created_at, completed_at, error)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		ai.ID, ai.InstanceID, ai.ActivityID, ai.Status, ai.RetryCount, ai.JoinArrivals,
		ai.CreatedAt, ai.CompletedAt, ai.Error)
	if err != nil {
		return fmt.Errorf("inserting activity instance: %w", err)
	}

	return nil
}

const selectActivityInstance = "SELECT id, instance_id, activity_id, status, retry_count, join_arrivals, created_at, completed_at, error FROM `activity_instances`"

func scanActivityInstance(row interface{ Scan(...any) error }) (*core.ActivityInstance, error) {
	var ai core.ActivityInstance
	var completedAt sql.NullTime

	err := row.Scan(&ai.ID, &ai.InstanceID, &ai.ActivityID, &ai.Status, &ai.RetryCount,
		&ai.JoinArrivals, &ai.CreatedAt, &completedAt, &ai.Error)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		ai.CompletedAt = &t
	}

	return &ai, nil
}

func (s *mysqlStore) GetActivityInstance(ctx context.Context, id string) (*core.ActivityInstance, error) {
	ai, err := scanActivityInstance(s.db.QueryRowContext(ctx, selectActivityInstance+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrActivityInstanceNotFound
	}

	return ai, err
}

func (s *mysqlStore) GetActiveActivityInstance(ctx context.Context, instanceID, activityID string) (*core.ActivityInstance, error) {
	ai, err := scanActivityInstance(s.db.QueryRowContext(ctx,
		selectActivityInstance+" WHERE instance_id = ? AND activity_id = ? AND status = ?",
		instanceID, activityID, core.ActivityActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrActivityInstanceNotFound
	}

	return ai, err
}

func (s *mysqlStore) ListActivityInstances(ctx context.Context, instanceID string) ([]*core.ActivityInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		selectActivityInstance+" WHERE instance_id = ? ORDER BY seq", instanceID)
	if err != nil {
		return nil, fmt.Errorf("selecting activity instances: %w", err)
	}
	defer rows.Close()

	var result []*core.ActivityInstance
	for rows.Next() {
		ai, err := scanActivityInstance(rows)
		if err != nil {
			return nil, err
		}

		result = append(result, ai)
	}

	return result, rows.Err()
}

func (s *mysqlStore) UpdateActivityInstance(ctx context.Context, ai *core.ActivityInstance) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE `activity_instances` SET status = ?, retry_count = ?, join_arrivals = ?, completed_at = ?, error = ? WHERE id = ?",
		ai.Status, ai.RetryCount, ai.JoinArrivals, ai.CompletedAt, ai.Error, ai.ID)
	if err != nil {
		return fmt.Errorf("updating activity instance: %w", err)
	}

	return nil
}

func (s *mysqlStore) GetVariables(ctx context.Context, instanceID string) (map[string]*variable.Value, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, type, data FROM `variables` WHERE instance_id = ?", instanceID)
	if err != nil {
		return nil, fmt.Errorf("selecting variables: %w", err)
	}
	defer rows.Close()

	vars := map[string]*variable.Value{}
	for rows.Next() {
		var name string
		var value variable.Value
		if err := rows.Scan(&name, &value.Type, &value.Data); err != nil {
			return nil, err
		}

		vars[name] = &value
	}

	return vars, rows.Err()
}

func (s *mysqlStore) SetVariables(ctx context.Context, instanceID string, vars map[string]*variable.Value) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for name, value := range vars {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO `variables` (instance_id, name, type, data) VALUES (?, ?, ?, ?)"+
				" ON DUPLICATE KEY UPDATE type = VALUES(type), data = VALUES(data)",
			instanceID, name, value.Type, []byte(value.Data)); err != nil {
			return fmt.Errorf("upserting variable %q: %w", name, err)
		}
	}

	return tx.Commit()
}
