// Package polyorm provides an active-record style data-access layer over two
// backing stores: a relational engine compiled to parameterized SQL and a
// document engine compiled to native filter trees. Entity types are declared
// as static definitions, registered at startup, queried through a fluent
// builder and resolved into relationship graphs with batched loaders.
package polyorm

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polystore/polyorm/pkg/core"
	"github.com/polystore/polyorm/pkg/entity"
	"github.com/polystore/polyorm/pkg/errors"
	"github.com/polystore/polyorm/pkg/logger"
	"github.com/polystore/polyorm/pkg/query"
	"github.com/polystore/polyorm/pkg/relations"
	"github.com/polystore/polyorm/pkg/schema"
	"github.com/polystore/polyorm/pkg/session"
)

// DB is the main PolyORM instance: one registry, one backend, one
// relationship engine.
type DB struct {
	cfg      *session.Config
	registry *schema.Registry
	backend  query.Backend
	rel      *relations.Engine
	log      logger.Logger

	sqlExec core.SQLExecutor
	docExec core.DocumentExecutor
}

// Option configures a DB during New.
type Option func(*DB)

// WithSQL installs the relational executor.
func WithSQL(exec core.SQLExecutor) Option {
	return func(db *DB) { db.sqlExec = exec }
}

// WithDocument installs the document-store executor.
func WithDocument(exec core.DocumentExecutor) Option {
	return func(db *DB) { db.docExec = exec }
}

// WithLogger overrides the config-derived logger.
func WithLogger(l logger.Logger) Option {
	return func(db *DB) { db.log = l }
}

// New creates a PolyORM instance for the configured engine.
func New(cfg *session.Config, opts ...Option) (*DB, error) {
	if cfg == nil {
		cfg = session.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db := &DB{
		cfg:      cfg,
		registry: schema.NewRegistry(),
	}
	for _, opt := range opts {
		opt(db)
	}
	if db.log == nil {
		db.log = configLogger(cfg.LogLevel)
	}

	switch cfg.Engine {
	case session.EngineDocument:
		if db.docExec == nil {
			return nil, errors.New("new", "", errors.ErrNoExecutor)
		}
		db.backend = query.NewDocumentBackend(db.docExec, db.registry, db.log)
		db.rel = relations.NewEngine(db.registry, db.backend, db.log, true)
	default:
		if db.sqlExec == nil {
			return nil, errors.New("new", "", errors.ErrNoExecutor)
		}
		db.backend = query.NewSQLBackend(db.sqlExec, db.registry)
		db.rel = relations.NewEngine(db.registry, db.backend, db.log, false)
	}
	return db, nil
}

func configLogger(level string) logger.Logger {
	if level == "" || level == "disabled" {
		return logger.Nop()
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.WarnLevel
	}
	return logger.New(os.Stderr, parsed)
}

// Register registers entity definitions. Call once at startup before
// querying.
func (db *DB) Register(defs ...*schema.Definition) error {
	for _, def := range defs {
		if err := db.registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the definition registry.
func (db *DB) Registry() *schema.Registry { return db.registry }

// Relations exposes the relationship engine for association management.
func (db *DB) Relations() *relations.Engine { return db.rel }

// Model returns a new query builder for the named entity type.
func (db *DB) Model(name string) *query.Builder {
	def, err := db.registry.Lookup(name)
	if err != nil {
		return query.NewFailedBuilder(err)
	}
	return query.NewBuilder(def, db.registry, db.backend, db.rel, db.log).
		MaxPerPage(db.cfg.MaxPerPage)
}

// NewEntity constructs an unsaved entity from caller input.
func (db *DB) NewEntity(name string, data map[string]any) (*entity.Entity, error) {
	def, err := db.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return entity.NewFromInput(def, data), nil
}

// Save persists e: a non-existing entity inserts its full attribute set and
// is marked existing; an existing entity writes only its dirty fields keyed
// by primary key. Timestamps refresh when the type opts in.
func (db *DB) Save(ctx context.Context, e *entity.Entity) error {
	def := e.Definition()

	if def.Timestamps {
		now := time.Now().UTC()
		if !e.Exists() && e.GetRaw(schema.CreatedAtField) == nil {
			e.SetAttribute(schema.CreatedAtField, now)
		}
		e.SetAttribute(schema.UpdatedAtField, now)
	}

	if !e.Exists() {
		if e.Key() == nil && !def.AutoIncrement {
			e.SetAttribute(def.PrimaryKey, uuid.NewString())
		}
		key, err := db.backend.InsertRow(ctx, def, e.Attributes())
		if err != nil {
			return err
		}
		if e.Key() == nil && key != nil {
			e.SetAttribute(def.PrimaryKey, key)
		}
		e.SetExists(true)
		e.SyncOriginal()
		return nil
	}

	dirty := e.Dirty()
	if len(dirty) == 0 {
		return nil
	}
	key := e.Key()
	if key == nil {
		return errors.New("save", def.Name, errors.ErrMissingPrimaryKey)
	}
	_, err := db.Model(def.Name).
		WithContext(ctx).
		WithTrashed().
		Where(def.PrimaryKey, "=", key).
		Update(dirty)
	if err != nil {
		return err
	}
	e.SyncOriginal()
	return nil
}

// Delete removes e: a soft delete when the type supports it and force is
// false, otherwise a physical delete.
func (db *DB) Delete(ctx context.Context, e *entity.Entity, force bool) error {
	def := e.Definition()
	key := e.Key()
	if key == nil {
		return errors.New("delete", def.Name, errors.ErrMissingPrimaryKey)
	}

	if def.SoftDeletes && !force {
		now := time.Now().UTC()
		_, err := db.Model(def.Name).
			WithContext(ctx).
			Where(def.PrimaryKey, "=", key).
			Update(map[string]any{schema.DeletedAtField: now})
		if err != nil {
			return err
		}
		e.SetAttribute(schema.DeletedAtField, now)
		e.SyncOriginal()
		return nil
	}

	_, err := db.Model(def.Name).
		WithContext(ctx).
		WithTrashed().
		Where(def.PrimaryKey, "=", key).
		Delete(true)
	if err != nil {
		return err
	}
	e.SetExists(false)
	return nil
}

// Restore clears the deleted-at field. It reports false without error when
// the type does not use soft deletes.
func (db *DB) Restore(ctx context.Context, e *entity.Entity) (bool, error) {
	def := e.Definition()
	if !def.SoftDeletes {
		return false, nil
	}
	key := e.Key()
	if key == nil {
		return false, errors.New("restore", def.Name, errors.ErrMissingPrimaryKey)
	}
	_, err := db.Model(def.Name).
		WithContext(ctx).
		Where(def.PrimaryKey, "=", key).
		Restore()
	if err != nil {
		return false, err
	}
	e.SetAttribute(schema.DeletedAtField, nil)
	e.SyncOriginal()
	return true, nil
}
