package pool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shrek82/dbutil/dialect"
	"github.com/shrek82/dbutil/logger"
)

// Opener creates the underlying *sql.DB. sql.Open is the default; tests
// substitute sqlmock.
type Opener func(driver, dsn string) (*sql.DB, error)

// Pool is one named, configured *sql.DB.
type Pool struct {
	*sql.DB
	name    string
	config  Config
	dialect dialect.Dialect
	created time.Time
}

// New wraps an existing *sql.DB. The config is applied to it as by Open, but
// the database is not pinged.
func New(name string, db *sql.DB, d dialect.Dialect, cfg Config) *Pool {
	cfg = cfg.WithDefaults()
	apply(db, cfg)
	return &Pool{DB: db, name: name, config: cfg, dialect: d, created: time.Now()}
}

// Open resolves the config, opens the database, verifies it with a ping
// bounded by ConnectionTimeout and opens MinimumIdle connections. On any
// failure the database is closed.
func Open(ctx context.Context, name string, cfg Config, opener Opener, log *zap.Logger) (*Pool, error) {
	log = logger.OrNop(log)
	if opener == nil {
		opener = sql.Open
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, dsn, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	db, err := opener(d.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}
	p := &Pool{DB: db, name: name, config: cfg, dialect: d, created: time.Now()}
	apply(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, multierr.Append(fmt.Errorf("ping %s: %w", d.Name(), err), db.Close())
	}
	if err := p.warm(pingCtx); err != nil {
		// the pool is usable; connections will be opened on demand
		log.Warn("pool warm-up incomplete",
			zap.String("datasource", name),
			zap.String("error", logger.RedactError(err)))
	}

	log.Info("pool created",
		zap.String("datasource", name),
		zap.Object("config", cfg))
	return p, nil
}

func apply(db *sql.DB, cfg Config) {
	db.SetMaxOpenConns(cfg.MaximumPoolSize)
	db.SetMaxIdleConns(cfg.MaximumPoolSize)
	db.SetConnMaxIdleTime(cfg.IdleTimeout)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
}

// warm opens MinimumIdle connections and returns them to the idle set.
func (p *Pool) warm(ctx context.Context) error {
	n := p.config.MinimumIdle
	conns := make([]*sql.Conn, 0, n)
	var err error
	for i := 0; i < n; i++ {
		c, cerr := p.DB.Conn(ctx)
		if cerr != nil {
			err = cerr
			break
		}
		conns = append(conns, c)
	}
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Acquire checks out a dedicated connection, waiting at most ConnectionTimeout.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.ConnectionTimeout)
	defer cancel()
	return p.DB.Conn(ctx)
}

// Name returns the datasource name.
func (p *Pool) Name() string { return p.name }

// Config returns the effective config.
func (p *Pool) Config() Config { return p.config }

// Dialect returns the resolved dialect.
func (p *Pool) Dialect() dialect.Dialect { return p.dialect }

// Created returns when the pool was constructed.
func (p *Pool) Created() time.Time { return p.created }
