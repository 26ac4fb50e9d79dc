package core

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shrek82/dbutil/logger"
	"github.com/shrek82/dbutil/pool"
	"github.com/shrek82/dbutil/settings"
)

// DefaultDatasource is the name used by Registry.Default.
const DefaultDatasource = "default"

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = logger.OrNop(l) }
}

// WithSettings lets datasources without a registered config be configured
// from settings keys (see pool.FromSettings).
func WithSettings(s *settings.Settings) Option {
	return func(r *Registry) { r.settings = s }
}

// WithOpener replaces sql.Open.
func WithOpener(o pool.Opener) Option {
	return func(r *Registry) { r.opener = o }
}

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithMiddleware appends statement middleware.
func WithMiddleware(mws ...Middleware) Option {
	return func(r *Registry) { r.pending = append(r.pending, mws...) }
}

// Registry owns one pool per datasource name. Pools are built lazily on
// first use, at most once per name even under concurrent first use.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]pool.Config
	pools   map[string]*pool.Pool
	closed  bool
	group   singleflight.Group

	mwMu sync.RWMutex
	mws  []Middleware

	pending  []Middleware
	log      *zap.Logger
	settings *settings.Settings
	opener   pool.Opener
	observer Observer
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		configs:  make(map[string]pool.Config),
		pools:    make(map[string]*pool.Pool),
		log:      zap.NewNop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	pending := r.pending
	r.pending = nil
	if err := r.Use(pending...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register stores the config for a datasource. The first registration of a
// name wins; later ones are ignored.
func (r *Registry) Register(name string, cfg pool.Config) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return &OpError{Op: "register", Datasource: name, Kind: ErrInvalidConfig, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.configs[name]; ok {
		r.log.Debug("datasource already registered", zap.String("datasource", name))
		return nil
	}
	r.configs[name] = cfg
	return nil
}

// Use appends middleware to the statement chain, initialising each one.
func (r *Registry) Use(mws ...Middleware) error {
	for _, mw := range mws {
		if err := mw.Init(r); err != nil {
			return fmt.Errorf("init middleware %s: %w", mw.Name(), err)
		}
	}
	r.mwMu.Lock()
	r.mws = append(r.mws, mws...)
	r.mwMu.Unlock()
	return nil
}

// Logger returns the registry logger.
func (r *Registry) Logger() *zap.Logger { return r.log }

// Pool returns the live pool for name, building it on first use. Calls with
// the same name return the same pool until it is rebuilt.
func (r *Registry) Pool(ctx context.Context, name string) (*pool.Pool, error) {
	r.mu.RLock()
	p, closed := r.pools[name], r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrRegistryClosed
	}
	if p != nil {
		return p, nil
	}
	return r.build(ctx, name, nil)
}

// build constructs the pool for name and installs it, replacing stale. If the
// installed pool is already different from stale, another caller rebuilt it
// and that pool is returned instead.
func (r *Registry) build(ctx context.Context, name string, stale *pool.Pool) (*pool.Pool, error) {
	v, err, _ := r.group.Do(name, func() (any, error) {
		r.mu.RLock()
		cur, closed := r.pools[name], r.closed
		r.mu.RUnlock()
		if closed {
			return nil, ErrRegistryClosed
		}
		if cur != nil && cur != stale {
			return cur, nil
		}

		cfg, err := r.config(name)
		if err != nil {
			return nil, err
		}
		p, err := pool.Open(ctx, name, cfg, r.opener, r.log)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			closeLogged(r.log, "pool", p)
			return nil, ErrRegistryClosed
		}
		old := r.pools[name]
		r.pools[name] = p
		r.mu.Unlock()

		if old != nil {
			closeLogged(r.log.With(zap.String("datasource", name)), "replaced pool", old)
		}
		r.observer.PoolCreated(name)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pool.Pool), nil
}

func (r *Registry) config(name string) (pool.Config, error) {
	r.mu.RLock()
	cfg, ok := r.configs[name]
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}
	if r.settings == nil {
		return pool.Config{}, fmt.Errorf("%w: %q", ErrUnknownDatasource, name)
	}
	cfg, err := pool.FromSettings(r.settings, name)
	if err != nil {
		return pool.Config{}, fmt.Errorf("%w: %q: %w", ErrUnknownDatasource, name, err)
	}
	return cfg, nil
}

// Conn checks out a dedicated connection. If building the pool or checking
// out fails, the pool is rebuilt once and the checkout retried, unless the
// context is already done. The caller must Close the connection.
func (r *Registry) Conn(ctx context.Context, name string) (*Conn, error) {
	p, err := r.Pool(ctx, name)
	if err == nil {
		var sc *sql.Conn
		if sc, err = p.Acquire(ctx); err == nil {
			return r.newConn(name, p, sc), nil
		}
	}
	if !retryable(err) || ctx.Err() != nil {
		return nil, &OpError{Op: "conn", Datasource: name, Kind: ErrConnectionFailed, Err: err}
	}

	r.log.Warn("connection failed, rebuilding pool",
		zap.String("datasource", name),
		zap.String("error", logger.RedactError(err)))
	r.observer.Reconnected(name, err)

	p2, err2 := r.build(ctx, name, p)
	if err2 == nil {
		var sc *sql.Conn
		if sc, err2 = p2.Acquire(ctx); err2 == nil {
			return r.newConn(name, p2, sc), nil
		}
	}
	r.log.Error("connection failed after rebuilding pool",
		zap.String("datasource", name),
		zap.String("error", logger.RedactError(err2)))
	return nil, &OpError{Op: "conn", Datasource: name, Kind: ErrConnectionFailed, Err: multierr.Combine(err, err2)}
}

// Begin checks out a connection and starts a transaction on it. Commit or
// Rollback releases the connection.
func (r *Registry) Begin(ctx context.Context, name string, opts *sql.TxOptions) (*Tx, error) {
	c, err := r.Conn(ctx, name)
	if err != nil {
		return nil, err
	}
	tx, err := c.begin(ctx, opts, true)
	if err != nil {
		closeLogged(r.log, "connection", c)
		return nil, err
	}
	return tx, nil
}

// Transaction runs fn in a transaction. It commits when fn returns nil and
// rolls back on error or panic (the panic is re-raised).
func (r *Registry) Transaction(ctx context.Context, name string, fn func(tx *Tx) error) (err error) {
	tx, err := r.Begin(ctx, name, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Error("rollback failed", zap.String("tx", tx.ID()), zap.String("error", logger.RedactError(rbErr)))
			}
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

// Reset closes the pool for name and builds a new one.
func (r *Registry) Reset(ctx context.Context, name string) error {
	r.mu.RLock()
	cur := r.pools[name]
	r.mu.RUnlock()
	_, err := r.build(ctx, name, cur)
	return err
}

// DataSource returns a handle that runs each operation on its own connection.
func (r *Registry) DataSource(name string) *DataSource {
	return &DataSource{reg: r, name: name}
}

// Default returns the "default" datasource.
func (r *Registry) Default() *DataSource {
	return r.DataSource(DefaultDatasource)
}

// Names returns every registered or live datasource name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.configs)+len(r.pools))
	for n := range r.configs {
		seen[n] = struct{}{}
	}
	for n := range r.pools {
		seen[n] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Stats returns pool statistics for every live pool.
func (r *Registry) Stats() map[string]sql.DBStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]sql.DBStats, len(r.pools))
	for n, p := range r.pools {
		out[n] = p.Stats()
	}
	return out
}

// Close closes every pool and shuts down middleware. It is safe to call more
// than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pools := r.pools
	r.pools = make(map[string]*pool.Pool)
	r.mu.Unlock()

	var err error
	for name, p := range pools {
		if cerr := p.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", name, cerr))
		}
	}

	r.mwMu.RLock()
	mws := r.mws
	r.mwMu.RUnlock()
	for _, mw := range mws {
		err = multierr.Append(err, mw.Shutdown())
	}
	return err
}

// run passes stmt through the middleware chain to final and reports the
// outcome to the observer.
func (r *Registry) run(ctx context.Context, stmt *Statement, final Handler) (*Outcome, error) {
	r.mwMu.RLock()
	mws := r.mws
	r.mwMu.RUnlock()

	start := time.Now()
	out, err := chain(mws, final)(ctx, stmt)
	took := time.Since(start)
	r.observer.StatementDone(stmt.Datasource, stmt.Kind, took, err)
	return out, err
}
