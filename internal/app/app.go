// Package app wires and runs the sender and receiver services.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/oagudo/outboxsync/internal/config"
	"github.com/oagudo/outboxsync/internal/database"
	"github.com/oagudo/outboxsync/internal/httpserver"
	"github.com/oagudo/outboxsync/sqldb"
	"github.com/oagudo/outboxsync/transport"
	"github.com/oagudo/outboxsync/transport/broker"
)

// Option customizes how a service is run.
type Option func(*options)

type options struct {
	transport transport.Transport
	listener  net.Listener
}

// WithTransport uses tr instead of opening BROKER_URL. The caller keeps
// ownership of tr and must close it.
func WithTransport(tr transport.Transport) Option {
	return func(o *options) {
		o.transport = tr
	}
}

// WithListener serves HTTP on ln instead of listening on HTTP_ADDR.
func WithListener(ln net.Listener) Option {
	return func(o *options) {
		o.listener = ln
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// openDatabase opens the configured database and creates the tables of
// service when a schema is bundled for the dialect.
func openDatabase(ctx context.Context, cfg config.DB, service database.Service, logger *slog.Logger) (*sql.DB, sqldb.SQLDialect, error) {
	db, dialect, err := database.Open(ctx, cfg.Driver, cfg.DSN, cfg.MaxOpenConns)
	if err != nil {
		return nil, "", err
	}

	err = database.Migrate(ctx, db, dialect, service)
	if errors.Is(err, database.ErrNoSchema) {
		logger.Info("no bundled schema, expecting tables to exist", "dialect", dialect)
		err = nil
	}
	if err != nil {
		_ = db.Close()
		return nil, "", err
	}

	return db, dialect, nil
}

// openTransport returns the injected transport or opens the configured one.
// The returned close function releases only what openTransport opened.
func (o *options) openTransport(cfg config.Broker, logger *slog.Logger) (transport.Transport, func(), error) {
	if o.transport != nil {
		return o.transport, func() {}, nil
	}

	tr, err := broker.Open(cfg.URL, broker.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}

	// Connect is left to the first publish or receive.
	return tr, func() {
		if err := tr.Close(); err != nil {
			logger.Warn("closing broker connection failed", "err", err)
		}
	}, nil
}

func (o *options) serveHTTP(ctx context.Context, srv *httpserver.Server) error {
	if o.listener != nil {
		return srv.Serve(ctx, o.listener)
	}
	return srv.Run(ctx)
}

// loop is the background worker of a service.
type loop interface {
	Start()
	Stop(ctx context.Context) error
}

// run serves HTTP and runs the background loop until ctx is cancelled or
// either of them fails. Stopping the loop is bounded by cfg.ShutdownTimeout.
func run(ctx context.Context, o *options, cfg config.HTTP, srv *httpserver.Server, worker loop) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return o.serveHTTP(gctx, srv)
	})

	g.Go(func() error {
		worker.Start()
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()

		if err := worker.Stop(stopCtx); err != nil {
			return fmt.Errorf("stopping background loop: %w", err)
		}
		return nil
	})

	return g.Wait()
}
