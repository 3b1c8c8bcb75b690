package app

import (
	"context"
	"log/slog"

	"github.com/oagudo/outboxsync/internal/config"
	"github.com/oagudo/outboxsync/internal/database"
	"github.com/oagudo/outboxsync/internal/httpserver"
	"github.com/oagudo/outboxsync/internal/receiver"
	"github.com/oagudo/outboxsync/projection"
)

// RunReceiver runs the receiver service until ctx is cancelled: the
// projection API and the projection applier.
func RunReceiver(ctx context.Context, cfg *config.Receiver, logger *slog.Logger, opts ...Option) error {
	o := newOptions(opts)

	db, dialect, err := openDatabase(ctx, cfg.DB, database.Receiver, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	tr, closeTransport, err := o.openTransport(cfg.Broker, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	store := projection.NewStore(db, dialect)

	applier := projection.NewApplier(tr, store, cfg.Broker.Address,
		projection.WithFailureDelay(projection.Exponential(cfg.Consumer.FailureDelay, cfg.Consumer.MaxFailureDelay)),
		projection.WithLogger(logger.With("component", "projection_applier")),
	)

	handler := receiver.NewHandler(store, logger.With("component", "http"))
	srv := httpserver.New(cfg.HTTP.Addr, handler.Routes(),
		httpserver.ShutdownTimeout(cfg.HTTP.ShutdownTimeout),
		httpserver.Logger(logger),
	)

	logger.Info("receiver service starting", "addr", cfg.HTTP.Addr, "address", cfg.Broker.Address, "dialect", dialect)

	return run(ctx, o, cfg.HTTP, srv, applier)
}
