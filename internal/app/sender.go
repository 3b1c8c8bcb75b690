package app

import (
	"context"
	"log/slog"

	outbox "github.com/oagudo/outboxsync"
	"github.com/oagudo/outboxsync/internal/config"
	"github.com/oagudo/outboxsync/internal/database"
	"github.com/oagudo/outboxsync/internal/httpserver"
	"github.com/oagudo/outboxsync/internal/sender"
)

// RunSender runs the sender service until ctx is cancelled: the entity item
// API and the outbox publisher.
func RunSender(ctx context.Context, cfg *config.Sender, logger *slog.Logger, opts ...Option) error {
	o := newOptions(opts)

	db, dialect, err := openDatabase(ctx, cfg.DB, database.Sender, logger)
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

	dbCtx := outbox.NewDBContext(db, dialect)

	publisher := outbox.NewPublisher(outbox.NewStore(dbCtx), tr, cfg.Broker.Address,
		outbox.WithInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithLogger(logger.With("component", "outbox_publisher")),
	)

	handler := sender.NewHandler(sender.NewRepository(dbCtx), logger.With("component", "http"))
	srv := httpserver.New(cfg.HTTP.Addr, handler.Routes(),
		httpserver.ShutdownTimeout(cfg.HTTP.ShutdownTimeout),
		httpserver.Logger(logger),
	)

	logger.Info("sender service starting", "addr", cfg.HTTP.Addr, "address", cfg.Broker.Address, "dialect", dialect)

	return run(ctx, o, cfg.HTTP, srv, publisher)
}
