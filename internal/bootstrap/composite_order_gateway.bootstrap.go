package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/krobus00/composite-order-service/internal/cache"
	"github.com/krobus00/composite-order-service/internal/config"
	"github.com/krobus00/composite-order-service/internal/constant"
	"github.com/krobus00/composite-order-service/internal/entity"
	httpHandler "github.com/krobus00/composite-order-service/internal/handler/composite/http"
	"github.com/krobus00/composite-order-service/internal/infrastructure"
	"github.com/krobus00/composite-order-service/internal/repository"
	"github.com/krobus00/composite-order-service/internal/service/composite"
	"github.com/krobus00/composite-order-service/internal/service/event"
	"github.com/krobus00/composite-order-service/internal/service/exchange"
	"github.com/krobus00/composite-order-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultGracefulShutdownTimeout = 30 * time.Second

// observerStack holds the optional lifecycle sinks and the connections behind them.
type observerStack struct {
	observers []entity.CompositeOrderObserver
	db        *sqlx.DB
	redis     *redis.Client
	nc        *nats.Conn

	journal   *repository.CompositeOrderEventRepository
	snapshots *cache.RedisSnapshotStore
}

func (s *observerStack) close() error {
	var errs []error
	if s.nc != nil {
		errs = append(errs, infrastructure.CloseJetstream(s.nc))
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func StartCompositeOrderGateway(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	compositeCfg := config.Env.Composite

	gateway, paper, err := loadExchange(ctx, compositeCfg.Exchange)
	util.ContinueOrFatal(err)

	stack, err := loadObservers(ctx, compositeCfg)
	util.ContinueOrFatal(err)

	gridService := composite.NewGridService(ctx, composite.GridConfig{
		PollInterval: compositeCfg.ResolveGridPollInterval(),
	}, gateway, stack.observers...)
	ocoService := composite.NewOCOService(ctx, composite.OCOConfig{
		PollInterval: compositeCfg.ResolveOCOPollInterval(),
	}, gateway, stack.observers...)
	twapService := composite.NewTWAPService(ctx, gateway, stack.observers...)

	sweeper := composite.NewRetentionSweeper(
		compositeCfg.ResolveRetentionMaxAge(),
		compositeCfg.ResolveSweepInterval(),
		gridService, ocoService, twapService,
	)
	go sweeper.Run(ctx)

	handler := httpHandler.NewCompositeHTTPHandler(gridService, ocoService, twapService, config.Env.APIKeys)
	if paper != nil {
		handler.WithPriceFeeder(paper)
	}
	if stack.journal != nil {
		handler.WithEventHistory(stack.journal)
	}
	if stack.snapshots != nil {
		handler.WithSnapshotCache(stack.snapshots)
	}

	httpMux := http.NewServeMux()
	handler.Register(httpMux)

	shutdownTimeout := config.Env.GracefulShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultGracefulShutdownTimeout
	}

	httpServer := infrastructure.NewHTTPServer(infrastructure.HTTPServerConfig{
		Addr:            config.Env.Port["composite_order_gateway_http"],
		ShutdownTimeout: shutdownTimeout,
	}, httpMux)

	go func() {
		if err := httpServer.Start(); err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Info(fmt.Sprintf("http server started on %s", httpServer.Addr()))

	wait := gracefulShutdown(ctx, shutdownTimeout, map[string]operation{
		"composite order gateway": func(context.Context) error {
			return stopGateway(httpServer, cancel, []waiter{gridService, ocoService, twapService}, stack.close)
		},
	})

	<-wait
}

type drainer interface {
	Shutdown(ctx context.Context) error
}

type waiter interface {
	Wait()
}

// stopGateway drains HTTP before stopping the monitors. Connections close last.
func stopGateway(server drainer, stopMonitors context.CancelFunc, services []waiter, closeConns func() error) error {
	drainErr := server.Shutdown(context.Background())
	if drainErr != nil {
		logrus.WithError(drainErr).Error("failed to drain http server")
	}

	stopMonitors()
	for _, svc := range services {
		svc.Wait()
	}

	return errors.Join(drainErr, closeConns())
}

func loadExchange(ctx context.Context, name string) (entity.Exchange, *exchange.PaperExchange, error) {
	switch entity.ExchangeName(strings.ToLower(strings.TrimSpace(name))) {
	case entity.ExchangePaper:
		logrus.Warn("composite orders run against the paper exchange")
		paper := exchange.InitPaperExchange()
		return paper, paper, nil
	case entity.ExchangeBinance, "":
		binance := exchange.InitBinanceExchange(config.Env.Exchanges[string(entity.ExchangeBinance)])
		if err := binance.TestConnectivity(ctx); err != nil {
			return nil, nil, fmt.Errorf("binance connectivity check: %w", err)
		}
		return binance, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported exchange %q", name)
	}
}

func loadObservers(ctx context.Context, compositeCfg config.CompositeConfig) (*observerStack, error) {
	stack := &observerStack{}

	if dbCfg, ok := config.Env.Database[constant.CompositeOrderDatabase]; ok && strings.TrimSpace(dbCfg.DSN) != "" {
		db, err := infrastructure.NewPostgresConnection(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		stack.db = db
		stack.journal = repository.NewCompositeOrderEventRepository(db)
		stack.observers = append(stack.observers, event.NewJournal(stack.journal))
	}

	if redisCfg, ok := config.Env.Redis[constant.CompositeOrderRedis]; ok && strings.TrimSpace(redisCfg.CacheDSN) != "" {
		client, err := infrastructure.NewRedisClient(ctx, redisCfg)
		if err != nil {
			_ = stack.close()
			return nil, err
		}
		stack.redis = client
		stack.snapshots = cache.NewRedisSnapshotStore(client, compositeCfg.ResolveSnapshotTTL())
		stack.observers = append(stack.observers, stack.snapshots)
	}

	if strings.TrimSpace(config.Env.NatsJetstream.URL) != "" {
		nc, js, err := infrastructure.NewJetstream(config.Env.NatsJetstream)
		if err != nil {
			_ = stack.close()
			return nil, err
		}
		stack.nc = nc

		publisher := event.NewJetstreamPublisher(js, compositeCfg.ResolveRetentionMaxAge())
		if err := publisher.JetstreamEventInit(ctx); err != nil {
			_ = stack.close()
			return nil, err
		}
		stack.observers = append(stack.observers, publisher)
	}

	logrus.WithFields(logrus.Fields{
		"journal":   stack.journal != nil,
		"cache":     stack.snapshots != nil,
		"jetstream": stack.nc != nil,
	}).Info("composite order observers loaded")

	return stack, nil
}
