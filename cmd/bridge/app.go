package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-yield-bridge/internal/audit"
	"github.com/0gfoundation/0g-yield-bridge/internal/balance"
	"github.com/0gfoundation/0g-yield-bridge/internal/config"
	"github.com/0gfoundation/0g-yield-bridge/internal/deposit"
	"github.com/0gfoundation/0g-yield-bridge/internal/indexer"
	"github.com/0gfoundation/0g-yield-bridge/internal/ledger"
	"github.com/0gfoundation/0g-yield-bridge/internal/lock"
	"github.com/0gfoundation/0g-yield-bridge/internal/notify"
	"github.com/0gfoundation/0g-yield-bridge/internal/rate"
	"github.com/0gfoundation/0g-yield-bridge/internal/redemption"
	"github.com/0gfoundation/0g-yield-bridge/internal/retry"
	"github.com/0gfoundation/0g-yield-bridge/internal/settler"
)

// app holds every wired component. close releases connections.
type app struct {
	rdb        *redis.Client
	gateway    *ledger.GatewayClient
	indexer    *indexer.Client
	balances   ledger.BalanceReader
	oracle     *rate.CachedOracle
	deposits   *deposit.Service
	intake     *redemption.Intake
	worker     *settler.Worker
	dispatcher *notify.Dispatcher
	history    audit.HistoryReader
	closers    []func()
}

func (a *app) close() {
	a.dispatcher.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		return nil, err
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	a.closers = append(a.closers, func() { a.rdb.Close() }) //nolint:errcheck
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fail(fmt.Errorf("redis ping: %w", err))
	}

	// ── Ledger (issuer key + gateway) ─────────────────────────────────────────
	signer, err := ledger.NewSigner(cfg.Ledger.IssuerPrivateKey)
	if err != nil {
		return fail(fmt.Errorf("issuer key: %w", err))
	}
	a.gateway = ledger.NewGatewayClient(cfg.Ledger.GatewayURL, cfg.Ledger.APIKey, signer, cfg.Ledger.RequestTimeout)
	a.balances = a.gateway
	if cfg.Ledger.EVMRPCURL != "" {
		evm, closeEVM, err := ledger.DialEVMBalanceReader(ctx, cfg.Ledger.EVMRPCURL)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, closeEVM)
		a.balances = evm
	}
	a.indexer = indexer.NewClient(cfg.Indexer.MirrorNodeURL, cfg.Indexer.RequestTimeout)

	// ── Audit trail (optional) ────────────────────────────────────────────────
	var rec audit.Recorder = audit.Nop{}
	a.history = audit.Nop{}
	if cfg.Postgres.DSN != "" {
		pool, err := audit.NewPool(ctx, cfg.Postgres.DSN, int(cfg.Postgres.MaxConns))
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, pool.Close)
		pg := audit.NewPostgresRecorder(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		rec, a.history = pg, pg
	}

	// ── Notifications ─────────────────────────────────────────────────────────
	sinks := notify.Multi{notify.NewLogNotifier(log)}
	if tg := cfg.Alerting.Telegram; tg.Enabled {
		sinks = append(sinks, notify.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, cfg.Alerting.Timeout, log))
	}
	a.dispatcher = notify.NewDispatcher(sinks, cfg.Alerting.Timeout, log)

	// ── Rate + balance checks ─────────────────────────────────────────────────
	a.oracle = rate.NewCachedOracle(a.rdb, rate.NewTopicOracle(a.indexer, cfg.Oracle.TopicID), cfg.Oracle.CacheTTL, log)
	validator := rate.NewValidator(a.oracle, log)
	guard := balance.NewGuard(a.balances, log)

	stable, yield := cfg.Assets.Stable.Asset(), cfg.Assets.Yield.Asset()

	// ── Deposits ──────────────────────────────────────────────────────────────
	a.deposits = deposit.NewService(
		validator, guard, a.gateway,
		deposit.NewRedisStore(a.rdb, cfg.Deposit.Retention),
		rec, a.dispatcher,
		deposit.Options{
			Stable:   stable,
			Yield:    yield,
			Custody:  cfg.Wallets.Custody,
			Treasury: cfg.Wallets.Treasury,
			Payer:    cfg.Wallets.FeePayer,
			TTL:      cfg.Deposit.ScheduleTTL,
		},
		log,
	)

	// ── Redemptions ───────────────────────────────────────────────────────────
	store := redemption.NewRedisStore(a.rdb)
	locker := lock.NewLocker(a.rdb, lock.Options{TTL: cfg.Lock.TTL, WaitTimeout: cfg.Lock.WaitTimeout})
	verifier := redemption.NewVerifier(a.indexer, store,
		retry.Policy{Delays: cfg.Redemption.VerifyDelays}, cfg.Indexer.ClockSkew, log)
	engine := redemption.NewEngine(
		store, verifier, a.gateway, guard, a.gateway, locker, rec, a.dispatcher,
		redemption.EngineOptions{
			Stable: stable,
			Yield:  yield,
			Wallets: redemption.Wallets{
				Treasury:       cfg.Wallets.Treasury,
				InstantPayout:  cfg.Wallets.InstantPayout,
				StandardPayout: cfg.Wallets.StandardPayout,
			},
			InstantFeeBps: cfg.Redemption.InstantFeeBps,
			SettleTimeout: cfg.Redemption.SettleTimeout,
		},
		log,
	)
	a.intake = redemption.NewIntake(validator, store, engine, a.gateway, redemption.IntakeOptions{
		InstantMax:  cfg.Redemption.InstantMax,
		LockPeriod:  cfg.Redemption.LockPeriod,
		ScheduleTTL: cfg.Redemption.ScheduleTTL,
	}, log)
	a.worker = settler.NewWorker(store, engine, locker, settler.Options{
		Interval:  cfg.Worker.Interval,
		BatchSize: cfg.Worker.BatchSize,
	}, log)

	return a, nil
}
