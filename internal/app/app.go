package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowgate/internal/broker"
	"flowgate/internal/config"
	"flowgate/internal/exec"
	"flowgate/internal/exitrules"
	"flowgate/internal/flow"
	"flowgate/internal/gate"
	"flowgate/internal/logger"
	"flowgate/internal/market"
	"flowgate/internal/notifier"
	"flowgate/internal/oracle"
	"flowgate/internal/pkg/circuit"
	"flowgate/internal/risk"
	"flowgate/internal/scheduler"
	"flowgate/internal/state"
)

// App owns the assembled service: store, clients, engines, and the
// scheduler that drives them.
type App struct {
	cfg       *config.Config
	store     *state.Store
	scheduler *scheduler.Scheduler
}

// New wires every component from config. Construction failures are fatal;
// the service never starts partially wired.
func New(cfg *config.Config) (*App, error) {
	store, err := state.NewStore(cfg.App.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening state store failed: %w", err)
	}

	session, err := scheduler.NewSession(cfg.Scheduler.VenueTimezone, cfg.Scheduler.SessionOpen, cfg.Scheduler.SessionClose)
	if err != nil {
		store.Close()
		return nil, err
	}

	brokerClient := broker.NewClient(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.APISecret,
		time.Duration(cfg.Broker.TimeoutSeconds)*time.Second)
	flowClient := flow.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey,
		time.Duration(cfg.Provider.TimeoutSeconds)*time.Second)

	registry, err := exitrules.NewRegistry(cfg.Exits.RulesPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading exit rules failed: %w", err)
	}

	var notify notifier.TextNotifier = notifier.Noop{}
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	breaker := circuit.NewBreaker("cycle", cfg.Scheduler.BreakerThreshold,
		time.Duration(cfg.Scheduler.BreakerCooldownSecs)*time.Second)
	breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		msg := fmt.Sprintf("⛔ breaker %s: %s -> %s", name, from, to)
		logger.Warnf("%s", msg)
		if err := notify.SendText(msg); err != nil {
			logger.Warnf("app: breaker notification failed: %v", err)
		}
	})

	cs, err := store.LoadCycleState(context.Background(), cfg.Flow.SeenSetCapacity)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading cycle state failed: %w", err)
	}
	if cs == nil {
		cs = state.NewCycleState(uuid.NewString(), cfg.Flow.SeenSetCapacity)
		logger.Infof("app: starting fresh session %s", cs.SessionID)
	} else {
		logger.Infof("app: resuming session %s (trading date %s, %d executions today)",
			cs.SessionID, cs.TradingDate, cs.ExecutionsToday)
		breaker.Restore(cs.Breaker)
	}

	marketSvc := market.NewService(brokerClient)
	sched := scheduler.New(scheduler.Deps{
		Cfg:     cfg.Scheduler,
		ExecCfg: cfg.Execution,
		ExitCfg: cfg.Exits,
		Session: session,
		Flow:    flowClient,
		Filter:  flow.NewFilter(cfg.Flow),
		Market:  marketSvc,
		Risk:    risk.NewEngine(cfg.Risk),
		Gate:    gate.New(cfg.Gate),
		Oracle:  oracle.NewChatEvaluator(cfg.Oracle),
		Exec:    exec.NewExecutor(cfg.Execution, cfg.Risk, brokerClient),
		Monitor: exitrules.NewMonitor(registry),
		Broker:  brokerClient,
		Store:   store,
		Notify:  notify,
		Breaker: breaker,
		State:   cs,
	})

	return &App{cfg: cfg, store: store, scheduler: sched}, nil
}

// Run blocks until ctx is canceled, then closes the store.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	err := a.scheduler.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
