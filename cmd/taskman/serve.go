package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vibecoder/taskman/internal/bridge"
	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/container"
	"github.com/vibecoder/taskman/internal/decompose"
	"github.com/vibecoder/taskman/internal/deps"
	"github.com/vibecoder/taskman/internal/epic"
	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/internal/idgen"
	"github.com/vibecoder/taskman/internal/lifecycle"
	"github.com/vibecoder/taskman/internal/lock"
	"github.com/vibecoder/taskman/internal/oracle"
	"github.com/vibecoder/taskman/internal/orchestrator"
	"github.com/vibecoder/taskman/internal/perf"
	"github.com/vibecoder/taskman/internal/security"
	"github.com/vibecoder/taskman/internal/storage"
	"github.com/vibecoder/taskman/internal/taskops"
	"github.com/vibecoder/taskman/internal/transport"
	"github.com/vibecoder/taskman/pkg/models"
)

// Service tokens for the container.
const (
	tokenValidator    container.Token = "security.validator"
	tokenAudit        container.Token = "lock.audit"
	tokenLocks        container.Token = "lock.manager"
	tokenStore        container.Token = "storage.engine"
	tokenIDs          container.Token = "idgen.generator"
	tokenOracle       container.Token = "oracle.client"
	tokenResolver     container.Token = "epic.resolver"
	tokenDeps         container.Token = "deps.ops"
	tokenDetector     container.Token = "decompose.detector"
	tokenEngine       container.Token = "decompose.engine"
	tokenSessions     container.Token = "decompose.sessions"
	tokenRegistry     container.Token = "agent.registry"
	tokenOrchestrator container.Token = "agent.orchestrator"
	tokenBridge       container.Token = "agent.bridge"
	tokenPerf         container.Token = "perf.monitor"
	tokenTaskops      container.Token = "taskops"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration core",
	Long: `Start the long-lived orchestration process: storage, access manager,
agent registry, heartbeat monitor, and the integration bridge sync loop.
Shuts down cleanly on SIGINT/SIGTERM, releasing resources in reverse
construction order.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	disposables := lifecycle.NewRegistry(log)
	c := container.New(disposables, log)
	if err := registerServices(c, cfg, log); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchAny, err := c.Resolve(tokenOrchestrator)
	if err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	orch := orchAny.(*orchestrator.Orchestrator)
	orch.StartHeartbeatMonitor(ctx, "heartbeat-monitor")

	brAny, err := c.Resolve(tokenBridge)
	if err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	brAny.(*bridge.Bridge).StartSync(ctx, cfg.Agents.SyncInterval)

	if _, err := c.Resolve(tokenTaskops); err != nil {
		return fmt.Errorf("start task operations: %w", err)
	}

	log.Info().Str("version", Version()).
		Str("readRoot", cfg.Security.ReadRoot).
		Str("writeRoot", cfg.Security.WriteRoot).
		Msg("taskman serving")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()
	c.Close()
	return nil
}

// registerServices binds every core component into the container.
// Construction order follows from the declared dependencies.
func registerServices(c *container.Container, cfg *config.Config, log zerolog.Logger) error {
	regs := []struct {
		token   container.Token
		deps    []container.Token
		factory container.Factory
	}{
		{tokenValidator, nil, func(c *container.Container) (any, error) {
			return security.NewValidator(cfg.Security, log), nil
		}},
		{tokenAudit, nil, func(c *container.Container) (any, error) {
			if !cfg.Locks.AuditEnabled {
				return (*lock.AuditTrail)(nil), nil
			}
			return lock.OpenAuditTrail(filepath.Join(cfg.Security.WriteRoot, ".audit.db"))
		}},
		{tokenLocks, []container.Token{tokenAudit}, func(c *container.Container) (any, error) {
			audit, err := c.Resolve(tokenAudit)
			if err != nil {
				return nil, err
			}
			return lock.NewManager(cfg.Locks, audit.(*lock.AuditTrail), log), nil
		}},
		{tokenStore, []container.Token{tokenValidator}, func(c *container.Container) (any, error) {
			v, err := c.Resolve(tokenValidator)
			if err != nil {
				return nil, err
			}
			return storage.NewEngine(cfg.Storage, v.(*security.Validator), log)
		}},
		{tokenIDs, []container.Token{tokenStore}, func(c *container.Container) (any, error) {
			store, err := c.Resolve(tokenStore)
			if err != nil {
				return nil, err
			}
			return idgen.New(store.(*storage.Engine).ExistsFunc()), nil
		}},
		{tokenOracle, nil, func(c *container.Container) (any, error) {
			return oracle.NewAnthropicOracle(cfg.Oracle, log)
		}},
		{tokenPerf, nil, func(c *container.Container) (any, error) {
			return perf.NewMonitor(cfg.Perf, log), nil
		}},
		{tokenResolver, []container.Token{tokenStore, tokenLocks, tokenIDs}, func(c *container.Container) (any, error) {
			store, _ := c.Resolve(tokenStore)
			locks, _ := c.Resolve(tokenLocks)
			ids, _ := c.Resolve(tokenIDs)
			return epic.NewResolver(store.(*storage.Engine), locks.(*lock.Manager), ids.(*idgen.Generator), log), nil
		}},
		{tokenDeps, []container.Token{tokenStore, tokenLocks, tokenIDs}, func(c *container.Container) (any, error) {
			store, _ := c.Resolve(tokenStore)
			locks, _ := c.Resolve(tokenLocks)
			ids, _ := c.Resolve(tokenIDs)
			return deps.NewOps(store.(*storage.Engine), locks.(*lock.Manager), ids.(*idgen.Generator), log), nil
		}},
		{tokenDetector, []container.Token{tokenOracle}, func(c *container.Container) (any, error) {
			orc, _ := c.Resolve(tokenOracle)
			return decompose.NewDetector(orc.(oracle.Oracle), cfg.Decompose, log), nil
		}},
		{tokenEngine, []container.Token{tokenOracle, tokenDetector, tokenResolver, tokenIDs}, func(c *container.Container) (any, error) {
			orc, _ := c.Resolve(tokenOracle)
			det, _ := c.Resolve(tokenDetector)
			res, _ := c.Resolve(tokenResolver)
			ids, _ := c.Resolve(tokenIDs)
			return decompose.NewEngine(orc.(oracle.Oracle), det.(*decompose.Detector), res.(*epic.Resolver), ids.(*idgen.Generator), cfg.Decompose, log), nil
		}},
		{tokenSessions, []container.Token{tokenEngine, tokenStore}, func(c *container.Container) (any, error) {
			eng, _ := c.Resolve(tokenEngine)
			store, _ := c.Resolve(tokenStore)
			return decompose.NewSessionManager(eng.(*decompose.Engine), store.(*storage.Engine), log), nil
		}},
		{tokenRegistry, nil, func(c *container.Container) (any, error) {
			return orchestrator.NewRegistry(log), nil
		}},
		{tokenOrchestrator, []container.Token{tokenRegistry, tokenStore, tokenLocks}, func(c *container.Container) (any, error) {
			reg, _ := c.Resolve(tokenRegistry)
			store, _ := c.Resolve(tokenStore)
			locks, _ := c.Resolve(tokenLocks)
			return orchestrator.New(reg.(*orchestrator.Registry), store.(*storage.Engine), locks.(*lock.Manager), cfg.Agents, log), nil
		}},
		{tokenBridge, []container.Token{tokenRegistry, tokenOrchestrator}, func(c *container.Container) (any, error) {
			reg, _ := c.Resolve(tokenRegistry)
			orch, _ := c.Resolve(tokenOrchestrator)
			factory := agentTransportFactory(cfg, log)
			return bridge.New(reg.(*orchestrator.Registry), orch.(*orchestrator.Orchestrator), factory, log), nil
		}},
		{tokenTaskops, []container.Token{tokenStore, tokenLocks, tokenIDs, tokenResolver, tokenOracle, tokenPerf}, func(c *container.Container) (any, error) {
			store, _ := c.Resolve(tokenStore)
			locks, _ := c.Resolve(tokenLocks)
			ids, _ := c.Resolve(tokenIDs)
			res, _ := c.Resolve(tokenResolver)
			orc, _ := c.Resolve(tokenOracle)
			mon, _ := c.Resolve(tokenPerf)
			return taskops.New(store.(*storage.Engine), locks.(*lock.Manager), ids.(*idgen.Generator), res.(*epic.Resolver), orc.(oracle.Oracle), mon.(*perf.Monitor), log), nil
		}},
	}

	for _, r := range regs {
		if err := c.Register(r.token, container.Singleton, r.deps, r.factory); err != nil {
			return err
		}
	}
	return nil
}

// agentTransportFactory opens the dispatch channel matching the
// agent's declared transport type.
func agentTransportFactory(cfg *config.Config, log zerolog.Logger) bridge.TransportFactory {
	return func(ctx context.Context, agent *models.Agent) (transport.Transport, error) {
		switch agent.Transport {
		case models.TransportHTTP:
			return transport.NewHTTPTransport(agent.HTTPEndpoint, "", cfg.Agents.PollingInterval, nil, log), nil
		case models.TransportSSE:
			return transport.NewSSETransport(ctx, agent.HTTPEndpoint, cfg.Agents.PollingInterval, log)
		case models.TransportWebsocket:
			return transport.NewWebsocketTransport(ctx, agent.HTTPEndpoint, cfg.Agents.PollingInterval, log)
		case models.TransportStdio:
			return nil, errs.New(errs.KindValidation, "stdio agents must be spawned locally, not registered over the bridge")
		default:
			return nil, errs.New(errs.KindValidation, "unknown transport type %q for agent %s", agent.Transport, agent.ID)
		}
	}
}
