package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tenex-agents/tenex/internal/assistant"
	"github.com/tenex-agents/tenex/internal/config"
	"github.com/tenex-agents/tenex/internal/exec"
	"github.com/tenex-agents/tenex/internal/git"
	"github.com/tenex-agents/tenex/internal/llm"
	"github.com/tenex-agents/tenex/internal/nostr"
	"github.com/tenex-agents/tenex/internal/oracle"
	"github.com/tenex-agents/tenex/internal/phase"
	"github.com/tenex-agents/tenex/internal/policy"
	"github.com/tenex-agents/tenex/internal/router"
	"github.com/tenex-agents/tenex/internal/store"
	"github.com/tenex-agents/tenex/internal/strategy"
	"github.com/tenex-agents/tenex/internal/team"
	"github.com/tenex-agents/tenex/pkg/models"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the routing daemon",
	Long: `Runs the conversation routing daemon. Inbound events arrive as
newline-delimited JSON on stdin; outbound events (agent replies, phase
transitions, team announcements) are written as newline-delimited JSON on
stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd)
	},
}

func runStart(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := cfg.Daemon.DBPath
	if dbPath == "" {
		dbPath = store.ProjectDBPath(cfg.Project.Path)
	}
	db, err := store.Open(dbPath, logger)
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating state database: %w", err)
	}
	st := store.New(db, logger)

	registry, err := config.NewAgentRegistry(cfg.Routing.AgentsFile, logger)
	if err != nil {
		return fmt.Errorf("loading agent roster: %w", err)
	}
	defer registry.Close()
	if err := registry.Watch(); err != nil {
		logger.Warn("roster hot-reload unavailable", zap.Error(err))
	}

	if !cfg.Anthropic.UseAWSBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return err
		}
		if err := config.ValidateAPIKey(key); err != nil {
			logger.Warn("api key looks malformed", zap.Error(err))
		}
		cfg.Anthropic.APIKey = key
	}

	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		MaxTokens:     int64(cfg.Anthropic.MaxTokens),
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("creating LLM client: %w", err)
	}

	publisher := nostr.NewChannelPublisher(cfg.Daemon.PublishBuffer)

	gitRunner := git.NewRunner(cfg.Project.Path)
	cmdRunner := exec.NewRunner()
	phases := phase.NewEngine(phase.Deps{
		Assistant:      assistant.NewClaudeCLI(cmdRunner, gitRunner, logger),
		Inventory:      assistant.NewFileInventory(cmdRunner, cfg.Project.Path, logger),
		Branches:       gitRunner,
		ProjectPath:    cfg.Project.Path,
		PlanTimeout:    cfg.Timeouts.Plan,
		ExecuteTimeout: cfg.Timeouts.Execute,
		Logger:         logger,
	})

	formation := team.NewFormationEngine(client, logger)
	rt := router.New(router.Config{
		Store:          st,
		Oracle:         oracle.New(client, logger),
		Phases:         phases,
		Policy:         policy.Policy{StrictPlanApproval: cfg.Routing.RequirePlanApproval},
		Coordinator:    team.NewCoordinator(st, formation, publisher, cfg.Daemon.Pubkey, logger),
		Strategies:     strategy.NewExecutor(strategy.NewLLMResponder(client), logger),
		Publisher:      publisher,
		Pubkey:         cfg.Daemon.Pubkey,
		ProjectContext: cfg.Project.Context,
		Logger:         logger,
	})

	logger.Info("daemon started",
		zap.String("db", dbPath),
		zap.String("project", cfg.Project.Path),
		zap.Int("agents", registry.Roster().Len()),
	)

	go writeEvents(ctx, os.Stdout, publisher.Events(), logger)
	err = readEvents(ctx, os.Stdin, rt, registry, logger)

	input, output := client.Tracker().Total()
	logger.Info("daemon stopped",
		zap.Int("dropped_events", publisher.Dropped()),
		zap.Int("llm_calls", client.Tracker().Calls()),
		zap.Int64("tokens_in", input),
		zap.Int64("tokens_out", output),
		zap.Float64("llm_cost_usd", client.Tracker().Cost()),
	)
	return err
}

// readEvents routes newline-delimited JSON events from in until EOF or
// shutdown. Events are dispatched through a per-conversation queue so that
// history append order matches arrival order within one conversation, while
// distinct conversations stay parallel.
func readEvents(ctx context.Context, in io.Reader, rt *router.Router, registry *config.AgentRegistry, logger *zap.Logger) error {
	dsp := newDispatcher(func(ctx context.Context, event models.Event) {
		rt.Route(ctx, event, registry.Roster())
	})
	defer dsp.Close()

	dec := json.NewDecoder(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		var event models.Event
		if err := dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("decoding inbound event: %w", err)
		}
		if event.ID == "" {
			logger.Warn("dropping inbound event without id")
			continue
		}
		dsp.Dispatch(ctx, event)
	}
}

// dispatchBuffer sizes each conversation's pending-event queue; a full queue
// applies backpressure to the read loop.
const dispatchBuffer = 64

// dispatcher runs one worker goroutine per conversation key, preserving
// arrival order within a conversation.
type dispatcher struct {
	route  func(context.Context, models.Event)
	mu     sync.Mutex
	queues map[string]chan models.Event
	wg     sync.WaitGroup
}

func newDispatcher(route func(context.Context, models.Event)) *dispatcher {
	return &dispatcher{
		route:  route,
		queues: make(map[string]chan models.Event),
	}
}

// conversationKey groups events of one conversation: the thread root when
// tagged, otherwise the reply reference, otherwise the event itself (a new
// conversation's root).
func conversationKey(event models.Event) string {
	if roots := event.TagValues(models.TagReplyRoot); len(roots) > 0 {
		return roots[0]
	}
	if ref := event.ReplyTo(); ref != "" {
		return ref
	}
	return event.ID
}

// Dispatch hands the event to its conversation's worker, starting one on
// first use.
func (d *dispatcher) Dispatch(ctx context.Context, event models.Event) {
	key := conversationKey(event)
	d.mu.Lock()
	q, ok := d.queues[key]
	if !ok {
		q = make(chan models.Event, dispatchBuffer)
		d.queues[key] = q
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range q {
				d.route(ctx, ev)
			}
		}()
	}
	d.mu.Unlock()
	q <- event
}

// Close stops accepting events and waits for every queue to drain.
func (d *dispatcher) Close() {
	d.mu.Lock()
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// writeEvents drains outbound events to out as newline-delimited JSON.
func writeEvents(ctx context.Context, out io.Writer, events <-chan models.Event, logger *zap.Logger) {
	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			if err := enc.Encode(event); err != nil {
				logger.Error("writing outbound event", zap.Error(err))
			}
		}
	}
}
