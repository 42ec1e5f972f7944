package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skippy-ai/skippy/pkg/skippy/config"
	"github.com/skippy-ai/skippy/pkg/skippy/cron"
	"github.com/skippy-ai/skippy/pkg/skippy/ctxitems"
	skippydiscord "github.com/skippy-ai/skippy/pkg/skippy/discord"
	"github.com/skippy-ai/skippy/pkg/skippy/ipc"
	"github.com/skippy-ai/skippy/pkg/skippy/llm"
	"github.com/skippy-ai/skippy/pkg/skippy/logging"
	"github.com/skippy-ai/skippy/pkg/skippy/memory"
	"github.com/skippy-ai/skippy/pkg/skippy/orchestrator"
	"github.com/skippy-ai/skippy/pkg/skippy/paths"
	"github.com/skippy-ai/skippy/pkg/skippy/tools"
)

// newServeCmd creates the `skippy serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant daemon",
		Long: `Start Skippy as a daemon: connect to Discord, open the IPC
socket and run the job scheduler until interrupted.`,
		RunE: runServe,
	}
	cmd.Flags().Bool("headless", false, "run without the Discord gateway")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	root, err := paths.EnsureDataDir()
	if err != nil {
		return err
	}

	// ── Config and logging ──
	cfg, err := config.Load(paths.ConfigFile(root))
	if err != nil {
		return err
	}
	logger, closeLog, err := logging.Setup(cfg.LogLevel, paths.LogFile(root))
	if err != nil {
		return err
	}
	defer closeLog()

	if err := writePIDFile(paths.PIDFile(root)); err != nil {
		return err
	}
	defer os.Remove(paths.PIDFile(root))

	// ── LLM client and tool registry ──
	client, err := llm.New(cfg.Ollama, logger)
	if err != nil {
		return err
	}

	store, err := memory.Open(paths.MemoryDB(root), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	cronStore, err := cron.OpenStore(paths.CronDB(root))
	if err != nil {
		return err
	}
	defer cronStore.Close()

	items, err := ctxitems.Load(paths.ContextFile(root))
	if err != nil {
		return err
	}

	headless, _ := cmd.Flags().GetBool("headless")

	registry := tools.NewRegistry(client, logger)
	registry.Register(tools.NewBashTool(cfg.Tools.Bash, logger))
	tools.RegisterFileTools(registry)
	registry.Register(tools.PDFTool{})
	registry.Register(tools.NewHTTPTool())
	registry.Register(tools.NewWebSearchTool(cfg.Tools.WebSearch))
	registry.Register(tools.NewWeatherTool(cfg.Tools.Weather))
	registry.Register(tools.NewDownloadTool())
	registry.Register(tools.NewTrelloTool(cfg.Tools.Trello))
	registry.Register(tools.NewMemoryTool(store))
	registry.Register(tools.NewCronTool(cronStore))

	if err := registry.InitAll(); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancelStart()

	// ── Model introspection ──
	window := cfg.Ollama.ContextWindow
	if info, err := client.Introspect(startCtx, cfg.Ollama.Model); err != nil {
		logger.Warn("model introspection failed", "model", cfg.Ollama.Model, "error", err)
	} else {
		logger.Info("model ready",
			"model", info.Name,
			"params", info.ParamSize,
			"quantization", info.Quantization,
			"context_length", info.ContextLength,
		)
		if window == 0 {
			window = info.ContextLength
		}
	}

	// ── Orchestrator ──
	aborts := orchestrator.NewAbortRegistry()

	var gateway *skippydiscord.Gateway
	channelNames := func() []string { return nil }
	if !headless {
		channelNames = func() []string {
			if gateway == nil {
				return nil
			}
			return gateway.ChannelNames()
		}
	}

	builder := orchestrator.NewContextBuilder(
		store, items, cfg.Memory.ContextCategories,
		registry.CondensedContext, channelNames)

	orch := orchestrator.New(client, registry, builder, items, aborts, orchestrator.Options{
		LoopLimit:     cfg.Prompt.LoopLimit,
		ContextWindow: window,
		EnforceBudget: cfg.Prompt.EnforceBudget,
	}, logger)

	// ── Chat gateway ──
	var sender tools.MessageSender
	if !headless {
		gateway = skippydiscord.New(cfg, orch, logger)
		gateway.SetCommandDeps(skippydiscord.CommandDeps{
			LLM:    client,
			Items:  items,
			Window: window,
		})
		if err := gateway.Start(); err != nil {
			return err
		}
		defer gateway.Stop()
		sender = gateway
		registry.Register(tools.NewDiscordSendTool(gateway))
	}

	// ── Tool context ──
	// After the last registration, so the send tool is in the document.
	condensed := registry.CondensedContext(startCtx)
	logger.Info("tool context ready", "chars", len(condensed), "tools", len(registry.Names()))

	// ── IPC server ──
	ipcServer := ipc.NewServer(paths.SocketFile(root), orch, sender, cfg.Discord.DefaultUser, logger)
	if err := ipcServer.Start(); err != nil {
		return err
	}
	defer ipcServer.Stop()

	// ── Scheduler ──
	scheduler := cron.NewScheduler(cronStore, func(ctx context.Context, prompt string) {
		// Scheduled prompts run headless with a no-op status sink.
		if _, err := orch.Run(ctx, orchestrator.Request{
			Prompt: prompt,
			User:   cfg.Discord.DefaultUser,
		}); err != nil {
			logger.Error("scheduled prompt failed", "error", err)
		}
	}, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	logger.Info("skippy is up", "data_dir", root, "headless", headless)

	// ── Wait for shutdown ──
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return nil
}

// writePIDFile records the daemon pid, refusing to clobber a live one.
func writePIDFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(string(data)); err == nil {
			if proc, err := os.FindProcess(pid); err == nil {
				if proc.Signal(syscall.Signal(0)) == nil {
					return fmt.Errorf("daemon already running with pid %d", pid)
				}
			}
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
