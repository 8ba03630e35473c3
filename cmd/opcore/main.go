package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/builtin"
	"github.com/wippyai/opcore/config"
	"github.com/wippyai/opcore/engine"
	"github.com/wippyai/opcore/pending"
	"github.com/wippyai/opcore/runtime"
	"github.com/wippyai/opcore/state"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to guest wasm file")
		entry       = flag.String("entry", "", "Guest export to call (default $OPCORE_ENTRY or run)")
		list        = flag.Bool("list", false, "List registered ops and exit")
		interactive = flag.Bool("i", false, "Interactive op console with TUI")
	)
	flag.Parse()

	if *wasmFile == "" && !*list && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: opcore -wasm <guest.wasm> [-entry name] [-- guest args]")
		fmt.Fprintln(os.Stderr, "       opcore -list")
		fmt.Fprintln(os.Stderr, "       opcore -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *entry != "" {
		cfg.Entry = *entry
	}

	log, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	runtime.SetLogger(log)
	pending.SetLogger(log.Named("pending"))
	engine.SetLogger(log.Named("engine"))

	if *interactive {
		if err := runInteractive(cfg, log); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log, *wasmFile, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRuntime builds a session with the built-in ops installed. op_print
// writes to stdout and stderr.
func newRuntime(cfg config.Config, log *zap.Logger, stdout, stderr io.Writer) (*runtime.Runtime, error) {
	st := state.New()
	builtin.Install(st, stdout, stderr)

	rt := runtime.New(
		runtime.WithConfig(cfg),
		runtime.WithLogger(log),
		runtime.WithState(st),
	)
	if err := builtin.Register(rt.Registry()); err != nil {
		return nil, multierr.Append(err, rt.Close())
	}
	return rt, nil
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, wasmFile string, listOnly bool) (err error) {
	rt, err := newRuntime(cfg, log, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rt.Close()) }()

	if listOnly {
		fmt.Println("Registered ops:")
		for _, name := range rt.Registry().Names() {
			fmt.Printf("  %s\n", name)
		}
		return nil
	}

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	host, err := engine.NewWazeroHost(ctx, rt, &engine.Config{
		Stdout:           os.Stdout,
		Stderr:           os.Stderr,
		Args:             append([]string{wasmFile}, flag.Args()...),
		MemoryLimitPages: cfg.MemoryLimitPages,
	})
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	defer func() { err = multierr.Append(err, host.Close(ctx)) }()

	inst, err := host.Instantiate(ctx, data)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}

	if _, err := inst.Call(ctx, cfg.Entry); err != nil {
		return fmt.Errorf("call %s: %w", cfg.Entry, err)
	}

	if err := rt.RunEventLoop(ctx, inst); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}

	s := rt.Stats()
	fmt.Fprintf(os.Stderr, "\nsession %s: %d calls (%d immediate, %d deferred, %d protocol errors), %d completions\n",
		s.Session, s.Calls, s.Immediate, s.Deferred, s.ProtocolErrors, s.Queues.Drained)
	return nil
}
