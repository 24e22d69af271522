// Command scriptbox runs untrusted scripts under the scriptbox sandbox and
// prints the result as JSON.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/zhangyunhao116/scriptbox"
)

// exitError carries a process exit code without an error message. Commands
// return it when the run itself worked but the script did not.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	// The sandbox child is this same binary; it must branch off before any
	// flag parsing or logging.
	if scriptbox.MaybeSandboxInit() {
		return
	}
	// A missing .env file is normal.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	root, err := newRootCmd(getenv)
	if err != nil {
		fmt.Fprintln(stderr, "scriptbox:", err)
		return 2
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err = root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(stderr, "scriptbox:", err)
	return 2
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel   string
	jsonLogs   bool
	isolation  string
	fallback   string
	policy     string
	moduleRoot string
}

func newRootCmd(getenv func(string) string) (*cobra.Command, error) {
	def, err := loadEnvDefaults(getenv)
	if err != nil {
		return nil, err
	}
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "scriptbox",
		Short:         "Run untrusted scripts in a sandbox",
		Long:          "Screens scripts against a denylist policy and runs the ones that pass under CPU, memory and wall-clock limits.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), g.logLevel, g.jsonLogs)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.logLevel, "log-level", def.logLevel, "log level: debug, info, warn or error")
	pf.BoolVar(&g.jsonLogs, "json", false, "write logs and reports as JSON")
	pf.StringVar(&g.isolation, "isolation", def.isolation, "isolation mode: auto, process or thread")
	pf.StringVar(&g.fallback, "fallback", def.fallback, "when process isolation is unavailable: strict or warn")
	pf.StringVar(&g.policy, "policy", def.policy, "YAML denylist policy file")
	pf.StringVar(&g.moduleRoot, "module-root", def.moduleRoot, "directory modules must resolve inside")

	root.AddCommand(
		runCmd(g, def),
		moduleCmd(g, def),
		validateCmd(g),
		capsCmd(g),
	)
	return root, nil
}

// newLogger builds the CLI logger: tint for terminals, JSON with --json.
func newLogger(w io.Writer, level string, jsonLogs bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
		NoColor:    color.NoColor,
	})), nil
}

// newRunner builds a Runner from the global flags.
func (g *globalFlags) newRunner() (*scriptbox.Runner, error) {
	iso, err := scriptbox.ParseIsolation(g.isolation)
	if err != nil {
		return nil, err
	}
	cfg := scriptbox.DefaultConfig()
	cfg.Isolation = iso
	switch g.fallback {
	case "", "strict":
		cfg.FallbackPolicy = scriptbox.FallbackStrict
	case "warn":
		cfg.FallbackPolicy = scriptbox.FallbackWarn
	default:
		return nil, fmt.Errorf("invalid --fallback %q: want strict or warn", g.fallback)
	}
	cfg.PolicyFile = g.policy
	cfg.ModuleRoot = g.moduleRoot
	cfg.Logger = slog.Default()
	return scriptbox.New(cfg)
}
