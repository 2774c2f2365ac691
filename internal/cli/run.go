package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tessro/tinymon/internal/config"
	"github.com/tessro/tinymon/internal/daemon"
	"github.com/tessro/tinymon/internal/logging"
	"github.com/tessro/tinymon/internal/metrics"
	"github.com/tessro/tinymon/internal/paths"
	"github.com/tessro/tinymon/internal/supervisor"
)

// configOptions are the flags that describe the child.
type configOptions struct {
	configPath   string
	script       string
	args         []string
	cwd          string
	env          []string
	interpreter  string
	restartDelay string
	logLevel     string
}

// runOptions are the flags of the run command.
type runOptions struct {
	configOptions

	logFile     string
	pidFile     string
	metricsAddr string
	autoRestart bool
	maxBackoff  time.Duration
	quitOnExit  bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run [script] [-- args...]",
	Short: "Run and supervise a script",
	Long: `Run a script as a supervised child process.

The supervisor listens on a control socket for restart, stop and status
requests, and also reacts to signals: SIGHUP restarts the child, SIGUSR1
dumps status, SIGINT and SIGTERM stop the child and exit.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSupervisor(cmd.Context(), &runOpts, args, cmd.ErrOrStderr())
	},
}

func addConfigFlags(cmd *cobra.Command, opts *configOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
	f.StringVar(&opts.script, "script", "", "script to run (or pass it as the first argument)")
	f.StringArrayVar(&opts.args, "arg", nil, "argument passed to the script (repeatable)")
	f.StringVar(&opts.cwd, "cwd", "", "working directory of the child")
	f.StringArrayVarP(&opts.env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	f.StringVar(&opts.interpreter, "interpreter", "", `program that runs the script, e.g. "/bin/sh"`)
	f.StringVar(&opts.restartDelay, "restart-delay", "", "how long a restart waits for the old child (default 5s)")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func init() {
	addConfigFlags(runCmd, &runOpts.configOptions)
	f := runCmd.Flags()
	f.StringVar(&runOpts.logFile, "log-file", "", "structured log file (default ~/.tinymon/tinymon.log)")
	f.StringVar(&runOpts.pidFile, "pid-file", "", "PID file (default ~/.tinymon/tinymon.pid)")
	f.StringVar(&runOpts.metricsAddr, "metrics-addr", "", "serve /metrics, /live and /ready on this address")
	f.BoolVar(&runOpts.autoRestart, "auto-restart", false, "restart the child whenever it ends on its own")
	f.DurationVar(&runOpts.maxBackoff, "max-backoff", 30*time.Second, "longest wait between automatic restarts")
	f.BoolVar(&runOpts.quitOnExit, "quit-on-exit", false, "stop supervising once the child announces its exit")
	rootCmd.AddCommand(runCmd)
}

// build merges the config file, positional arguments and flags into a
// Config. Flags win over the file.
func (o *configOptions) build(args []string) (config.Config, error) {
	var cfg config.Config

	path := o.configPath
	if path == "" && o.script == "" && len(args) == 0 {
		if def, err := paths.ConfigPath(); err == nil {
			if _, err := os.Stat(def); err == nil {
				path = def
			}
		}
	}
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if len(args) > 0 {
		cfg.Script = args[0]
		cfg.Args = append([]string(nil), args[1:]...)
	}
	if o.script != "" {
		cfg.Script = o.script
	}
	cfg.Args = append(cfg.Args, o.args...)
	if o.cwd != "" {
		cfg.Cwd = o.cwd
	}
	if len(o.env) > 0 {
		env := make(map[string]string, len(cfg.Env)+len(o.env))
		for k, v := range cfg.Env {
			env[k] = v
		}
		for _, kv := range o.env {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return cfg, &config.ValidationError{
					Field:   "env",
					Value:   kv,
					Message: "must be KEY=VALUE",
					Err:     config.ErrInvalidField,
				}
			}
			env[key] = value
		}
		cfg.Env = env
	}
	if o.interpreter != "" {
		cfg.Interpreter = strings.Fields(o.interpreter)
	}
	if o.restartDelay != "" {
		cfg.RestartDelay = o.restartDelay
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// runSupervisor supervises the configured child until it is stopped over
// the control socket, by a signal, or by ctx.
func runSupervisor(ctx context.Context, opts *runOptions, args []string, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := opts.build(args)
	if err != nil {
		fmt.Fprintln(stderr, logging.Format(logging.KindError, err.Error()))
		fmt.Fprintln(stderr, config.Usage())
		return err
	}

	log, cleanup, err := logging.Setup(opts.logFile, stderr, logging.ParseLevel(cfg.GetLogLevel()))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()

	daemon.CleanStalePID(opts.pidFile)
	if err := daemon.WritePID(opts.pidFile); err != nil {
		return err
	}
	defer func() {
		if err := daemon.RemovePID(opts.pidFile); err != nil {
			log.Warn("remove pid file failed", logging.KindKey, logging.KindError, "error", err)
		}
	}()

	// Buffered so the child's exit announcement never blocks delivery.
	announced := make(chan struct{}, 1)
	cfg.Done = func() {
		select {
		case announced <- struct{}{}:
		default:
		}
	}

	collector := metrics.New()
	sup, err := supervisor.Create(cfg,
		supervisor.WithLogger(log),
		supervisor.WithUsageOutput(stderr),
		supervisor.WithEventHandler(collector.Observe),
	)
	if err != nil {
		return err
	}
	defer sup.Quit()

	srv := daemon.NewServer(getSocketPath(), daemon.NewHandler(sup), log)
	sup.OnEvent(daemon.Forward(srv))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			log.Warn("stop control socket failed", logging.KindKey, logging.KindError, "error", err)
		}
	}()

	if opts.autoRestart {
		ar := newAutoRestarter(sup, newRestartBackOff(opts.maxBackoff), log)
		sup.OnEvent(ar.handle)
		defer ar.stop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if opts.metricsAddr != "" {
		go func() {
			defer logging.LogPanic("metrics", nil)
			if err := collector.Serve(ctx, opts.metricsAddr, log); err != nil {
				log.Error("metrics server failed", logging.KindKey, logging.KindError, "error", err)
			}
		}()
	}

	cmds := daemon.Notify(ctx)
	for {
		select {
		case <-sup.Done():
			return nil
		case <-announced:
			if opts.quitOnExit {
				sup.Quit()
			}
		case cmd, ok := <-cmds:
			if !ok {
				cmds = nil
				sup.Quit()
				continue
			}
			switch cmd {
			case daemon.CommandRestart:
				if err := sup.Restart(); err != nil && !errors.Is(err, supervisor.ErrStopped) {
					log.Error("restart failed", logging.KindKey, logging.KindError, "error", err)
				}
			case daemon.CommandQuit:
				sup.Quit()
			case daemon.CommandDump:
				if err := sup.Dump(stderr); err != nil {
					log.Error("dump failed", logging.KindKey, logging.KindError, "error", err)
				}
			}
		}
	}
}
