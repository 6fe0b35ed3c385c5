package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/popsim/popsim/sim"
	"github.com/popsim/popsim/sim/store"
	"github.com/popsim/popsim/sim/stream"
	"github.com/popsim/popsim/sim/trace"
)

// cliOptions holds the flag values of one command tree.
type cliOptions struct {
	logLevel   string // Log verbosity level
	dbPath     string // SQLite run store; empty disables persistence
	workers    int    // Goroutines for per-agent evaluation (0 = GOMAXPROCS)
	listenAddr string // Address of the snapshot feed

	preset          string // Built-in scenario instead of a file
	ticks           int    // Overrides tick_count
	seed            int64  // Overrides seed
	traceLevel      string // Lifecycle trace level
	resultsPath     string // JSON file for the snapshot series
	checkpointPath  string // Checkpoint file written at the end of a run
	checkpointEvery int    // Also checkpoint every N ticks
	runID           string // Stored run to resume
	printSchema     bool   // validate: print the scenario JSON schema

	settings Settings
}

var rootCmd = newRootCmd()

// newRootCmd builds the command tree with a fresh set of flag bindings.
func newRootCmd() *cobra.Command {
	o := &cliOptions{}
	root := &cobra.Command{
		Use:           "popsim",
		Short:         "Agent-based demographic simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := LoadSettings()
			if err != nil {
				return err
			}
			s.applyFlags(cmd, o)
			o.settings = s

			level, err := logrus.ParseLevel(s.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid log level: %s", s.LogLevel)
			}
			logrus.SetLevel(level)
			if !trace.IsValidTraceLevel(o.traceLevel) {
				return fmt.Errorf("invalid trace level: %q", o.traceLevel)
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&o.dbPath, "db", "", "SQLite database for runs, snapshots and checkpoints")
	pf.IntVar(&o.workers, "workers", 0, "Worker goroutines for per-agent evaluation (0 = GOMAXPROCS)")
	pf.StringVar(&o.listenAddr, "listen", "127.0.0.1:8080", "Listen address of the snapshot feed (serve)")

	root.AddCommand(newRunCmd(o), newResumeCmd(o), newServeCmd(o), newValidateCmd(o), newPresetsCmd())
	return root
}

func addScenarioFlags(cmd *cobra.Command, o *cliOptions) {
	cmd.Flags().StringVar(&o.preset, "preset", "", "Built-in scenario to use instead of a file")
	cmd.Flags().IntVar(&o.ticks, "ticks", 0, "Override tick_count")
	cmd.Flags().Int64Var(&o.seed, "seed", 42, "Override the scenario seed")
}

func addOutputFlags(cmd *cobra.Command, o *cliOptions) {
	cmd.Flags().StringVar(&o.traceLevel, "trace", string(trace.TraceLevelNone), "Lifecycle trace level (none, events)")
	cmd.Flags().StringVar(&o.resultsPath, "results-path", "", "Write the snapshot series as JSON to this file")
	cmd.Flags().StringVar(&o.checkpointPath, "checkpoint", "", "Checkpoint file")
	cmd.Flags().IntVar(&o.checkpointEvery, "checkpoint-every", 0, "Also checkpoint every N ticks (0 = only at the end)")
}

func newRunCmd(o *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [scenario.yaml]",
		Short: "Run a scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.scenario(cmd, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return o.runFresh(ctx, cmd.OutOrStdout(), cfg, sim.NewSeries())
		},
	}
	addScenarioFlags(cmd, o)
	addOutputFlags(cmd, o)
	return cmd
}

func newResumeCmd(o *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [scenario.yaml]",
		Short: "Continue a run from a checkpoint file (--checkpoint) or a stored run (--run)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return o.resume(ctx, cmd, args)
		},
	}
	addScenarioFlags(cmd, o)
	addOutputFlags(cmd, o)
	cmd.Flags().StringVar(&o.runID, "run", "", "Stored run id to resume (requires --db)")
	return cmd
}

func newServeCmd(o *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [scenario.yaml]",
		Short: "Run a scenario while streaming snapshots over WebSocket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.scenario(cmd, args)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return o.serve(ctx, cmd.OutOrStdout(), cfg)
		},
	}
	addScenarioFlags(cmd, o)
	addOutputFlags(cmd, o)
	return cmd
}

func newValidateCmd(o *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [scenario.yaml]",
		Short: "Check a scenario without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if o.printSchema {
				fmt.Fprintln(out, sim.ScenarioSchema())
				return nil
			}
			cfg, err := o.scenario(cmd, args)
			if err != nil {
				return err
			}
			sc, err := cfg.Compile()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "scenario %q is valid: %s agents, %d ticks, %d policy events, seed %d\n",
				sc.Name, humanize.Comma(int64(sc.InitialSize)), sc.TickCount, len(sc.Events), sc.Seed)
			return nil
		},
	}
	addScenarioFlags(cmd, o)
	cmd.Flags().BoolVar(&o.printSchema, "schema", false, "Print the scenario JSON schema and exit")
	return cmd
}

func newPresetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presets",
		Short: "List built-in scenarios",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range PresetNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Print a built-in scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := PresetYAML(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}

// scenario loads the scenario named by args or --preset and applies the
// command-line overrides.
func (o *cliOptions) scenario(cmd *cobra.Command, args []string) (*sim.ScenarioConfig, error) {
	var (
		cfg *sim.ScenarioConfig
		err error
	)
	switch {
	case o.preset != "" && len(args) > 0:
		return nil, errors.New("give either a scenario file or --preset, not both")
	case o.preset != "":
		cfg, err = LoadPreset(o.preset)
	case len(args) == 1:
		cfg, err = sim.LoadScenario(args[0])
	default:
		return nil, errors.New("a scenario file or --preset is required")
	}
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("ticks") {
		cfg.TickCount = o.ticks
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = o.seed
	}
	return cfg, nil
}

// applyRunOverrides extends a stored run with --ticks. The seed is fixed by
// the stored checkpoint, so --seed is refused.
func (o *cliOptions) applyRunOverrides(cmd *cobra.Command, cfg *sim.ScenarioConfig) error {
	if cmd.Flags().Changed("seed") && o.seed != cfg.Seed {
		return fmt.Errorf("--seed cannot change stored run %s (seed %d)", o.runID, cfg.Seed)
	}
	if cmd.Flags().Changed("ticks") {
		cfg.TickCount = o.ticks
	}
	return nil
}

// session is one invocation's view of a run: the compiled scenario plus the
// optional store record and trace.
type session struct {
	cfg   *sim.ScenarioConfig
	sc    *sim.Scenario
	db    *store.DB
	run   *store.Run
	trace *trace.SimulationTrace
}

func (o *cliOptions) openSession(cfg *sim.ScenarioConfig, run *store.Run) (*session, error) {
	sc, err := cfg.Compile()
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, sc: sc, run: run}
	if trace.TraceLevel(o.traceLevel) == trace.TraceLevelEvents {
		s.trace = trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevel(o.traceLevel)})
	}
	if o.settings.DBPath == "" {
		if run != nil {
			return nil, errors.New("--run requires --db")
		}
		return s, nil
	}
	db, err := store.Open(o.settings.DBPath)
	if err != nil {
		return nil, err
	}
	s.db = db
	if s.run == nil {
		if s.run, err = db.CreateRun(cfg); err != nil {
			db.Close()
			return nil, err
		}
		logrus.Infof("created run %s in %s", s.run.ID, o.settings.DBPath)
	}
	return s, nil
}

func (s *session) close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (o *cliOptions) stepperOptions(s *session, series *sim.Series) []sim.StepperOption {
	opts := []sim.StepperOption{sim.WithWorkers(o.settings.Workers), sim.WithSeries(series)}
	if s.trace != nil {
		opts = append(opts, sim.WithTrace(s.trace))
	}
	if o.checkpointEvery > 0 && (o.checkpointPath != "" || s.db != nil) {
		opts = append(opts, sim.WithCheckpoints(o.checkpointEvery, func(cp *sim.Checkpoint) error {
			return o.saveCheckpoint(s, cp)
		}))
	}
	return opts
}

func (o *cliOptions) saveCheckpoint(s *session, cp *sim.Checkpoint) error {
	if o.checkpointPath != "" {
		if err := writeCheckpoint(o.checkpointPath, cp); err != nil {
			return err
		}
	}
	if s.db != nil {
		if err := s.db.SaveCheckpoint(s.run.ID, cp); err != nil {
			return err
		}
	}
	return nil
}

func (o *cliOptions) runFresh(ctx context.Context, out io.Writer, cfg *sim.ScenarioConfig, series *sim.Series) error {
	s, err := o.openSession(cfg, nil)
	if err != nil {
		return err
	}
	defer s.close()
	pop, err := sim.BuildInitialPopulation(s.sc)
	if err != nil {
		return err
	}
	stepper := sim.NewStepper(s.sc, pop, sim.NewRandomStream(sim.NewSimulationKey(s.sc.Seed)), o.stepperOptions(s, series)...)
	return o.drive(ctx, out, s, stepper, s.sc.TickCount)
}

func (o *cliOptions) resume(ctx context.Context, cmd *cobra.Command, args []string) error {
	var (
		cfg *sim.ScenarioConfig
		cp  *sim.Checkpoint
		run *store.Run
		err error
	)
	switch {
	case o.runID != "" && o.checkpointPath != "":
		return errors.New("give either --run or --checkpoint, not both")
	case o.runID != "":
		if o.settings.DBPath == "" {
			return errors.New("--run requires --db")
		}
		db, err := store.Open(o.settings.DBPath)
		if err != nil {
			return err
		}
		run, err = db.GetRun(o.runID)
		if err == nil {
			cfg, err = db.RunConfig(o.runID)
		}
		if err == nil {
			err = o.applyRunOverrides(cmd, cfg)
		}
		if err == nil {
			cp, err = db.LatestCheckpoint(o.runID)
		}
		db.Close()
		if err != nil {
			return err
		}
	case o.checkpointPath != "":
		if cfg, err = o.scenario(cmd, args); err != nil {
			return err
		}
		if cp, err = readCheckpoint(o.checkpointPath); err != nil {
			return err
		}
	default:
		return errors.New("resume needs --checkpoint or --run")
	}

	s, err := o.openSession(cfg, run)
	if err != nil {
		return err
	}
	defer s.close()
	if s.run != nil {
		if err := s.db.SetStatus(s.run.ID, store.StatusRunning); err != nil {
			return err
		}
	}
	remaining := s.sc.TickCount - cp.Tick
	if remaining <= 0 {
		return fmt.Errorf("checkpoint is at tick %d, scenario ends at tick %d: nothing to resume", cp.Tick, s.sc.TickCount)
	}
	stepper, err := sim.Resume(s.sc, cp, o.stepperOptions(s, sim.NewSeries())...)
	if err != nil {
		return err
	}
	logrus.Infof("resuming %q from tick %d", s.sc.Name, cp.Tick)
	return o.drive(ctx, cmd.OutOrStdout(), s, stepper, remaining)
}

// drive runs the stepper, then persists and reports whatever committed, also
// when the run was cancelled or failed.
func (o *cliOptions) drive(ctx context.Context, out io.Writer, s *session, stepper *sim.Stepper, ticks int) error {
	start := time.Now()
	runErr := stepper.Run(ctx, ticks)
	stepper.Series().Close()
	snaps := stepper.Series().Snapshots()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if o.checkpointPath != "" || s.db != nil {
		if cp, err := stepper.Checkpoint(); err == nil {
			errs = append(errs, o.saveCheckpoint(s, cp))
		}
	}
	if s.db != nil {
		errs = append(errs, s.db.AppendSnapshots(s.run.ID, snaps))
		errs = append(errs, s.db.SetStatus(s.run.ID, runStatus(runErr)))
	}
	if o.resultsPath != "" {
		errs = append(errs, writeResults(o.resultsPath, snaps))
	}

	var summary *trace.TraceSummary
	if s.trace != nil {
		summary = trace.Summarize(s.trace)
	}
	printReport(out, s.sc.Name, snaps, summary, time.Since(start))
	if s.run != nil {
		fmt.Fprintf(out, "Run id:            %s\n", s.run.ID)
	}
	return errors.Join(errs...)
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return store.StatusCompleted
	case errors.Is(err, context.Canceled):
		return store.StatusCancelled
	default:
		return store.StatusFailed
	}
}

// serve runs the scenario while the snapshot feed is served, and keeps
// serving the finished series until interrupted.
func (o *cliOptions) serve(ctx context.Context, out io.Writer, cfg *sim.ScenarioConfig) error {
	series := sim.NewSeries()
	feed := stream.NewServer(cfg.Name, series)
	srv := &http.Server{Addr: o.settings.ListenAddr, Handler: feed.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logrus.Infof("snapshot feed listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := o.runFresh(ctx, out, cfg, series); err != nil {
			return err
		}
		fmt.Fprintf(out, "Serving %d snapshots on %s; interrupt to exit\n", series.Len(), srv.Addr)
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
