// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025-Present The cimatrix Authors

// Package cmd provides the root command for the cimatrix CLI.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bioviz/cimatrix"
	"github.com/bioviz/cimatrix/config"
	configv0 "github.com/bioviz/cimatrix/config/v0"
	"github.com/bioviz/cimatrix/executor"
	"github.com/bioviz/cimatrix/history"
	"github.com/bioviz/cimatrix/schema"
	v1 "github.com/bioviz/cimatrix/schema/v1"
	"github.com/bioviz/cimatrix/uses"
)

// NewRootCmd creates the root command for the cimatrix CLI.
func NewRootCmd() *cobra.Command {
	var (
		env        map[string]string
		platforms  []string
		level      string
		ver        bool
		list       bool
		plan       bool
		emulate    bool
		jobs       int
		timeout    time.Duration
		dry        bool
		dir        string
		configPath string
		noHistory  bool
		from       = uses.URI{}
		exe        = config.DefaultExecutor // VarP does not allow you to set a default value
	)

	_ = from.Set(uses.DefaultFileName)

	var cfg *configv0.Config // cfg is not set via CLI flag

	// closure initializer
	loadConfig := func(cmd *cobra.Command) error {
		p, err := config.Path(configPath)
		if err != nil {
			return err
		}
		cfg, err = configv0.LoadConfigFile(afero.NewOsFs(), p)
		if err != nil {
			return err
		}

		log.FromContext(cmd.Context()).Debug("loaded config", "path", p)

		// default < cfg < flags
		flags := cmd.Flags()
		if !flags.Changed("executor") && cfg.Executor != "" && cfg.Executor != exe {
			if err := exe.Set(string(cfg.Executor)); err != nil {
				return err // config is validated against the executor enum on load
			}
		}
		if !flags.Changed("jobs") {
			jobs = cfg.Jobs
		}
		if !flags.Changed("emulate") {
			emulate = cfg.Emulate
		}
		return nil
	}

	fetch := func(ctx context.Context, client *http.Client) (v1.Pipeline, error) {
		svc := uses.NewFetcherService(uses.WithClient(client))
		return cimatrix.Fetch(ctx, svc, from.URL)
	}

	root := &cobra.Command{
		Use:   "cimatrix [job...]",
		Short: "Run a CI build matrix on this host",
		// jobs are matched by SelectJobs, not by cobra
		Args: cobra.ArbitraryArgs,
		Long: `
 ┌─┐┬┌┬┐┌─┐┌┬┐┬─┐┬─┐ ┬
 │  │││││├─┤ │ ├┬┘│┌┴┬┘
 └─┘┴┴ ┴┴ ┴ ┴ ┴└─┴┴ └─
`,
		Example: `
cimatrix

cimatrix linux --dry-run

cimatrix --emulate -x virtual -j 1

cimatrix -f https://example.com/bioviz/.cimatrix.yaml --plan
`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			l, err := log.ParseLevel(level)
			if err != nil {
				return err
			}
			log.FromContext(cmd.Context()).SetLevel(l)

			if dir != "" {
				if err := os.Chdir(dir); err != nil {
					return err
				}
			}

			return loadConfig(cmd)
		},
		ValidArgsFunction: func(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			p, err := fetch(cmd.Context(), &http.Client{Timeout: 500 * time.Millisecond})
			if err != nil {
				return nil, cobra.ShellCompDirectiveError
			}

			names := make([]string, 0, len(p.Matrix))
			for _, job := range p.Matrix {
				if slices.Contains(args, job.Label()) {
					continue
				}
				desc := job.OS.String()
				if job.Image != "" {
					desc += " (" + job.Image + ")"
				}
				names = append(names, job.Label()+"\t"+desc)
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.FromContext(ctx)

			if ver {
				bi, ok := debug.ReadBuildInfo()
				if !ok {
					return fmt.Errorf("version information not available")
				}
				switch bi.Main.Path {
				case "github.com/bioviz/cimatrix":
					fmt.Fprintln(os.Stdout, bi.Main.Version)
				default:
					for _, dep := range bi.Deps {
						if dep.Path == "github.com/bioviz/cimatrix" {
							fmt.Fprintln(os.Stdout, dep.Version)
							break
						}
					}
				}
				return nil
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
				cmd.SetContext(ctx)
			}

			p, err := fetch(ctx, &http.Client{})
			if err != nil {
				return fmt.Errorf("failed to fetch %q: %w", from.String(), err)
			}

			only := append(slices.Clone(args), platforms...)

			if list {
				fmt.Fprintln(os.Stdout, "Available jobs:")
				for _, job := range p.Matrix {
					fmt.Fprintln(os.Stdout, describeJob(job))
				}
				return nil
			}

			if plan {
				selected, err := cimatrix.SelectJobs(p.Matrix, only)
				if err != nil {
					return err
				}
				width := 0
				if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
					width = w
				}
				out, err := cimatrix.RenderMarkdown(cimatrix.PlanMarkdown(p, selected), width)
				if err != nil {
					return err
				}
				fmt.Fprint(os.Stdout, out)
				return nil
			}

			wd, err := os.Getwd()
			if err != nil {
				return err
			}

			runEnv := cimatrix.EnvFromList(os.Environ())
			for k, v := range env {
				runEnv[k] = v
			}

			fs := afero.NewOsFs()
			opts := cimatrix.RuntimeOptions{
				Dry:      dry,
				Env:      runEnv,
				Only:     only,
				Jobs:     jobs,
				Executor: exe.String(),
				Provisioner: &cimatrix.LocalProvisioner{
					Fs:      fs,
					Dir:     wd,
					Emulate: emulate,
				},
				Fs:  fs,
				Dir: wd,
			}

			if cfg.History.Enabled && !noHistory && !dry {
				store, err := openHistory(cfg)
				if err != nil {
					logger.Warn("history disabled", "error", err)
				} else {
					defer store.Close()
					opts.Recorder = store
				}
			}

			report, err := cimatrix.Run(ctx, p, opts)
			if err != nil && report != nil {
				var blocking []cimatrix.JobResult
				for _, j := range report.Jobs {
					if j.Blocking() && j.Err != nil {
						blocking = append(blocking, j)
					}
				}
				if len(blocking) > 1 {
					for _, j := range blocking {
						logError(logger.With("job", j.Name), j.Err)
					}
					return fmt.Errorf("%d jobs failed", len(blocking))
				}
			}
			return err
		},
	}

	root.PersistentFlags().StringVarP(&level, "log-level", "l", "info", "Set log level")
	_ = root.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{log.DebugLevel.String(), log.InfoLevel.String(), log.WarnLevel.String(), log.ErrorLevel.String(), log.FatalLevel.String()}, cobra.ShellCompDirectiveNoFileComp
	})
	root.PersistentFlags().StringVarP(&dir, "directory", "C", "", "Change to directory before doing anything")
	_ = root.MarkPersistentFlagDirname("directory")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to cimatrix config file (default $HOME/.cimatrix/config.yaml)") // mirrors config.DefaultDirectory
	_ = root.MarkPersistentFlagFilename("config", "yaml", "yml")

	root.Flags().BoolVarP(&ver, "version", "V", false, "Print version number and exit")
	root.Flags().BoolVar(&list, "list", false, "Print the jobs of the build matrix and exit")
	root.Flags().BoolVar(&plan, "plan", false, "Print the step sequence of every job and exit")
	root.Flags().VarP(&from, "from", "f", "Read location as pipeline definition")
	_ = root.MarkFlagFilename("from", "yaml", "yml")
	root.Flags().StringSliceVarP(&platforms, "platform", "p", nil, fmt.Sprintf("Only run jobs for these platforms or job names (%s)", strings.Join(platformLabels(), ", ")))
	_ = root.RegisterFlagCompletionFunc("platform", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return platformLabels(), cobra.ShellCompDirectiveNoFileComp
	})
	root.Flags().BoolVar(&emulate, "emulate", false, "Run jobs for other platforms on this host")
	root.Flags().IntVarP(&jobs, "jobs", "j", 0, "Maximum number of jobs run at once (0 runs every job at once)")
	root.Flags().StringToStringVarP(&env, "env", "e", nil, "Set KEY=value for every step")
	root.Flags().VarP(&exe, "executor", "x", fmt.Sprintf(`Set executor ("%s")`, strings.Join(config.AvailableExecutors(), `", "`)))
	_ = root.RegisterFlagCompletionFunc("executor", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return config.AvailableExecutors(), cobra.ShellCompDirectiveNoFileComp
	})
	root.Flags().DurationVarP(&timeout, "timeout", "t", time.Hour, "Maximum time allowed for the whole run")
	root.Flags().BoolVar(&dry, "dry-run", false, "Don't actually run anything; just print")
	root.Flags().BoolVar(&noHistory, "no-history", false, "Do not record this run in the history database")

	root.AddCommand(newHistoryCmd(func() *configv0.Config { return cfg }))

	return root
}

func platformLabels() []string {
	labels := make([]string, 0, len(schema.Platforms()))
	for _, p := range schema.Platforms() {
		labels = append(labels, p.String())
	}
	return labels
}

func describeJob(job v1.Job) string {
	var sb strings.Builder
	sb.WriteString("- " + job.Label())
	details := []string{job.OS.String()}
	if job.Image != "" {
		details = append(details, job.Image)
	}
	if job.AllowFailure {
		details = append(details, "allowed to fail")
	}
	sb.WriteString(FaintStyle.Render(" (" + strings.Join(details, ", ") + ")"))
	return sb.String()
}

func openHistory(cfg *configv0.Config) (*history.Store, error) {
	path := cfg.History.Path
	if path == "" {
		dir, err := config.DefaultDirectory()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, history.DefaultFileName)
	}
	path = os.ExpandEnv(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return history.Open(path)
}

func logError(logger *log.Logger, err error) {
	var tErr *cimatrix.TraceError
	if errors.As(err, &tErr) && len(tErr.Trace) > 0 {
		trace := slices.Clone(tErr.Trace)
		slices.Reverse(trace)
		if len(trace) == 1 {
			logger.Error(tErr)
			logger.Error(trace[0])
		} else {
			logger.Error(tErr, "traceback (most recent call first)", strings.Join(trace, "\n"))
		}
		return
	}
	logger.Error(err)
}

// Main executes the root command for the cimatrix CLI.
//
// It returns 0 on success, the exit code of the failing step, or 1.
func Main() int {
	cli := NewRootCmd()

	ctx := context.Background()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer cancel()

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
	})

	logger.SetStyles(DefaultStyles())

	ctx = log.WithContext(ctx, logger)
	cmd, err := cli.ExecuteContextC(ctx)
	if err != nil {
		logger.Print("")

		if errors.Is(cmd.Context().Err(), context.DeadlineExceeded) {
			logger.Error("run timed out")
		}

		logError(logger, err)
	}
	return ParseExitCode(err)
}

// ParseExitCode calculates the exit code from a given error
//
// 0 - the error was nil
// 1 - there was some error
// n - the exit status of the step that failed the run
func ParseExitCode(err error) int {
	if err == nil {
		return 0
	}

	if code := executor.ExitCode(err); code > 0 {
		return code
	}
	return 1
}
