package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/loadpair/internal/loadgen"
	"github.com/wesleyorama2/loadpair/internal/loadgen/config"
	"github.com/wesleyorama2/loadpair/internal/loadgen/control"
	"github.com/wesleyorama2/loadpair/internal/loadgen/engine"
	"github.com/wesleyorama2/loadpair/internal/loadgen/executor"
	"github.com/wesleyorama2/loadpair/internal/loadgen/output"
	"github.com/wesleyorama2/loadpair/internal/loadgen/script"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run the scenarios of a configuration file",
		Long: `Run every scenario of a YAML or JSON configuration file concurrently.

${VAR} references in the file are replaced by --env values or environment
variables; $${VAR} stays a literal ${VAR}. Undefined variables are an error.
--env values are also visible to iteration functions.

The exit code is 1 when a scenario aborts or a threshold fails.

Executors:
` + executorHelp(),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd, v, args[0])
		},
	}

	cmd.Flags().StringArrayP("env", "e", nil, "KEY=VALUE made available to the config file and iteration functions")
	cmd.Flags().String("base-url", "", "override settings.baseUrl")
	cmd.Flags().String("summary-export", "", "write the JSON summary to this file (- for stdout)")
	cmd.Flags().Bool("json", false, "print the summary as JSON instead of text")
	cmd.Flags().Bool("no-color", false, "disable colored output")
	cmd.Flags().String("control-addr", "", "serve the control API on this address, e.g. localhost:6565")
	cmd.Flags().Duration("progress-interval", 0, "log scenario progress at this interval (0 disables)")
	return cmd
}

func executorHelp() string {
	var b strings.Builder
	for _, typ := range executor.ListExecutorTypes() {
		fmt.Fprintf(&b, "  %-24s %s\n", typ, executor.GetExecutorDescription(typ))
	}
	return strings.TrimRight(b.String(), "\n")
}

func runConfig(cmd *cobra.Command, v *viper.Viper, path string) error {
	env, err := parseEnv(v.GetStringSlice("env"))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := config.ParseConfig(data, path, func(key string) (string, bool) {
		if val, ok := env[key]; ok {
			return val, true
		}
		return os.LookupEnv(key)
	})
	if err != nil {
		return err
	}

	if base := v.GetString("base-url"); base != "" {
		cfg.Settings.BaseURL = base
	}
	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		if sc.Env == nil {
			sc.Env = make(map[string]string, len(env))
		}
		for k, val := range env {
			if _, ok := sc.Env[k]; !ok {
				sc.Env[k] = val
			}
		}
	}
	config.ApplyDefaults(cfg)

	funcs := loadgen.NewRegistry()
	if err := script.Register(funcs, script.Options{
		BaseURL:               cfg.Settings.BaseURL,
		DiscardResponseBodies: cfg.Settings.DiscardResponseBodies,
	}); err != nil {
		return err
	}

	eng, err := engine.New(cfg, funcs, engine.Options{ProgressInterval: v.GetDuration("progress-interval")})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := v.GetString("control-addr"); addr != "" {
		ctlCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := control.NewServer(eng).ListenAndServe(ctlCtx, addr); err != nil {
				logrus.WithError(err).Error("control API failed")
			}
		}()
	}

	summary, runErr := eng.Run(ctx)

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		err = output.WriteJSON(out, summary)
	} else {
		noColor := v.GetBool("no-color") || !output.UseColor(out)
		err = output.WriteText(out, summary, output.TextOptions{NoColor: noColor})
	}
	if err != nil {
		return err
	}

	if export := v.GetString("summary-export"); export != "" {
		if err := output.ExportJSON(export, summary); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	if !summary.Passed {
		return errThresholdsFailed
	}
	return nil
}

// parseEnv parses KEY=VALUE pairs.
func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, val, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --env %q: expected KEY=VALUE", p)
		}
		env[strings.TrimSpace(k)] = val
	}
	return env, nil
}
