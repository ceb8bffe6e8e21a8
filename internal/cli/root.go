// Package cli implements the loadpair command line.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// errThresholdsFailed is returned by run when the summary is printed but a
// threshold did not pass.
var errThresholdsFailed = errors.New("some thresholds have failed")

// NewRootCmd builds the loadpair command tree. Every flag can also be set
// through a LOADPAIR_* environment variable, e.g. LOADPAIR_CONTROL_ADDR.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("LOADPAIR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "loadpair",
		Short:         "Load generator and target service pair",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `loadpair drives HTTP load against a target service.

It runs scenarios concurrently with either a constant arrival rate (open
model) or an externally controlled number of looping virtual users (closed
model), then prints a summary with percentiles, checks and thresholds.

  loadpair serve --addr :8080
  loadpair run examples/arrival-rate.yaml -e rate=100 -e duration=30s
  loadpair scale s1 20`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return setupLogging(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
		},
	}

	cmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	cmd.AddCommand(
		newRunCmd(v),
		newServeCmd(v),
		newScaleCmd(v),
	)
	return cmd
}

// setupLogging configures the global logrus logger.
func setupLogging(w io.Writer, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(w)

	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid --log-format %q (valid: text, json)", format)
	}
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(NewRootCmd(), os.Args[1:], os.Stderr)
}

func execute(cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errThresholdsFailed) {
			logrus.Error(err)
		} else {
			fmt.Fprintln(stderr, "Error:", err)
		}
		return 1
	}
	return 0
}
