package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/loadpair/internal/target"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	defaults := target.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the target service",
		Long: `Run the HTTP service the built-in iteration functions exercise:

  GET /                 "Hello World!" after a random delay
  GET /weatherforecast  five random forecasts
  GET /metrics          Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := target.NewServer(target.Config{
				Addr:            v.GetString("addr"),
				MinDelay:        v.GetDuration("min-delay"),
				MaxDelay:        v.GetDuration("max-delay"),
				ShutdownTimeout: v.GetDuration("shutdown-timeout"),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().String("addr", defaults.Addr, "listen address")
	cmd.Flags().Duration("min-delay", defaults.MinDelay, "minimum delay of GET /")
	cmd.Flags().Duration("max-delay", defaults.MaxDelay, "maximum delay of GET /")
	cmd.Flags().Duration("shutdown-timeout", defaults.ShutdownTimeout, "graceful shutdown timeout")
	return cmd
}
