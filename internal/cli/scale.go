package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/loadpair/internal/loadgen/control"
	"github.com/wesleyorama2/loadpair/internal/loadgen/engine"
)

func newScaleCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale [<scenario> <vus>]",
		Short: "Change the VUs of an externally-controlled scenario",
		Long: `Set the VU target of an externally-controlled scenario of a running
'loadpair run --control-addr ...'. Without arguments, list the scenarios.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or <scenario> <vus>, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := control.NewClient(v.GetString("control-addr"))

			if len(args) == 0 {
				list, err := client.List(cmd.Context())
				if err != nil {
					return err
				}
				printScenarios(cmd, list)
				return nil
			}

			vus, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid VU count %q", args[1])
			}
			st, err := client.Scale(cmd.Context(), args[0], vus)
			if err != nil {
				return err
			}
			printScenarios(cmd, []engine.ScenarioStatus{st})
			return nil
		},
	}

	cmd.Flags().String("control-addr", "localhost:6565", "address of the control API")
	return cmd
}

func printScenarios(cmd *cobra.Command, list []engine.ScenarioStatus) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tEXECUTOR\tSTATE\tACTIVE\tTARGET\tMAX\tITERATIONS")
	for _, st := range list {
		target := "-"
		if st.Controllable {
			target = strconv.Itoa(st.TargetVUs)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\n",
			st.Name, st.Executor, st.State, st.ActiveVUs, target, st.MaxVUs, st.Iterations)
	}
	tw.Flush()
}
