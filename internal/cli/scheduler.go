package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func schedulerCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "scheduler",
		Short: "Scheduler commands",
	}
	command.AddCommand(runOnceCmd())
	return command
}

func runOnceCmd() *cobra.Command {
	var force bool

	command := &cobra.Command{
		Use:   "run-once",
		Short: "Run one scheduler pass over every enabled workspace and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.scheduler.RunOnce(cmd.Context(), force)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(results)
		},
	}

	command.Flags().BoolVar(&force, "force", false, "capture every enabled workspace even if it is not due")
	return command
}
