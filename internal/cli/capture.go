package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isdelr/safeback/internal/models"
	"github.com/isdelr/safeback/internal/services"
)

func captureCmd() *cobra.Command {
	var (
		workspaceID  string
		actor        string
		snapshotType string
		reason       string
	)

	command := &cobra.Command{
		Use:   "capture",
		Short: "Take a snapshot of a workspace, e.g. before an upgrade",
		RunE: func(cmd *cobra.Command, args []string) error {
			if models.SnapshotType(snapshotType) == models.SnapshotPreRestore {
				return fmt.Errorf("pre_restore snapshots are taken by restores only")
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if actor == "" {
				if actor, err = a.members.ResolveAdmin(cmd.Context(), workspaceID); err != nil {
					return err
				}
			}

			req := services.CaptureRequest{
				WorkspaceID: workspaceID,
				Actor:       actor,
				Type:        models.SnapshotType(snapshotType),
			}
			if reason != "" {
				req.Reason = &reason
			}

			snap, err := a.snapshots.Capture(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("capture failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}

	command.Flags().StringVarP(&workspaceID, "workspace", "w", "", "workspace id")
	command.Flags().StringVar(&actor, "actor", "", "user recorded as the snapshot creator (defaults to the workspace owner)")
	command.Flags().StringVarP(&snapshotType, "type", "t", string(models.SnapshotPreUpgrade), "snapshot type: manual, scheduled or pre_upgrade")
	command.Flags().StringVarP(&reason, "reason", "r", "", "free-text reason stored with the snapshot")
	_ = command.MarkFlagRequired("workspace")

	return command
}
