package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/isdelr/safeback/internal/database"
	"github.com/isdelr/safeback/internal/models"
)

func workspaceCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "workspace",
		Short: "Workspace and membership commands",
	}
	command.AddCommand(createWorkspaceCmd())
	command.AddCommand(addMemberCmd())
	return command
}

func createWorkspaceCmd() *cobra.Command {
	var id, name string

	command := &cobra.Command{
		Use:   "create",
		Short: "Create a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ws, err := a.members.CreateWorkspace(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			log.Info().Str("workspace_id", ws.ID).Str("name", ws.Name).Msg("Workspace created")
			return nil
		},
	}

	command.Flags().StringVar(&id, "id", "", "workspace id")
	command.Flags().StringVar(&name, "name", "", "display name")
	_ = command.MarkFlagRequired("id")
	return command
}

func addMemberCmd() *cobra.Command {
	var workspaceID, userID, role string

	command := &cobra.Command{
		Use:   "add-member",
		Short: "Add a user to a workspace or change their role",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case models.RoleOwner, models.RoleAdmin, models.RoleMember:
			default:
				return fmt.Errorf("unknown role %q", role)
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.members.AddMember(cmd.Context(), workspaceID, userID, role)
			if err != nil {
				return err
			}
			log.Info().Str("workspace_id", m.WorkspaceID).Str("user_id", m.UserID).Str("role", m.Role).Msg("Member saved")
			return nil
		},
	}

	command.Flags().StringVarP(&workspaceID, "workspace", "w", "", "workspace id")
	command.Flags().StringVarP(&userID, "user", "u", "", "user id")
	command.Flags().StringVar(&role, "role", models.RoleAdmin, "owner, admin or member")
	_ = command.MarkFlagRequired("workspace")
	_ = command.MarkFlagRequired("user")
	return command
}

func dbCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "db",
		Short: "Database commands",
	}
	command.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(db); err != nil {
				return err
			}
			log.Info().Str("path", cfg.DatabasePath).Msg("Database migrated")
			return nil
		},
	})
	return command
}
