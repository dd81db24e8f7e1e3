package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/isdelr/safeback/internal/database"
	"github.com/isdelr/safeback/internal/models"
)

// MemberServiceProvider defines the interface for workspace membership services.
type MemberServiceProvider interface {
	WorkspaceExists(ctx context.Context, workspaceID string) (bool, error)
	RoleOf(ctx context.Context, workspaceID, userID string) (string, error)
	RequireAdmin(ctx context.Context, workspaceID, userID string) error
	ResolveAdmin(ctx context.Context, workspaceID string) (string, error)
}

// MemberService answers who may administer a workspace.
type MemberService struct {
	db  *sql.DB
	now func() time.Time
}

// NewMemberService creates a new MemberService.
func NewMemberService(db *sql.DB) *MemberService {
	return &MemberService{db: db, now: time.Now}
}

// CreateWorkspace inserts a workspace.
func (s *MemberService) CreateWorkspace(ctx context.Context, id, name string) (models.Workspace, error) {
	if id == "" || name == "" {
		return models.Workspace{}, fmt.Errorf("%w: workspace id and name are required", ErrInvalidInput)
	}
	ws := models.Workspace{ID: id, Name: name, CreatedAt: s.now().UTC()}
	_, err := s.db.ExecContext(ctx, "INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)",
		ws.ID, ws.Name, database.FormatTime(ws.CreatedAt))
	if err != nil {
		return models.Workspace{}, fmt.Errorf("creating workspace %s: %w", id, err)
	}
	return ws, nil
}

// AddMember adds userID to a workspace, or changes their role.
func (s *MemberService) AddMember(ctx context.Context, workspaceID, userID, role string) (models.Member, error) {
	switch role {
	case models.RoleOwner, models.RoleAdmin, models.RoleMember:
	default:
		return models.Member{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	if ok, err := s.WorkspaceExists(ctx, workspaceID); err != nil {
		return models.Member{}, err
	} else if !ok {
		return models.Member{}, fmt.Errorf("workspace %s: %w", workspaceID, ErrNotFound)
	}

	m := models.Member{WorkspaceID: workspaceID, UserID: userID, Role: role, CreatedAt: s.now().UTC()}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		m.WorkspaceID, m.UserID, m.Role, database.FormatTime(m.CreatedAt))
	if err != nil {
		return models.Member{}, fmt.Errorf("adding member %s to %s: %w", userID, workspaceID, err)
	}
	return m, nil
}

// WorkspaceExists reports whether the workspace is known.
func (s *MemberService) WorkspaceExists(ctx context.Context, workspaceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workspaces WHERE id = ?", workspaceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking workspace %s: %w", workspaceID, err)
	}
	return n > 0, nil
}

// RoleOf returns the user's role in the workspace, or ErrNotFound if they are not a member.
func (s *MemberService) RoleOf(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		"SELECT role FROM workspace_members WHERE workspace_id = ? AND user_id = ?",
		workspaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("member %s of %s: %w", userID, workspaceID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading role of %s in %s: %w", userID, workspaceID, err)
	}
	return role, nil
}

// RequireAdmin returns nil when userID is an owner or admin of the workspace.
func (s *MemberService) RequireAdmin(ctx context.Context, workspaceID, userID string) error {
	exists, err := s.WorkspaceExists(ctx, workspaceID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("workspace %s: %w", workspaceID, ErrNotFound)
	}

	role, err := s.RoleOf(ctx, workspaceID, userID)
	if errors.Is(err, ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return err
	}
	if role != models.RoleOwner && role != models.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

// ResolveAdmin picks the user that scheduled operations are attributed to: the owner,
// otherwise the longest-standing admin.
func (s *MemberService) ResolveAdmin(ctx context.Context, workspaceID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM workspace_members
		WHERE workspace_id = ? AND role IN ('owner', 'admin')
		ORDER BY CASE role WHEN 'owner' THEN 0 ELSE 1 END, created_at ASC, user_id ASC
		LIMIT 1`, workspaceID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no admin for workspace %s: %w", workspaceID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("resolving admin of %s: %w", workspaceID, err)
	}
	return userID, nil
}
