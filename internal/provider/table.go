package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// TableProvider snapshots one workspace-scoped table. Every row belongs to the workspace
// named in its workspace_id column; that column is not stored in the slice and is
// re-bound on restore.
type TableProvider struct {
	desc    Descriptor
	table   string
	columns []string
	orderBy string
}

// NewTableProvider builds a provider for table. The first column is used for ordering.
func NewTableProvider(desc Descriptor, table string, columns ...string) (*TableProvider, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: table %s has no columns", ErrInvalidProvider, table)
	}
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: bad table name %q", ErrInvalidProvider, table)
	}
	for _, col := range columns {
		if !identPattern.MatchString(col) || col == "workspace_id" {
			return nil, fmt.Errorf("%w: bad column %q in %s", ErrInvalidProvider, col, table)
		}
	}
	return &TableProvider{
		desc:    desc,
		table:   table,
		columns: columns,
		orderBy: columns[0],
	}, nil
}

func (p *TableProvider) Describe() Descriptor {
	return p.desc
}

func (p *TableProvider) Capture(ctx context.Context, q Querier, workspaceID string) (Slice, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE workspace_id = ? ORDER BY %s",
		strings.Join(p.columns, ", "), p.table, p.orderBy)
	rows, err := q.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return Slice{}, fmt.Errorf("querying %s: %w", p.table, err)
	}
	defer rows.Close()

	slice := Slice{Rows: []Record{}}
	for rows.Next() {
		values := make([]any, len(p.columns))
		ptrs := make([]any, len(p.columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Slice{}, fmt.Errorf("scanning %s: %w", p.table, err)
		}
		rec := make(Record, len(p.columns))
		for i, col := range p.columns {
			// Drivers hand TEXT back as []byte in some paths
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = values[i]
			}
		}
		slice.Rows = append(slice.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return Slice{}, fmt.Errorf("iterating %s: %w", p.table, err)
	}
	return slice, nil
}

func (p *TableProvider) Count(ctx context.Context, q Querier, workspaceID string) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE workspace_id = ?", p.table)
	if err := q.QueryRowContext(ctx, query, workspaceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", p.table, err)
	}
	return n, nil
}

func (p *TableProvider) Restore(ctx context.Context, q Querier, workspaceID string, slice Slice) (int, error) {
	if _, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE workspace_id = ?", p.table), workspaceID); err != nil {
		return 0, fmt.Errorf("clearing %s: %w", p.table, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(p.columns)+1), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (workspace_id, %s) VALUES (%s)",
		p.table, strings.Join(p.columns, ", "), placeholders)

	for i, rec := range slice.Rows {
		args := make([]any, 0, len(p.columns)+1)
		args = append(args, workspaceID)
		for _, col := range p.columns {
			v, err := normalizeValue(rec[col])
			if err != nil {
				return 0, fmt.Errorf("%s row %d column %s: %w", p.table, i, col, err)
			}
			args = append(args, v)
		}
		if _, err := q.ExecContext(ctx, insert, args...); err != nil {
			return 0, fmt.Errorf("inserting into %s: %w", p.table, err)
		}
	}
	return len(slice.Rows), nil
}

// normalizeValue turns a JSON-decoded value back into something the SQL driver accepts.
func normalizeValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		return val.Float64()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// RegisterDefaults registers the business domains this service ships with.
func RegisterDefaults(reg *Registry) error {
	defaults := []struct {
		desc    Descriptor
		table   string
		columns []string
	}{
		{Descriptor{Name: "tasks", Description: "Tasks, their status, assignee and due date", Critical: true},
			"tasks", []string{"id", "title", "status", "assignee_id", "due_date", "created_at"}},
		{Descriptor{Name: "goals", Description: "Goals and their progress", Critical: true},
			"goals", []string{"id", "title", "progress", "target_date", "created_at"}},
		{Descriptor{Name: "plans", Description: "Plans and their contents", Critical: true},
			"plans", []string{"id", "name", "body", "created_at"}},
		{Descriptor{Name: "settings", Description: "Workspace settings key/value pairs", Critical: true},
			"workspace_settings", []string{"key", "value"}},
		{Descriptor{Name: "vendors", Description: "Vendor and service catalog entries"},
			"vendors", []string{"id", "name", "category", "contact_email", "created_at"}},
	}

	for _, d := range defaults {
		p, err := NewTableProvider(d.desc, d.table, d.columns...)
		if err != nil {
			return err
		}
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}
