package notify

import (
	"context"
	"database/sql"
)

// Repository stores notifications and resolves admin recipients in
// Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a notification repository on db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// AdminIDs returns every user with the admin role.
func (r *Repository) AdminIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users WHERE role = 'admin' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Insert stores a notification. Redelivered messages are ignored.
func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, user_role, title, message, type, category, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, n.ID, n.UserID, string(n.UserRole), n.Title, n.Message, string(n.Type), string(n.Category), n.Read, n.CreatedAt)
	return err
}
