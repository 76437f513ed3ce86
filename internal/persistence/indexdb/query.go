package indexdb

import (
	"context"
	"database/sql"
)

// Saves returns the most recent saves, newest first. An empty path matches all files.
func (s *SQLiteIndex) Saves(ctx context.Context, path string, limit int) ([]SaveRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path,version,title,width,height,bytes,containers,signs,fixtures,COALESCE(backup,''),saved_at
		FROM saves WHERE (? = '' OR path = ?) ORDER BY id DESC LIMIT ?`, path, path, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveRow
	for rows.Next() {
		var r SaveRow
		if err := rows.Scan(&r.Path, &r.Version, &r.Title, &r.Width, &r.Height, &r.Bytes,
			&r.Containers, &r.Signs, &r.Fixtures, &r.Backup, &r.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transactions returns the most recently updated transactions. An empty state matches all.
func (s *SQLiteIndex) Transactions(ctx context.Context, state string, limit int) ([]TransactionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,tool,state,cells,entities,path,updated_at
		FROM transactions WHERE (? = '' OR state = ?) ORDER BY updated_at DESC, id LIMIT ?`, state, state, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransactionRow
	for rows.Next() {
		var r TransactionRow
		if err := rows.Scan(&r.ID, &r.Tool, &r.State, &r.Cells, &r.Entities, &r.Path, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transaction looks up one transaction by id.
func (s *SQLiteIndex) Transaction(ctx context.Context, id string) (TransactionRow, bool, error) {
	var r TransactionRow
	err := s.db.QueryRowContext(ctx, `SELECT id,tool,state,cells,entities,path,updated_at FROM transactions WHERE id = ?`, id).
		Scan(&r.ID, &r.Tool, &r.State, &r.Cells, &r.Entities, &r.Path, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	return r, true, nil
}
