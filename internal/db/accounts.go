package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/cadence/internal/models"
)

const accountColumns = `id, provider, email, access_token, refresh_token, token_expiry,
	status, status_message, last_sync_at, created_at`

func scanAccount(s scanner) (*models.Account, error) {
	var (
		a                           models.Account
		provider, status            string
		expiry, lastSync, createdAt string
	)
	if err := s.Scan(&a.ID, &provider, &a.Email, &a.AccessToken, &a.RefreshToken, &expiry,
		&status, &a.StatusMessage, &lastSync, &createdAt); err != nil {
		return nil, err
	}
	a.Provider = models.Provider(provider)
	a.Status = models.AccountStatus(status)
	var err error
	if a.TokenExpiry, err = parseTime(expiry); err != nil {
		return nil, err
	}
	if a.LastSyncAt, err = parseTimePtr(lastSync); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount stores a newly connected account, assigning its ID.
func (db *DB) CreateAccount(ctx context.Context, a *models.Account) error {
	if a.ID == "" {
		id, err := generateAccountID()
		if err != nil {
			return err
		}
		a.ID = id
	}
	if a.Status == "" {
		a.Status = models.AccountOK
	}
	a.CreatedAt = db.now()
	return db.submit(ctx, true, func(tx *sql.Tx) (Change, error) {
		_, err := tx.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, string(a.Provider), a.Email, a.AccessToken, a.RefreshToken, formatTime(a.TokenExpiry),
			string(a.Status), a.StatusMessage, formatTimePtr(a.LastSyncAt), formatTime(a.CreatedAt))
		if err != nil {
			return Change{}, fmt.Errorf("create account: %w", err)
		}
		return Change{}, nil
	})
}

// GetAccount returns the account with the given ID.
func (db *DB) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	a, err := scanAccount(db.conn.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a, err
}

// ListAccounts returns all accounts, oldest first.
func (db *DB) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAccountTokens persists a refreshed token pair. An empty refresh
// token keeps the stored one; providers often omit it on refresh.
func (db *DB) UpdateAccountTokens(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	return db.execAccount(ctx, `
		UPDATE accounts SET access_token = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			token_expiry = ?
		WHERE id = ?`, accessToken, refreshToken, refreshToken, formatTime(expiry), id)
}

// SetAccountStatus records the outcome of a pull. lastSyncAt is only
// written when non-nil.
func (db *DB) SetAccountStatus(ctx context.Context, id string, status models.AccountStatus, message string, lastSyncAt *time.Time) error {
	if lastSyncAt == nil {
		return db.execAccount(ctx, `UPDATE accounts SET status = ?, status_message = ? WHERE id = ?`,
			string(status), message, id)
	}
	return db.execAccount(ctx, `UPDATE accounts SET status = ?, status_message = ?, last_sync_at = ? WHERE id = ?`,
		string(status), message, formatTime(*lastSyncAt), id)
}

// DeleteAccount removes the account row. Events imported from it are left
// for the caller to deal with.
func (db *DB) DeleteAccount(ctx context.Context, id string) error {
	return db.execAccount(ctx, `DELETE FROM accounts WHERE id = ?`, id)
}

func (db *DB) execAccount(ctx context.Context, query string, args ...any) error {
	id := args[len(args)-1]
	return db.submit(ctx, true, func(tx *sql.Tx) (Change, error) {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return Change{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return Change{}, fmt.Errorf("account %v: %w", id, ErrNotFound)
		}
		return Change{}, nil
	})
}
