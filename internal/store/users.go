package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"decisiond/internal/model"
)

// CreateUser inserts an operator account.
func (s *DB) CreateUser(ctx context.Context, u *model.User) error {
	active := 0
	if u.Active {
		active = 1
	}
	_, err := s.sql.ExecContext(ctx, s.Rebind(`
		INSERT INTO users (user_id, email, full_name, role, password_hash, active, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		u.UserID, u.Email, u.FullName, u.Role, u.PasswordHash, active,
		fmtTime(u.CreatedAt), fmtTimePtr(u.LastLogin))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `user_id, email, full_name, role, password_hash, active, created_at, last_login`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	var fullName, lastLogin sql.NullString
	var active int
	var createdAt string
	err := row.Scan(&u.UserID, &u.Email, &fullName, &u.Role, &u.PasswordHash,
		&active, &createdAt, &lastLogin)
	if err != nil {
		return u, err
	}
	u.FullName = fullName.String
	u.Active = active != 0
	u.CreatedAt = parseTime(createdAt)
	u.LastLogin = parseTimePtr(lastLogin)
	return u, nil
}

// GetUserByEmail loads a user for login.
func (s *DB) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.sql.QueryRowContext(ctx,
		s.Rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return u, &NotFoundError{Kind: "user", ID: email}
	}
	if err != nil {
		return u, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetUser loads a user by ID.
func (s *DB) GetUser(ctx context.Context, userID string) (model.User, error) {
	row := s.sql.QueryRowContext(ctx,
		s.Rebind(`SELECT `+userColumns+` FROM users WHERE user_id = ?`), userID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return u, &NotFoundError{Kind: "user", ID: userID}
	}
	if err != nil {
		return u, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// TouchLastLogin records a successful login.
func (s *DB) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := s.sql.ExecContext(ctx, s.Rebind(`
		UPDATE users SET last_login = ? WHERE user_id = ?`),
		fmtTime(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
