package cpf

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/tisystems/user-sync-service/internal/config"
	"github.com/tisystems/user-sync-service/internal/models"
)

// Source is the external relational base the local CPF caches mirror.
type Source interface {
	FetchCollaborators(ctx context.Context) ([]models.TimeclockCollaborator, error)
	FetchDirectoryUsers(ctx context.Context) ([]models.DirectoryCacheUser, error)
	Close() error
}

// SourceDB reads the legacy MySQL base that holds the timeclock
// collaborators and the directory user mirror.
type SourceDB struct {
	db          *sql.DB
	excludedIDs []int64
}

// NewSourceDB opens the external MySQL source
func NewSourceDB(cfg config.CPF) (*SourceDB, error) {
	if cfg.SourceDSN == "" {
		return nil, fmt.Errorf("CPF_SOURCE_DSN is required for the CPF subsystem")
	}
	db, err := sql.Open("mysql", cfg.SourceDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open cpf source connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping cpf source: %w", err)
	}
	return &SourceDB{db: db, excludedIDs: cfg.ExcludedIDs}, nil
}

// FetchCollaborators reads active collaborators (status <> 99). Rows without
// a CPF are dropped; the CPF is the cache key.
func (s *SourceDB) FetchCollaborators(ctx context.Context) ([]models.TimeclockCollaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT CONCAT_WS(' ', firstname, lastname) AS full_name, cpf
		FROM collaborators
		WHERE status <> 99`)
	if err != nil {
		return nil, fmt.Errorf("failed to query collaborators: %w", err)
	}
	defer rows.Close()

	var collaborators []models.TimeclockCollaborator
	for rows.Next() {
		var fullName, cpf sql.NullString
		if err := rows.Scan(&fullName, &cpf); err != nil {
			return nil, err
		}
		if !cpf.Valid || cpf.String == "" {
			continue
		}
		collaborators = append(collaborators, models.TimeclockCollaborator{
			CPF:      cpf.String,
			FullName: fullName.String,
		})
	}
	return collaborators, rows.Err()
}

// FetchDirectoryUsers reads active directory users (status <> 0), skipping
// the configured excluded ids.
func (s *SourceDB) FetchDirectoryUsers(ctx context.Context) ([]models.DirectoryCacheUser, error) {
	query := `SELECT id, name FROM users WHERE status <> 0`
	var args []any
	if len(s.excludedIDs) > 0 {
		placeholders := make([]string, len(s.excludedIDs))
		for i, id := range s.excludedIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += fmt.Sprintf(" AND id NOT IN (%s)", strings.Join(placeholders, ","))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query directory users: %w", err)
	}
	defer rows.Close()

	var users []models.DirectoryCacheUser
	for rows.Next() {
		var u models.DirectoryCacheUser
		var name sql.NullString
		if err := rows.Scan(&u.DirectoryID, &name); err != nil {
			return nil, err
		}
		u.Name = name.String
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SourceDB) Close() error {
	return s.db.Close()
}
