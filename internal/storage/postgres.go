package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/tisystems/user-sync-service/internal/config"
	"github.com/tisystems/user-sync-service/internal/models"
)

// PostgresStorage implements Storage on a relational PostgreSQL database.
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(cfg config.Storage) (*PostgresStorage, error) {
	if cfg.PostgresURI == "" {
		return nil, fmt.Errorf("POSTGRES_URI is required for postgres storage")
	}

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	storage := &PostgresStorage{db: db}
	if err := storage.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema exists: %w", err)
	}
	return storage, nil
}

// ensureSchema creates the tables if they don't exist
func (p *PostgresStorage) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS directory_users (
			id BIGSERIAL PRIMARY KEY,
			status TEXT,
			name TEXT,
			full_name TEXT,
			domain_login TEXT,
			local_login TEXT,
			department TEXT,
			email TEXT,
			raw JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_directory_users_full_name ON directory_users (full_name)`,
		`CREATE INDEX IF NOT EXISTS idx_directory_users_email ON directory_users (email)`,
		`CREATE TABLE IF NOT EXISTS timeclock_contacts (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			raw JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_timeclock_contacts_name ON timeclock_contacts (name)`,
		`CREATE TABLE IF NOT EXISTS accounting_users (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			raw JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounting_users_email ON accounting_users (email)`,
		`CREATE TABLE IF NOT EXISTS erp_accounts (
			external_code BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			raw JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS portal_users (
			email TEXT PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT '',
			raw JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS logic_users (
			employee_code TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			raw JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id BIGSERIAL PRIMARY KEY,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sync_details (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			read_count INT NOT NULL DEFAULT 0,
			written INT NOT NULL DEFAULT 0,
			updated INT NOT NULL DEFAULT 0,
			skipped_invalid INT NOT NULL DEFAULT 0,
			skipped_error INT NOT NULL DEFAULT 0,
			error_text TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS timeclock_collaborators (
			cpf TEXT PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS directory_cache_users (
			directory_id BIGINT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS cpf_match_checks (
			directory_id BIGINT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			cpf TEXT,
			status TEXT NOT NULL,
			observation TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS cpf_update_logs (
			id BIGSERIAL PRIMARY KEY,
			directory_id BIGINT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			cpf TEXT NOT NULL,
			pushed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func rawToJSON(raw models.RawPayload) (any, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw payload: %w", err)
	}
	return b, nil
}

func rawFromJSON(b []byte) models.RawPayload {
	if len(b) == 0 {
		return nil
	}
	var raw models.RawPayload
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	return raw
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// escapeLike quotes LIKE metacharacters so substring filters match them
// literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ReplaceDirectoryUsers flushes the canonical table and reloads it in one
// transaction. Individual insert failures roll back to a savepoint and are
// counted as skipped instead of aborting the source.
func (p *PostgresStorage) ReplaceDirectoryUsers(ctx context.Context, users []models.DirectoryUser) (int, int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM directory_users`); err != nil {
		return 0, 0, fmt.Errorf("failed to flush directory_users: %w", err)
	}

	written, skipped := 0, 0
	for _, u := range users {
		raw, err := rawToJSON(u.Raw)
		if err != nil {
			skipped++
			continue
		}
		if _, err := tx.ExecContext(ctx, `SAVEPOINT record`); err != nil {
			return written, skipped, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO directory_users (status, name, full_name, domain_login, local_login, department, email, raw)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			toNullString(u.Status), toNullString(u.Name), toNullString(u.FullName),
			toNullString(u.DomainLogin), toNullString(u.LocalLogin),
			toNullString(u.Department), toNullString(u.Email), raw)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT record`); rbErr != nil {
				return written, skipped, rbErr
			}
			skipped++
			continue
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit directory_users: %w", err)
	}
	return written, skipped, nil
}

func (p *PostgresStorage) ReplaceTimeclockContacts(ctx context.Context, contacts []models.TimeclockContact) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM timeclock_contacts`); err != nil {
		return 0, fmt.Errorf("failed to flush timeclock_contacts: %w", err)
	}

	written := 0
	for _, c := range contacts {
		raw, err := rawToJSON(c.Raw)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO timeclock_contacts (name, email, raw) VALUES ($1, $2, $3)`,
			c.Name, c.Email, raw); err != nil {
			return 0, fmt.Errorf("failed to insert timeclock contact: %w", err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit timeclock_contacts: %w", err)
	}
	return written, nil
}

func (p *PostgresStorage) ReplaceAccountingUsers(ctx context.Context, users []models.AccountingUser) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounting_users`); err != nil {
		return 0, fmt.Errorf("failed to flush accounting_users: %w", err)
	}

	written := 0
	for _, u := range users {
		raw, err := rawToJSON(u.Raw)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO accounting_users (name, email, raw) VALUES ($1, $2, $3)`,
			u.Name, u.Email, raw); err != nil {
			return 0, fmt.Errorf("failed to insert accounting user: %w", err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit accounting_users: %w", err)
	}
	return written, nil
}

// UpsertERPAccounts writes each account independently so a single failed row
// is reported in the failed count without losing the rest of the batch.
func (p *PostgresStorage) UpsertERPAccounts(ctx context.Context, accounts []models.ERPAccount) (int, int, error) {
	written, failed := 0, 0
	for _, a := range accounts {
		raw, err := rawToJSON(a.Raw)
		if err != nil {
			failed++
			continue
		}
		_, err = p.db.ExecContext(ctx, `
			INSERT INTO erp_accounts (external_code, name, raw)
			VALUES ($1, $2, $3)
			ON CONFLICT (external_code)
			DO UPDATE SET name = EXCLUDED.name, raw = EXCLUDED.raw`,
			a.ExternalCode, a.Name, raw)
		if err != nil {
			failed++
			continue
		}
		written++
	}
	return written, failed, nil
}

func (p *PostgresStorage) UpsertPortalUsers(ctx context.Context, users []models.PortalUser) (int, int, error) {
	created, updated := 0, 0
	for _, u := range users {
		raw, err := rawToJSON(u.Raw)
		if err != nil {
			return created, updated, err
		}
		// xmax = 0 distinguishes a fresh insert from a conflict update.
		var inserted bool
		err = p.db.QueryRowContext(ctx, `
			INSERT INTO portal_users (email, full_name, raw)
			VALUES ($1, $2, $3)
			ON CONFLICT (email)
			DO UPDATE SET full_name = EXCLUDED.full_name, raw = EXCLUDED.raw
			RETURNING (xmax = 0)`,
			u.Email, u.FullName, raw).Scan(&inserted)
		if err != nil {
			return created, updated, fmt.Errorf("failed to upsert portal user: %w", err)
		}
		if inserted {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

func (p *PostgresStorage) UpsertLogicUsers(ctx context.Context, users []models.LogicUser) (int, error) {
	written := 0
	for _, u := range users {
		raw, err := rawToJSON(u.Raw)
		if err != nil {
			return written, err
		}
		_, err = p.db.ExecContext(ctx, `
			INSERT INTO logic_users (employee_code, name, department, raw)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (employee_code)
			DO UPDATE SET name = EXCLUDED.name, department = EXCLUDED.department, raw = EXCLUDED.raw`,
			u.EmployeeCode, u.Name, u.Department, raw)
		if err != nil {
			return written, fmt.Errorf("failed to upsert logic user: %w", err)
		}
		written++
	}
	return written, nil
}

func (p *PostgresStorage) CountTimeclockByName(ctx context.Context, name string) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM timeclock_contacts WHERE name = $1`, name).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count timeclock contacts: %w", err)
	}
	return count, nil
}

func (p *PostgresStorage) exists(ctx context.Context, query string, arg any) (bool, error) {
	var found bool
	err := p.db.QueryRowContext(ctx, query, arg).Scan(&found)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (p *PostgresStorage) AccountingEmailExists(ctx context.Context, email string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM accounting_users WHERE email = $1)`, email)
}

func (p *PostgresStorage) ERPNameExists(ctx context.Context, name string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM erp_accounts WHERE name = $1)`, name)
}

func (p *PostgresStorage) PortalEmailExists(ctx context.Context, email string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM portal_users WHERE email = $1)`, email)
}

func (p *PostgresStorage) LogicNameExists(ctx context.Context, name string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM logic_users WHERE name = $1)`, name)
}

func (p *PostgresStorage) ListDirectoryUsers(ctx context.Context, filter DirectoryFilter) ([]models.DirectoryUser, error) {
	query := `SELECT id, status, name, full_name, domain_login, local_login, department, email, raw, created_at
		FROM directory_users WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Department != "" {
		args = append(args, filter.Department)
		query += fmt.Sprintf(" AND department = $%d", len(args))
	}
	if filter.Query != "" {
		args = append(args, "%"+escapeLike(filter.Query)+"%")
		n := len(args)
		query += fmt.Sprintf(` AND (name LIKE $%d OR full_name LIKE $%d OR domain_login LIKE $%d OR local_login LIKE $%d OR email LIKE $%d)`,
			n, n, n, n, n)
	}
	query += " ORDER BY id"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory users: %w", err)
	}
	defer rows.Close()

	var users []models.DirectoryUser
	for rows.Next() {
		var u models.DirectoryUser
		var status, name, fullName, domainLogin, localLogin, department, email sql.NullString
		var raw []byte
		if err := rows.Scan(&u.ID, &status, &name, &fullName, &domainLogin, &localLogin,
			&department, &email, &raw, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Status = fromNullString(status)
		u.Name = fromNullString(name)
		u.FullName = fromNullString(fullName)
		u.DomainLogin = fromNullString(domainLogin)
		u.LocalLogin = fromNullString(localLogin)
		u.Department = fromNullString(department)
		u.Email = fromNullString(email)
		u.Raw = rawFromJSON(raw)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresStorage) ListDepartments(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT department FROM directory_users
		WHERE department IS NOT NULL AND department <> ''
		ORDER BY department`)
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var departments []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		departments = append(departments, d)
	}
	return departments, rows.Err()
}

func (p *PostgresStorage) CreateSyncRun(ctx context.Context) (*models.SyncRun, error) {
	run := &models.SyncRun{Status: models.RunStatusRunning}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO sync_runs (status) VALUES ($1)
		RETURNING id, created_at, updated_at`,
		run.Status).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	return run, nil
}

func (p *PostgresStorage) FinalizeSyncRun(ctx context.Context, id int64, status, message string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE sync_runs SET status = $2, message = $3, updated_at = NOW() WHERE id = $1`,
		id, status, message)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	return nil
}

func (p *PostgresStorage) CreateSyncDetail(ctx context.Context, detail *models.SyncDetail) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO sync_details (run_id, source) VALUES ($1, $2)
		RETURNING id, created_at`,
		detail.RunID, detail.Source).Scan(&detail.ID, &detail.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync detail: %w", err)
	}
	return nil
}

func (p *PostgresStorage) SaveSyncDetail(ctx context.Context, detail *models.SyncDetail) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE sync_details
		SET read_count = $2, written = $3, updated = $4, skipped_invalid = $5, skipped_error = $6, error_text = $7
		WHERE id = $1`,
		detail.ID, detail.Read, detail.Written, detail.Updated,
		detail.SkippedInvalid, detail.SkippedError, detail.Error)
	if err != nil {
		return fmt.Errorf("failed to save sync detail: %w", err)
	}
	return nil
}

func (p *PostgresStorage) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	var run models.SyncRun
	err := p.db.QueryRowContext(ctx, `
		SELECT id, status, message, created_at, updated_at
		FROM sync_runs ORDER BY created_at DESC LIMIT 1`).
		Scan(&run.ID, &run.Status, &run.Message, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sync run: %w", err)
	}
	return &run, nil
}

func (p *PostgresStorage) ListSyncDetails(ctx context.Context, limit int) ([]models.SyncDetail, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, run_id, source, read_count, written, updated, skipped_invalid, skipped_error, error_text, created_at
		FROM sync_details ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync details: %w", err)
	}
	defer rows.Close()

	var details []models.SyncDetail
	for rows.Next() {
		var d models.SyncDetail
		if err := rows.Scan(&d.ID, &d.RunID, &d.Source, &d.Read, &d.Written, &d.Updated,
			&d.SkippedInvalid, &d.SkippedError, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (p *PostgresStorage) UpsertTimeclockCollaborators(ctx context.Context, collaborators []models.TimeclockCollaborator) (int, error) {
	count := 0
	for _, c := range collaborators {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO timeclock_collaborators (cpf, full_name) VALUES ($1, $2)
			ON CONFLICT (cpf) DO UPDATE SET full_name = EXCLUDED.full_name`,
			c.CPF, c.FullName)
		if err != nil {
			return count, fmt.Errorf("failed to upsert timeclock collaborator: %w", err)
		}
		count++
	}
	return count, nil
}

func (p *PostgresStorage) UpsertDirectoryCacheUsers(ctx context.Context, users []models.DirectoryCacheUser) (int, error) {
	count := 0
	for _, u := range users {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO directory_cache_users (directory_id, name) VALUES ($1, $2)
			ON CONFLICT (directory_id) DO UPDATE SET name = EXCLUDED.name`,
			u.DirectoryID, u.Name)
		if err != nil {
			return count, fmt.Errorf("failed to upsert directory cache user: %w", err)
		}
		count++
	}
	return count, nil
}

func (p *PostgresStorage) ListTimeclockCollaborators(ctx context.Context) ([]models.TimeclockCollaborator, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT cpf, full_name FROM timeclock_collaborators`)
	if err != nil {
		return nil, fmt.Errorf("failed to list timeclock collaborators: %w", err)
	}
	defer rows.Close()

	var collaborators []models.TimeclockCollaborator
	for rows.Next() {
		var c models.TimeclockCollaborator
		if err := rows.Scan(&c.CPF, &c.FullName); err != nil {
			return nil, err
		}
		collaborators = append(collaborators, c)
	}
	return collaborators, rows.Err()
}

func (p *PostgresStorage) ListDirectoryCacheUsers(ctx context.Context) ([]models.DirectoryCacheUser, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT directory_id, name FROM directory_cache_users`)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory cache users: %w", err)
	}
	defer rows.Close()

	var users []models.DirectoryCacheUser
	for rows.Next() {
		var u models.DirectoryCacheUser
		if err := rows.Scan(&u.DirectoryID, &u.Name); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ReplaceCPFChecks overwrites the whole check set in one transaction: either
// every row is written or none are.
func (p *PostgresStorage) ReplaceCPFChecks(ctx context.Context, checks []models.CPFMatchCheck) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range checks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cpf_match_checks (directory_id, name, cpf, status, observation, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			ON CONFLICT (directory_id)
			DO UPDATE SET name = EXCLUDED.name, cpf = EXCLUDED.cpf, status = EXCLUDED.status,
				observation = EXCLUDED.observation, updated_at = NOW()`,
			c.DirectoryID, c.Name, toNullString(c.CPF), c.Status, c.Observation)
		if err != nil {
			return fmt.Errorf("failed to upsert cpf check: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cpf checks: %w", err)
	}
	return nil
}

func (p *PostgresStorage) listCPFChecks(ctx context.Context, query string) ([]models.CPFMatchCheck, error) {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list cpf checks: %w", err)
	}
	defer rows.Close()

	var checks []models.CPFMatchCheck
	for rows.Next() {
		var c models.CPFMatchCheck
		var cpf sql.NullString
		if err := rows.Scan(&c.DirectoryID, &c.Name, &cpf, &c.Status, &c.Observation, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.CPF = fromNullString(cpf)
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

func (p *PostgresStorage) ListCPFChecks(ctx context.Context) ([]models.CPFMatchCheck, error) {
	return p.listCPFChecks(ctx, `
		SELECT directory_id, name, cpf, status, observation, updated_at
		FROM cpf_match_checks ORDER BY status, name`)
}

func (p *PostgresStorage) ListOKCPFChecks(ctx context.Context) ([]models.CPFMatchCheck, error) {
	return p.listCPFChecks(ctx, `
		SELECT directory_id, name, cpf, status, observation, updated_at
		FROM cpf_match_checks
		WHERE status = 'OK' AND cpf IS NOT NULL AND cpf <> ''
		ORDER BY name`)
}

func (p *PostgresStorage) AppendCPFLog(ctx context.Context, entry models.CPFUpdateLog) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO cpf_update_logs (directory_id, name, cpf) VALUES ($1, $2, $3)`,
		entry.DirectoryID, entry.Name, entry.CPF)
	if err != nil {
		return fmt.Errorf("failed to append cpf log: %w", err)
	}
	return nil
}

func (p *PostgresStorage) ListCPFLogs(ctx context.Context, limit int) ([]models.CPFUpdateLog, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, directory_id, name, cpf, pushed_at
		FROM cpf_update_logs ORDER BY pushed_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cpf logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CPFUpdateLog
	for rows.Next() {
		var l models.CPFUpdateLog
		if err := rows.Scan(&l.ID, &l.DirectoryID, &l.Name, &l.CPF, &l.PushedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (p *PostgresStorage) Close() error {
	return p.db.Close()
}
