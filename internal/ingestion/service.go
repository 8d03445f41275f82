package ingestion

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/tisystems/user-sync-service/internal/models"
	"github.com/tisystems/user-sync-service/internal/storage"
)

// Fetcher is the collaborator boundary to the six external sources.
type Fetcher interface {
	DirectoryUsers(ctx context.Context) ([]models.RawPayload, error)
	TimeclockContacts(ctx context.Context) ([]models.TimeclockContact, error)
	AccountingUsers(ctx context.Context) ([]models.RawPayload, error)
	ERPAccounts(ctx context.Context) ([]models.RawPayload, error)
	PortalUsers(ctx context.Context) ([]models.RawPayload, error)
	LogicUsers(ctx context.Context) ([]models.RawPayload, error)
}

// Service runs the ingestion pipeline: fetch each source in a fixed order,
// normalize, apply the source's write strategy, and keep the run ledger.
type Service struct {
	fetcher Fetcher
	storage storage.Storage
}

// NewService creates a new ingestion service
func NewService(fetcher Fetcher, store storage.Storage) *Service {
	return &Service{fetcher: fetcher, storage: store}
}

// Run executes one full ingestion. A fetch failure aborts the run and no
// further sources are processed; the run is finalized as error with the
// failure text. Individual bad records never abort their source.
func (s *Service) Run(ctx context.Context) (*models.SyncRun, error) {
	run, err := s.storage.CreateSyncRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	steps := []func(context.Context, *models.SyncRun) error{
		s.syncDirectory,
		s.syncTimeclock,
		s.syncAccounting,
		s.syncERP,
		s.syncPortal,
		s.syncLogic,
	}

	for _, step := range steps {
		if err := step(ctx, run); err != nil {
			run.Status = models.RunStatusError
			run.Message = err.Error()
			if finErr := s.storage.FinalizeSyncRun(ctx, run.ID, run.Status, run.Message); finErr != nil {
				log.Printf("failed to finalize run %d: %v", run.ID, finErr)
			}
			return run, err
		}
	}

	run.Status = models.RunStatusSuccess
	if err := s.storage.FinalizeSyncRun(ctx, run.ID, run.Status, ""); err != nil {
		return run, fmt.Errorf("failed to finalize sync run: %w", err)
	}
	log.Printf("sync finished (run=%d)", run.ID)
	return run, nil
}

// beginDetail creates the per-source ledger row before any fetch happens, so
// an aborted source still leaves a trace.
func (s *Service) beginDetail(ctx context.Context, run *models.SyncRun, source string) (*models.SyncDetail, error) {
	detail := &models.SyncDetail{RunID: run.ID, Source: source}
	if err := s.storage.CreateSyncDetail(ctx, detail); err != nil {
		return nil, err
	}
	return detail, nil
}

func (s *Service) finishDetail(ctx context.Context, detail *models.SyncDetail) error {
	if err := s.storage.SaveSyncDetail(ctx, detail); err != nil {
		return err
	}
	log.Printf("%s - %d read, %d written, %d skipped", detail.Source, detail.Read, detail.Written, detail.Skipped())
	return nil
}

// failDetail records the failure text on the detail row before the error
// propagates and aborts the run.
func (s *Service) failDetail(ctx context.Context, detail *models.SyncDetail, err error) error {
	detail.Error = err.Error()
	if saveErr := s.storage.SaveSyncDetail(ctx, detail); saveErr != nil {
		log.Printf("failed to save detail for %s: %v", detail.Source, saveErr)
	}
	return err
}

func (s *Service) syncDirectory(ctx context.Context, run *models.SyncRun) error {
	detail, err := s.beginDetail(ctx, run, models.SourceDirectory)
	if err != nil {
		return err
	}

	rows, err := s.fetcher.DirectoryUsers(ctx)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Read = len(rows)

	users := make([]models.DirectoryUser, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			detail.SkippedInvalid++
			continue
		}
		users = append(users, models.DirectoryUser{
			Status:      trimmedField(row, "Status"),
			Name:        trimmedField(row, "name"),
			FullName:    trimmedField(row, "Nome_Completo"),
			DomainLogin: trimmedField(row, "User_Dominio"),
			LocalLogin:  trimmedField(row, "User_Local"),
			Department:  trimmedField(row, "departamento_principal"),
			Email:       trimmedField(row, "email"),
			Raw:         row,
		})
	}

	written, skipped, err := s.storage.ReplaceDirectoryUsers(ctx, users)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Written = written
	detail.SkippedError += skipped
	return s.finishDetail(ctx, detail)
}

func (s *Service) syncTimeclock(ctx context.Context, run *models.SyncRun) error {
	detail, err := s.beginDetail(ctx, run, models.SourceTimeclock)
	if err != nil {
		return err
	}

	contacts, err := s.fetcher.TimeclockContacts(ctx)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Read = len(contacts)

	written, err := s.storage.ReplaceTimeclockContacts(ctx, contacts)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Written = written
	return s.finishDetail(ctx, detail)
}

func (s *Service) syncAccounting(ctx context.Context, run *models.SyncRun) error {
	detail, err := s.beginDetail(ctx, run, models.SourceAccounting)
	if err != nil {
		return err
	}

	rows, err := s.fetcher.AccountingUsers(ctx)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Read = len(rows)

	users := make([]models.AccountingUser, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			detail.SkippedInvalid++
			continue
		}
		name := strings.TrimSpace(stringField(row, "name"))
		email := strings.TrimSpace(stringField(row, "email"))
		if name == "" || email == "" {
			detail.SkippedInvalid++
			continue
		}
		users = append(users, models.AccountingUser{Name: name, Email: email, Raw: row})
	}

	written, err := s.storage.ReplaceAccountingUsers(ctx, users)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Written = written
	return s.finishDetail(ctx, detail)
}

// syncERP couples fetch and persistence: accounts are upserted by external
// code as they are validated, and write failures are counted apart from
// validation skips.
func (s *Service) syncERP(ctx context.Context, run *models.SyncRun) error {
	detail, err := s.beginDetail(ctx, run, models.SourceERP)
	if err != nil {
		return err
	}

	rows, err := s.fetcher.ERPAccounts(ctx)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Read = len(rows)

	accounts := make([]models.ERPAccount, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			detail.SkippedInvalid++
			continue
		}
		code, ok := int64Field(row, "I_SECUSUARIOS")
		name := strings.TrimSpace(stringField(row, "NOME"))
		if !ok || name == "" {
			detail.SkippedInvalid++
			continue
		}
		accounts = append(accounts, models.ERPAccount{ExternalCode: code, Name: name, Raw: row})
	}

	written, failed, err := s.storage.UpsertERPAccounts(ctx, accounts)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Written = written
	detail.SkippedError += failed
	return s.finishDetail(ctx, detail)
}

func (s *Service) syncPortal(ctx context.Context, run *models.SyncRun) error {
	detail, err := s.beginDetail(ctx, run, models.SourcePortal)
	if err != nil {
		return err
	}

	rows, err := s.fetcher.PortalUsers(ctx)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Read = len(rows)

	// Dedup by lower-cased email within the batch: first record wins.
	seen := make(map[string]bool)
	users := make([]models.PortalUser, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			detail.SkippedInvalid++
			continue
		}
		name := strings.TrimSpace(stringField(row, "nome_completo"))
		email := strings.TrimSpace(stringField(row, "email"))
		if email == "" {
			detail.SkippedInvalid++
			continue
		}
		key := strings.ToLower(email)
		if seen[key] {
			detail.SkippedInvalid++
			continue
		}
		seen[key] = true
		users = append(users, models.PortalUser{Email: email, FullName: name, Raw: row})
	}

	created, updated, err := s.storage.UpsertPortalUsers(ctx, users)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	// Written counts new rows only; refreshes of existing rows are reported
	// under Updated.
	detail.Written = created
	detail.Updated = updated
	return s.finishDetail(ctx, detail)
}

func (s *Service) syncLogic(ctx context.Context, run *models.SyncRun) error {
	detail, err := s.beginDetail(ctx, run, models.SourceLogic)
	if err != nil {
		return err
	}

	rows, err := s.fetcher.LogicUsers(ctx)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Read = len(rows)

	users := make([]models.LogicUser, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			detail.SkippedInvalid++
			continue
		}
		code := strings.TrimSpace(codeField(row, "CodigoFuncionario"))
		if code == "" {
			detail.SkippedInvalid++
			continue
		}
		users = append(users, models.LogicUser{
			EmployeeCode: code,
			Name:         strings.TrimSpace(stringField(row, "NomeFuncionario")),
			Department:   strings.TrimSpace(stringField(row, "DepFuncionario")),
			Raw:          row,
		})
	}

	written, err := s.storage.UpsertLogicUsers(ctx, users)
	if err != nil {
		return s.failDetail(ctx, detail, err)
	}
	detail.Written = written
	return s.finishDetail(ctx, detail)
}

func stringField(row models.RawPayload, key string) string {
	if s, ok := row[key].(string); ok {
		return s
	}
	return ""
}

// trimmedField trims the value and coerces empty strings to nil, matching the
// optional text columns of the canonical table.
func trimmedField(row models.RawPayload, key string) *string {
	v := strings.TrimSpace(stringField(row, key))
	if v == "" {
		return nil
	}
	return &v
}

// int64Field reads a numeric field that may arrive as a JSON number or a
// stringified integer.
func int64Field(row models.RawPayload, key string) (int64, bool) {
	switch v := row[key].(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// codeField stringifies an employee code that may arrive as number or string.
func codeField(row models.RawPayload, key string) string {
	switch v := row[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}
