package storage

import (
	"context"
	"fmt"

	"github.com/tisystems/user-sync-service/internal/config"
	"github.com/tisystems/user-sync-service/internal/models"
)

// DirectoryFilter narrows ListDirectoryUsers. Query is a case-sensitive
// substring match across the identity columns, matching the dashboard
// semantics exactly (no icontains).
type DirectoryFilter struct {
	Status     string
	Department string
	Query      string
}

// Storage interface defines the contract for data storage
type Storage interface {
	// Snapshot writes, owned by the ingestion pipeline. Replace methods
	// flush the table and reload it inside one transaction; Upsert methods
	// write by natural key and tolerate rows absent from the batch.
	ReplaceDirectoryUsers(ctx context.Context, users []models.DirectoryUser) (written, skipped int, err error)
	ReplaceTimeclockContacts(ctx context.Context, contacts []models.TimeclockContact) (int, error)
	ReplaceAccountingUsers(ctx context.Context, users []models.AccountingUser) (int, error)
	UpsertERPAccounts(ctx context.Context, accounts []models.ERPAccount) (written, failed int, err error)
	UpsertPortalUsers(ctx context.Context, users []models.PortalUser) (created, updated int, err error)
	UpsertLogicUsers(ctx context.Context, users []models.LogicUser) (int, error)

	// Snapshot reads used by the matching engine.
	CountTimeclockByName(ctx context.Context, name string) (int, error)
	AccountingEmailExists(ctx context.Context, email string) (bool, error)
	ERPNameExists(ctx context.Context, name string) (bool, error)
	PortalEmailExists(ctx context.Context, email string) (bool, error)
	LogicNameExists(ctx context.Context, name string) (bool, error)
	ListDirectoryUsers(ctx context.Context, filter DirectoryFilter) ([]models.DirectoryUser, error)
	ListDepartments(ctx context.Context) ([]string, error)

	// Run ledger.
	CreateSyncRun(ctx context.Context) (*models.SyncRun, error)
	FinalizeSyncRun(ctx context.Context, id int64, status, message string) error
	CreateSyncDetail(ctx context.Context, detail *models.SyncDetail) error
	SaveSyncDetail(ctx context.Context, detail *models.SyncDetail) error
	LatestSyncRun(ctx context.Context) (*models.SyncRun, error)
	ListSyncDetails(ctx context.Context, limit int) ([]models.SyncDetail, error)

	// CPF subsystem.
	UpsertTimeclockCollaborators(ctx context.Context, rows []models.TimeclockCollaborator) (int, error)
	UpsertDirectoryCacheUsers(ctx context.Context, rows []models.DirectoryCacheUser) (int, error)
	ListTimeclockCollaborators(ctx context.Context) ([]models.TimeclockCollaborator, error)
	ListDirectoryCacheUsers(ctx context.Context) ([]models.DirectoryCacheUser, error)
	ReplaceCPFChecks(ctx context.Context, checks []models.CPFMatchCheck) error
	ListCPFChecks(ctx context.Context) ([]models.CPFMatchCheck, error)
	ListOKCPFChecks(ctx context.Context) ([]models.CPFMatchCheck, error)
	AppendCPFLog(ctx context.Context, entry models.CPFUpdateLog) error
	ListCPFLogs(ctx context.Context, limit int) ([]models.CPFUpdateLog, error)

	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.Storage) (Storage, error) {
	switch cfg.Type {
	case "postgres", "postgresql":
		return NewPostgresStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(cfg)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
