package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tisystems/user-sync-service/internal/models"
	"github.com/tisystems/user-sync-service/internal/storage"
)

func ptr(s string) *string { return &s }

func directoryUser() models.DirectoryUser {
	return models.DirectoryUser{
		Status:      ptr(ActiveStatus),
		Name:        ptr("maria"),
		FullName:    ptr("Maria Silva"),
		DomainLogin: ptr("maria.silva"),
		LocalLogin:  ptr("msilva"),
		Email:       ptr("maria@x.com"),
	}
}

// seedAll stores one matching snapshot row per source for the user above.
func seedAll(t *testing.T, store *storage.MemoryStorage) {
	t.Helper()
	ctx := context.Background()
	_, err := store.ReplaceTimeclockContacts(ctx, []models.TimeclockContact{{Name: "Maria Silva"}})
	require.NoError(t, err)
	_, err = store.ReplaceAccountingUsers(ctx, []models.AccountingUser{{Name: "Maria Silva", Email: "maria@x.com"}})
	require.NoError(t, err)
	_, _, err = store.UpsertERPAccounts(ctx, []models.ERPAccount{{ExternalCode: 1, Name: "maria.silva"}})
	require.NoError(t, err)
	_, _, err = store.UpsertPortalUsers(ctx, []models.PortalUser{{Email: "maria@x.com"}})
	require.NoError(t, err)
	_, err = store.UpsertLogicUsers(ctx, []models.LogicUser{{EmployeeCode: "77", Name: "msilva"}})
	require.NoError(t, err)
}

func TestEngine_Evaluate_AllSourcesMatch(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedAll(t, store)
	engine := NewEngine(store)

	checks, err := engine.Evaluate(context.Background(), directoryUser())

	require.NoError(t, err)
	require.Len(t, checks, len(CheckedSources))
	for _, source := range CheckedSources {
		assert.True(t, checks[source].Matched(), "source %s: %s", source, checks[source].Reason)
	}
}

func TestEngine_Evaluate_TimeclockNameCount(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		contacts   []models.TimeclockContact
		wantStatus string
		wantReason string
	}{
		{
			name:       "absent",
			contacts:   nil,
			wantStatus: StatusMismatch,
			wantReason: "name not found in timeclock",
		},
		{
			name:       "exactly one",
			contacts:   []models.TimeclockContact{{Name: "Maria Silva"}},
			wantStatus: StatusOK,
		},
		{
			name: "duplicated",
			contacts: []models.TimeclockContact{
				{Name: "Maria Silva"},
				{Name: "Maria Silva"},
			},
			wantStatus: StatusMismatch,
			wantReason: "duplicate (2 records with the same name)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStorage()
			_, err := store.ReplaceTimeclockContacts(ctx, tt.contacts)
			require.NoError(t, err)

			checks, err := NewEngine(store).Evaluate(ctx, directoryUser())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, checks[models.SourceTimeclock].Status)
			assert.Equal(t, tt.wantReason, checks[models.SourceTimeclock].Reason)
		})
	}
}

func TestEngine_Evaluate_ComparisonIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	_, err := store.ReplaceTimeclockContacts(ctx, []models.TimeclockContact{{Name: "MARIA SILVA"}})
	require.NoError(t, err)
	_, err = store.ReplaceAccountingUsers(ctx, []models.AccountingUser{{Name: "Maria Silva", Email: "MARIA@X.COM"}})
	require.NoError(t, err)

	checks, err := NewEngine(store).Evaluate(ctx, directoryUser())

	require.NoError(t, err)
	assert.Equal(t, StatusMismatch, checks[models.SourceTimeclock].Status)
	assert.Equal(t, StatusMismatch, checks[models.SourceAccounting].Status)
}

func TestEngine_Evaluate_ComparisonIsAccentSensitive(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	_, err := store.ReplaceTimeclockContacts(ctx, []models.TimeclockContact{{Name: "Jose Araujo"}})
	require.NoError(t, err)

	u := directoryUser()
	u.FullName = ptr("José Araújo")

	checks, err := NewEngine(store).Evaluate(ctx, u)

	require.NoError(t, err)
	assert.Equal(t, StatusMismatch, checks[models.SourceTimeclock].Status)
	assert.Equal(t, "name not found in timeclock", checks[models.SourceTimeclock].Reason)
}

func TestEngine_Evaluate_NilFieldsAreMismatches(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedAll(t, store)

	u := directoryUser()
	u.FullName = nil
	u.Email = nil
	u.DomainLogin = nil
	u.LocalLogin = nil

	checks, err := NewEngine(store).Evaluate(context.Background(), u)

	require.NoError(t, err)
	assert.Equal(t, "no name to reconcile", checks[models.SourceTimeclock].Reason)
	assert.Equal(t, "no e-mail to reconcile", checks[models.SourceAccounting].Reason)
	assert.Equal(t, "no domain login to reconcile", checks[models.SourceERP].Reason)
	assert.Equal(t, "no e-mail to reconcile", checks[models.SourcePortal].Reason)
	assert.Equal(t, "no name to reconcile", checks[models.SourceLogic].Reason)
	for _, source := range CheckedSources {
		assert.Equal(t, StatusMismatch, checks[source].Status, "source %s", source)
	}
}

func TestEngine_ListWithChecks_DivergentOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedAll(t, store)

	// One user fully reconciled, one missing from timeclock.
	missing := models.DirectoryUser{
		Status:   ptr(ActiveStatus),
		FullName: ptr("Sem Ponto"),
		Email:    ptr("sem.ponto@x.com"),
	}
	_, _, err := store.ReplaceDirectoryUsers(ctx, []models.DirectoryUser{directoryUser(), missing})
	require.NoError(t, err)

	engine := NewEngine(store)

	rows, err := engine.ListWithChecks(ctx, storage.DirectoryFilter{}, "")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = engine.ListWithChecks(ctx, storage.DirectoryFilter{}, models.SourceTimeclock)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Sem Ponto", *rows[0].User.FullName)
}

func TestEngine_DivergenceCounts_ActiveOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedAll(t, store)

	inactive := models.DirectoryUser{
		Status:   ptr("Inativo"),
		FullName: ptr("Desligado"),
	}
	_, _, err := store.ReplaceDirectoryUsers(ctx, []models.DirectoryUser{directoryUser(), inactive})
	require.NoError(t, err)

	counts, err := NewEngine(store).DivergenceCounts(ctx)

	require.NoError(t, err)
	// The inactive record diverges everywhere but must not be counted.
	for _, source := range CheckedSources {
		assert.Equal(t, 0, counts[source], "source %s", source)
	}
}
