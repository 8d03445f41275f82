package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tisystems/user-sync-service/internal/models"
	"github.com/tisystems/user-sync-service/internal/storage"
)

// fakeFetcher implements Fetcher with canned data and per-source errors.
type fakeFetcher struct {
	directory  []models.RawPayload
	timeclock  []models.TimeclockContact
	accounting []models.RawPayload
	erp        []models.RawPayload
	portal     []models.RawPayload
	logic      []models.RawPayload
	errs       map[string]error
	calls      []string
}

func (f *fakeFetcher) fetch(source string) error {
	f.calls = append(f.calls, source)
	if err, ok := f.errs[source]; ok {
		return err
	}
	return nil
}

func (f *fakeFetcher) DirectoryUsers(ctx context.Context) ([]models.RawPayload, error) {
	if err := f.fetch(models.SourceDirectory); err != nil {
		return nil, err
	}
	return f.directory, nil
}

func (f *fakeFetcher) TimeclockContacts(ctx context.Context) ([]models.TimeclockContact, error) {
	if err := f.fetch(models.SourceTimeclock); err != nil {
		return nil, err
	}
	return f.timeclock, nil
}

func (f *fakeFetcher) AccountingUsers(ctx context.Context) ([]models.RawPayload, error) {
	if err := f.fetch(models.SourceAccounting); err != nil {
		return nil, err
	}
	return f.accounting, nil
}

func (f *fakeFetcher) ERPAccounts(ctx context.Context) ([]models.RawPayload, error) {
	if err := f.fetch(models.SourceERP); err != nil {
		return nil, err
	}
	return f.erp, nil
}

func (f *fakeFetcher) PortalUsers(ctx context.Context) ([]models.RawPayload, error) {
	if err := f.fetch(models.SourcePortal); err != nil {
		return nil, err
	}
	return f.portal, nil
}

func (f *fakeFetcher) LogicUsers(ctx context.Context) ([]models.RawPayload, error) {
	if err := f.fetch(models.SourceLogic); err != nil {
		return nil, err
	}
	return f.logic, nil
}

func detailsBySource(t *testing.T, store storage.Storage) map[string]models.SyncDetail {
	t.Helper()
	details, err := store.ListSyncDetails(context.Background(), 50)
	require.NoError(t, err)
	out := make(map[string]models.SyncDetail)
	for _, d := range details {
		if _, ok := out[d.Source]; !ok {
			out[d.Source] = d
		}
	}
	return out
}

func fullFetcher() *fakeFetcher {
	return &fakeFetcher{
		directory: []models.RawPayload{
			{"Status": "Ativo", "name": " maria ", "Nome_Completo": "Maria Silva", "User_Dominio": "maria.silva", "User_Local": "msilva", "departamento_principal": "TI", "email": "maria@x.com"},
			{"Status": "", "name": "joao", "Nome_Completo": "  ", "email": ""},
		},
		timeclock: []models.TimeclockContact{
			{Name: "Maria Silva", Email: "maria@x.com"},
		},
		accounting: []models.RawPayload{
			{"name": "Maria Silva", "email": "maria@x.com"},
			{"name": "Sem Email", "email": "  "},
		},
		erp: []models.RawPayload{
			{"I_SECUSUARIOS": float64(10), "NOME": " maria.silva "},
			{"I_SECUSUARIOS": "11", "NOME": "joao.souza"},
			{"NOME": "sem codigo"},
			{"I_SECUSUARIOS": float64(12), "NOME": "  "},
		},
		portal: []models.RawPayload{
			{"nome_completo": "Maria Silva", "email": "Maria@X.com"},
			{"nome_completo": "Maria Duplicada", "email": "maria@x.com"},
			{"nome_completo": "Sem Email", "email": ""},
		},
		logic: []models.RawPayload{
			{"CodigoFuncionario": float64(77), "NomeFuncionario": " msilva ", "DepFuncionario": "TI"},
			{"CodigoFuncionario": "", "NomeFuncionario": "sem codigo"},
		},
	}
}

func TestService_Run_Success(t *testing.T) {
	store := storage.NewMemoryStorage()
	fetcher := fullFetcher()
	service := NewService(fetcher, store)

	run, err := service.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, run.Status)

	details := detailsBySource(t, store)
	require.Len(t, details, 6)

	dir := details[models.SourceDirectory]
	assert.Equal(t, 2, dir.Read)
	assert.Equal(t, 2, dir.Written)

	tc := details[models.SourceTimeclock]
	assert.Equal(t, 1, tc.Read)
	assert.Equal(t, 1, tc.Written)

	acc := details[models.SourceAccounting]
	assert.Equal(t, 2, acc.Read)
	assert.Equal(t, 1, acc.Written)
	assert.Equal(t, 1, acc.SkippedInvalid)

	erp := details[models.SourceERP]
	assert.Equal(t, 4, erp.Read)
	assert.Equal(t, 2, erp.Written)
	assert.Equal(t, 2, erp.SkippedInvalid)

	portal := details[models.SourcePortal]
	assert.Equal(t, 3, portal.Read)
	assert.Equal(t, 1, portal.Written)
	assert.Equal(t, 0, portal.Updated)
	assert.Equal(t, 2, portal.SkippedInvalid) // duplicate + empty email

	logic := details[models.SourceLogic]
	assert.Equal(t, 2, logic.Read)
	assert.Equal(t, 1, logic.Written)
	assert.Equal(t, 1, logic.SkippedInvalid)

	// Written plus skipped never exceeds read.
	for source, d := range details {
		assert.LessOrEqual(t, d.Written+d.Skipped(), d.Read, "source %s", source)
	}
}

func TestService_Run_NormalizesDirectoryFields(t *testing.T) {
	store := storage.NewMemoryStorage()
	service := NewService(fullFetcher(), store)

	_, err := service.Run(context.Background())
	require.NoError(t, err)

	users, err := store.ListDirectoryUsers(context.Background(), storage.DirectoryFilter{})
	require.NoError(t, err)
	require.Len(t, users, 2)

	maria := users[0]
	require.NotNil(t, maria.Name)
	assert.Equal(t, "maria", *maria.Name) // outer whitespace trimmed

	joao := users[1]
	assert.Nil(t, joao.Status)   // empty coerced to null
	assert.Nil(t, joao.FullName) // whitespace-only coerced to null
	assert.Nil(t, joao.Email)
}

func TestService_Run_FailFast(t *testing.T) {
	store := storage.NewMemoryStorage()
	fetcher := fullFetcher()
	fetcher.errs = map[string]error{models.SourceTimeclock: errors.New("connection refused")}
	service := NewService(fetcher, store)

	run, err := service.Run(context.Background())

	require.Error(t, err)
	assert.Equal(t, models.RunStatusError, run.Status)
	assert.Contains(t, run.Message, "connection refused")

	// Sources after the failing one are never fetched.
	assert.Equal(t, []string{models.SourceDirectory, models.SourceTimeclock}, fetcher.calls)

	// The failed source still has a ledger row carrying the error text.
	details := detailsBySource(t, store)
	require.Len(t, details, 2)
	assert.Contains(t, details[models.SourceTimeclock].Error, "connection refused")
}

func TestService_Run_UpsertSourcesAreIdempotent(t *testing.T) {
	store := storage.NewMemoryStorage()
	service := NewService(fullFetcher(), store)

	_, err := service.Run(context.Background())
	require.NoError(t, err)
	_, err = service.Run(context.Background())
	require.NoError(t, err)

	details := detailsBySource(t, store) // most recent run first
	erp := details[models.SourceERP]
	assert.Equal(t, 2, erp.Written)

	// The portal rows already exist on the second run: nothing newly
	// inserted, one refresh.
	portal := details[models.SourcePortal]
	assert.Equal(t, 0, portal.Written)
	assert.Equal(t, 1, portal.Updated)

	exists, err := store.PortalEmailExists(context.Background(), "Maria@X.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestService_Run_FlushSourcesMatchInputExactly(t *testing.T) {
	store := storage.NewMemoryStorage()
	fetcher := fullFetcher()
	service := NewService(fetcher, store)

	_, err := service.Run(context.Background())
	require.NoError(t, err)

	// Second run with fewer timeclock rows: the snapshot must shrink to
	// exactly the new input, not accumulate.
	fetcher.timeclock = []models.TimeclockContact{
		{Name: "Novo Contato", Email: "novo@x.com"},
	}
	_, err = service.Run(context.Background())
	require.NoError(t, err)

	count, err := store.CountTimeclockByName(context.Background(), "Maria Silva")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = store.CountTimeclockByName(context.Background(), "Novo Contato")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestService_Run_ERPAcceptsStringCodes(t *testing.T) {
	store := storage.NewMemoryStorage()
	fetcher := fullFetcher()
	service := NewService(fetcher, store)

	_, err := service.Run(context.Background())
	require.NoError(t, err)

	exists, err := store.ERPNameExists(context.Background(), "joao.souza")
	require.NoError(t, err)
	assert.True(t, exists)

	// The name is trimmed before the upsert.
	exists, err = store.ERPNameExists(context.Background(), "maria.silva")
	require.NoError(t, err)
	assert.True(t, exists)
}
