package cpf

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tisystems/user-sync-service/internal/models"
	"github.com/tisystems/user-sync-service/internal/storage"
)

// fakeSource returns canned cache data without a database.
type fakeSource struct {
	collaborators []models.TimeclockCollaborator
	users         []models.DirectoryCacheUser
	err           error
}

func (f *fakeSource) FetchCollaborators(ctx context.Context) ([]models.TimeclockCollaborator, error) {
	return f.collaborators, f.err
}

func (f *fakeSource) FetchDirectoryUsers(ctx context.Context) ([]models.DirectoryCacheUser, error) {
	return f.users, f.err
}

func (f *fakeSource) Close() error { return nil }

// fakePusher records push attempts; IDs in failIDs report failure.
type fakePusher struct {
	pushed  []int64
	failIDs map[int64]bool
}

func (f *fakePusher) Push(ctx context.Context, directoryID int64, cpf string) bool {
	f.pushed = append(f.pushed, directoryID)
	return !f.failIDs[directoryID]
}

func seedCaches(t *testing.T, store storage.Storage, collaborators []models.TimeclockCollaborator, users []models.DirectoryCacheUser) {
	t.Helper()
	ctx := context.Background()
	_, err := store.UpsertTimeclockCollaborators(ctx, collaborators)
	require.NoError(t, err)
	_, err = store.UpsertDirectoryCacheUsers(ctx, users)
	require.NoError(t, err)
}

func TestService_RefreshCaches(t *testing.T) {
	store := storage.NewMemoryStorage()
	source := &fakeSource{
		collaborators: []models.TimeclockCollaborator{
			{CPF: "11111111111", FullName: "Ana Souza"},
			{CPF: "22222222222", FullName: "Bruno Lima"},
		},
		users: []models.DirectoryCacheUser{
			{DirectoryID: 1, Name: "Ana Souza"},
		},
	}
	service := NewService(store, source, &fakePusher{})

	result, err := service.RefreshCaches(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Collaborators)
	assert.Equal(t, 1, result.DirectoryUsers)

	stored, err := store.ListTimeclockCollaborators(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestService_RefreshCaches_NoSource(t *testing.T) {
	service := NewService(storage.NewMemoryStorage(), nil, &fakePusher{})

	_, err := service.RefreshCaches(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestService_RefreshCaches_SourceError(t *testing.T) {
	source := &fakeSource{err: errors.New("connection lost")}
	service := NewService(storage.NewMemoryStorage(), source, &fakePusher{})

	_, err := service.RefreshCaches(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection lost")
}

func TestService_RecomputeChecks_Classification(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedCaches(t, store,
		[]models.TimeclockCollaborator{
			{CPF: "11111111111", FullName: "Ana Souza"},
			{CPF: "22222222222", FullName: "Carla Dias"},
			{CPF: "33333333333", FullName: "Carla Dias"},
		},
		[]models.DirectoryCacheUser{
			{DirectoryID: 1, Name: "Ana Souza"},
			{DirectoryID: 2, Name: "Carla Dias"},
			{DirectoryID: 3, Name: "Sem Ponto"},
		},
	)
	service := NewService(store, nil, &fakePusher{})

	stats, err := service.RecomputeChecks(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDirectory)
	assert.Equal(t, 1, stats.OK)
	assert.Equal(t, 1, stats.NoMatch)
	assert.Equal(t, 1, stats.Duplicate)
	assert.Equal(t, 2, stats.Problems)

	checks, err := store.ListCPFChecks(context.Background())
	require.NoError(t, err)
	require.Len(t, checks, 3)

	byID := make(map[int64]models.CPFMatchCheck)
	for _, c := range checks {
		byID[c.DirectoryID] = c
	}

	ok := byID[1]
	assert.Equal(t, models.CheckStatusOK, ok.Status)
	require.NotNil(t, ok.CPF)
	assert.Equal(t, "11111111111", *ok.CPF)

	dup := byID[2]
	assert.Equal(t, models.CheckStatusDuplicate, dup.Status)
	assert.Nil(t, dup.CPF)
	assert.Equal(t, "2 CPFs in timeclock for the same name", dup.Observation)

	noMatch := byID[3]
	assert.Equal(t, models.CheckStatusNoMatch, noMatch.Status)
	assert.Nil(t, noMatch.CPF)
}

func TestService_RecomputeChecks_OverwritesPreviousRound(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedCaches(t, store,
		[]models.TimeclockCollaborator{{CPF: "11111111111", FullName: "Ana Souza"}},
		[]models.DirectoryCacheUser{{DirectoryID: 1, Name: "Ana Souza"}},
	)
	service := NewService(store, nil, &fakePusher{})

	_, err := service.RecomputeChecks(context.Background())
	require.NoError(t, err)
	_, err = service.RecomputeChecks(context.Background())
	require.NoError(t, err)

	checks, err := store.ListCPFChecks(context.Background())
	require.NoError(t, err)
	assert.Len(t, checks, 1)
}

// failingCheckStore rejects check writes while leaving every other Storage
// method intact.
type failingCheckStore struct {
	storage.Storage
	err error
}

func (f *failingCheckStore) ReplaceCPFChecks(ctx context.Context, checks []models.CPFMatchCheck) error {
	return f.err
}

func TestService_RecomputeChecks_FailedWriteKeepsPreviousSet(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	seedCaches(t, store,
		[]models.TimeclockCollaborator{{CPF: "11111111111", FullName: "Ana Souza"}},
		[]models.DirectoryCacheUser{{DirectoryID: 1, Name: "Ana Souza"}},
	)
	service := NewService(store, nil, &fakePusher{})

	_, err := service.RecomputeChecks(ctx)
	require.NoError(t, err)
	before, err := store.ListCPFChecks(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)

	// The caches change, but replacing the check set fails: the error must
	// surface and the persisted set must stay exactly as it was. A stale OK
	// row surviving a half-applied write would get pushed upstream.
	_, err = store.UpsertDirectoryCacheUsers(ctx, []models.DirectoryCacheUser{{DirectoryID: 2, Name: "Sem Ponto"}})
	require.NoError(t, err)
	broken := NewService(&failingCheckStore{Storage: store, err: errors.New("write interrupted")}, nil, &fakePusher{})

	_, err = broken.RecomputeChecks(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "write interrupted")

	after, err := store.ListCPFChecks(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestService_PushOKMatches(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedCaches(t, store,
		[]models.TimeclockCollaborator{
			{CPF: "11111111111", FullName: "Ana Souza"},
			{CPF: "22222222222", FullName: "Bruno Lima"},
			{CPF: "33333333333", FullName: "Carla Dias"},
			{CPF: "44444444444", FullName: "Carla Dias"},
		},
		[]models.DirectoryCacheUser{
			{DirectoryID: 1, Name: "Ana Souza"},
			{DirectoryID: 2, Name: "Bruno Lima"},
			{DirectoryID: 3, Name: "Carla Dias"}, // duplicate: never pushed
		},
	)
	pusher := &fakePusher{failIDs: map[int64]bool{2: true}}
	service := NewService(store, nil, pusher)

	_, err := service.RecomputeChecks(context.Background())
	require.NoError(t, err)

	result, err := service.PushOKMatches(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Errors)
	assert.ElementsMatch(t, []int64{1, 2}, pusher.pushed)

	// Only the successful push lands in the update log.
	logs, err := store.ListCPFLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].DirectoryID)
	assert.Equal(t, "11111111111", logs[0].CPF)
}

func TestService_PushOKMatches_NothingToPush(t *testing.T) {
	service := NewService(storage.NewMemoryStorage(), nil, &fakePusher{})

	result, err := service.PushOKMatches(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Errors)
}
