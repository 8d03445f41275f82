package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tisystems/user-sync-service/internal/models"
)

// MemoryStorage is an in-memory Storage used for tests and local runs
// without a database.
type MemoryStorage struct {
	mu sync.Mutex

	directoryUsers    []models.DirectoryUser
	timeclockContacts []models.TimeclockContact
	accountingUsers   []models.AccountingUser
	erpAccounts       map[int64]models.ERPAccount
	portalUsers       map[string]models.PortalUser
	logicUsers        map[string]models.LogicUser

	runs    []models.SyncRun
	details []models.SyncDetail

	collaborators  map[string]models.TimeclockCollaborator
	directoryCache map[int64]models.DirectoryCacheUser
	checks         map[int64]models.CPFMatchCheck
	logs           []models.CPFUpdateLog

	nextID int64
}

// NewMemoryStorage creates an empty in-memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		erpAccounts:    make(map[int64]models.ERPAccount),
		portalUsers:    make(map[string]models.PortalUser),
		logicUsers:     make(map[string]models.LogicUser),
		collaborators:  make(map[string]models.TimeclockCollaborator),
		directoryCache: make(map[int64]models.DirectoryCacheUser),
		checks:         make(map[int64]models.CPFMatchCheck),
	}
}

func (m *MemoryStorage) next() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStorage) ReplaceDirectoryUsers(ctx context.Context, users []models.DirectoryUser) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directoryUsers = m.directoryUsers[:0]
	for _, u := range users {
		u.ID = m.next()
		u.CreatedAt = time.Now().UTC()
		m.directoryUsers = append(m.directoryUsers, u)
	}
	return len(users), 0, nil
}

func (m *MemoryStorage) ReplaceTimeclockContacts(ctx context.Context, contacts []models.TimeclockContact) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeclockContacts = m.timeclockContacts[:0]
	for _, c := range contacts {
		c.ID = m.next()
		m.timeclockContacts = append(m.timeclockContacts, c)
	}
	return len(contacts), nil
}

func (m *MemoryStorage) ReplaceAccountingUsers(ctx context.Context, users []models.AccountingUser) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountingUsers = m.accountingUsers[:0]
	for _, u := range users {
		u.ID = m.next()
		m.accountingUsers = append(m.accountingUsers, u)
	}
	return len(users), nil
}

func (m *MemoryStorage) UpsertERPAccounts(ctx context.Context, accounts []models.ERPAccount) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range accounts {
		m.erpAccounts[a.ExternalCode] = a
	}
	return len(accounts), 0, nil
}

func (m *MemoryStorage) UpsertPortalUsers(ctx context.Context, users []models.PortalUser) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	created, updated := 0, 0
	for _, u := range users {
		if _, ok := m.portalUsers[u.Email]; ok {
			updated++
		} else {
			created++
		}
		m.portalUsers[u.Email] = u
	}
	return created, updated, nil
}

func (m *MemoryStorage) UpsertLogicUsers(ctx context.Context, users []models.LogicUser) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		m.logicUsers[u.EmployeeCode] = u
	}
	return len(users), nil
}

func (m *MemoryStorage) CountTimeclockByName(ctx context.Context, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.timeclockContacts {
		if c.Name == name {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStorage) AccountingEmailExists(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.accountingUsers {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStorage) ERPNameExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.erpAccounts {
		if a.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStorage) PortalEmailExists(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.portalUsers[email]
	return ok, nil
}

func (m *MemoryStorage) LogicNameExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.logicUsers {
		if u.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func matchesFilter(u models.DirectoryUser, filter DirectoryFilter) bool {
	str := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	if filter.Status != "" && str(u.Status) != filter.Status {
		return false
	}
	if filter.Department != "" && str(u.Department) != filter.Department {
		return false
	}
	if filter.Query != "" {
		q := filter.Query
		if !strings.Contains(str(u.Name), q) &&
			!strings.Contains(str(u.FullName), q) &&
			!strings.Contains(str(u.DomainLogin), q) &&
			!strings.Contains(str(u.LocalLogin), q) &&
			!strings.Contains(str(u.Email), q) {
			return false
		}
	}
	return true
}

func (m *MemoryStorage) ListDirectoryUsers(ctx context.Context, filter DirectoryFilter) ([]models.DirectoryUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []models.DirectoryUser
	for _, u := range m.directoryUsers {
		if matchesFilter(u, filter) {
			users = append(users, u)
		}
	}
	return users, nil
}

func (m *MemoryStorage) ListDepartments(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, u := range m.directoryUsers {
		if u.Department != nil && *u.Department != "" {
			seen[*u.Department] = true
		}
	}
	departments := make([]string, 0, len(seen))
	for d := range seen {
		departments = append(departments, d)
	}
	sort.Strings(departments)
	return departments, nil
}

func (m *MemoryStorage) CreateSyncRun(ctx context.Context) (*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	run := models.SyncRun{ID: m.next(), Status: models.RunStatusRunning, CreatedAt: now, UpdatedAt: now}
	m.runs = append(m.runs, run)
	out := run
	return &out, nil
}

func (m *MemoryStorage) FinalizeSyncRun(ctx context.Context, id int64, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == id {
			m.runs[i].Status = status
			m.runs[i].Message = message
			m.runs[i].UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (m *MemoryStorage) CreateSyncDetail(ctx context.Context, detail *models.SyncDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	detail.ID = m.next()
	detail.CreatedAt = time.Now().UTC()
	m.details = append(m.details, *detail)
	return nil
}

func (m *MemoryStorage) SaveSyncDetail(ctx context.Context, detail *models.SyncDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.details {
		if m.details[i].ID == detail.ID {
			m.details[i] = *detail
		}
	}
	return nil
}

func (m *MemoryStorage) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, nil
	}
	run := m.runs[len(m.runs)-1]
	return &run, nil
}

func (m *MemoryStorage) ListSyncDetails(ctx context.Context, limit int) ([]models.SyncDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var details []models.SyncDetail
	for i := len(m.details) - 1; i >= 0 && len(details) < limit; i-- {
		details = append(details, m.details[i])
	}
	return details, nil
}

func (m *MemoryStorage) UpsertTimeclockCollaborators(ctx context.Context, collaborators []models.TimeclockCollaborator) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range collaborators {
		m.collaborators[c.CPF] = c
	}
	return len(collaborators), nil
}

func (m *MemoryStorage) UpsertDirectoryCacheUsers(ctx context.Context, users []models.DirectoryCacheUser) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		m.directoryCache[u.DirectoryID] = u
	}
	return len(users), nil
}

func (m *MemoryStorage) ListTimeclockCollaborators(ctx context.Context) ([]models.TimeclockCollaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TimeclockCollaborator, 0, len(m.collaborators))
	for _, c := range m.collaborators {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CPF < out[j].CPF })
	return out, nil
}

func (m *MemoryStorage) ListDirectoryCacheUsers(ctx context.Context) ([]models.DirectoryCacheUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DirectoryCacheUser, 0, len(m.directoryCache))
	for _, u := range m.directoryCache {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DirectoryID < out[j].DirectoryID })
	return out, nil
}

func (m *MemoryStorage) ReplaceCPFChecks(ctx context.Context, checks []models.CPFMatchCheck) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, c := range checks {
		c.UpdatedAt = now
		m.checks[c.DirectoryID] = c
	}
	return nil
}

func (m *MemoryStorage) ListCPFChecks(ctx context.Context) ([]models.CPFMatchCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.CPFMatchCheck, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status < out[j].Status
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStorage) ListOKCPFChecks(ctx context.Context) ([]models.CPFMatchCheck, error) {
	all, err := m.ListCPFChecks(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.CPFMatchCheck
	for _, c := range all {
		if c.Status == models.CheckStatusOK && c.CPF != nil && *c.CPF != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStorage) AppendCPFLog(ctx context.Context, entry models.CPFUpdateLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.next()
	entry.PushedAt = time.Now().UTC()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStorage) ListCPFLogs(ctx context.Context, limit int) ([]models.CPFUpdateLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var logs []models.CPFUpdateLog
	for i := len(m.logs) - 1; i >= 0 && len(logs) < limit; i-- {
		logs = append(logs, m.logs[i])
	}
	return logs, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
