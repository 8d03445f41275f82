package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tisystems/user-sync-service/internal/config"
	"github.com/tisystems/user-sync-service/internal/models"
)

// MongoDBStorage implements Storage interface using MongoDB
type MongoDBStorage struct {
	client *mongo.Client
	db     *mongo.Database
}

const mongoConnectTimeout = 10 * time.Second

// NewMongoDBStorage creates a new MongoDB storage instance
func NewMongoDBStorage(cfg config.Storage) (*MongoDBStorage, error) {
	if cfg.MongoDBURI == "" {
		return nil, fmt.Errorf("MONGODB_URI is required for mongodb storage")
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &MongoDBStorage{
		client: client,
		db:     client.Database(cfg.MongoDBName),
	}, nil
}

// nextID hands out sequential ids from the counters collection so run and
// detail ids stay comparable across backends.
func (m *MongoDBStorage) nextID(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := m.db.Collection("counters").FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate id for %s: %w", name, err)
	}
	return doc.Seq, nil
}

type directoryUserDoc struct {
	ID          int64             `bson:"_id"`
	Status      *string           `bson:"status"`
	Name        *string           `bson:"name"`
	FullName    *string           `bson:"full_name"`
	DomainLogin *string           `bson:"domain_login"`
	LocalLogin  *string           `bson:"local_login"`
	Department  *string           `bson:"department"`
	Email       *string           `bson:"email"`
	Raw         models.RawPayload `bson:"raw,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}

func (d directoryUserDoc) model() models.DirectoryUser {
	return models.DirectoryUser{
		ID:          d.ID,
		Status:      d.Status,
		Name:        d.Name,
		FullName:    d.FullName,
		DomainLogin: d.DomainLogin,
		LocalLogin:  d.LocalLogin,
		Department:  d.Department,
		Email:       d.Email,
		Raw:         d.Raw,
		CreatedAt:   d.CreatedAt,
	}
}

// ReplaceDirectoryUsers flushes and reloads the canonical collection. MongoDB
// outside a replica set has no multi-document transaction, so this is the
// same accepted inconsistency window the relational flush has.
func (m *MongoDBStorage) ReplaceDirectoryUsers(ctx context.Context, users []models.DirectoryUser) (int, int, error) {
	coll := m.db.Collection("directory_users")
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return 0, 0, fmt.Errorf("failed to flush directory_users: %w", err)
	}

	written, skipped := 0, 0
	for _, u := range users {
		id, err := m.nextID(ctx, "directory_users")
		if err != nil {
			return written, skipped, err
		}
		doc := directoryUserDoc{
			ID:          id,
			Status:      u.Status,
			Name:        u.Name,
			FullName:    u.FullName,
			DomainLogin: u.DomainLogin,
			LocalLogin:  u.LocalLogin,
			Department:  u.Department,
			Email:       u.Email,
			Raw:         u.Raw,
			CreatedAt:   time.Now().UTC(),
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			skipped++
			continue
		}
		written++
	}
	return written, skipped, nil
}

func (m *MongoDBStorage) replaceAll(ctx context.Context, collection string, docs []any) (int, error) {
	coll := m.db.Collection(collection)
	if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
		return 0, fmt.Errorf("failed to flush %s: %w", collection, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	res, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return len(res.InsertedIDs), nil
}

func (m *MongoDBStorage) ReplaceTimeclockContacts(ctx context.Context, contacts []models.TimeclockContact) (int, error) {
	docs := make([]any, 0, len(contacts))
	for _, c := range contacts {
		id, err := m.nextID(ctx, "timeclock_contacts")
		if err != nil {
			return 0, err
		}
		docs = append(docs, bson.M{"_id": id, "name": c.Name, "email": c.Email, "raw": c.Raw})
	}
	return m.replaceAll(ctx, "timeclock_contacts", docs)
}

func (m *MongoDBStorage) ReplaceAccountingUsers(ctx context.Context, users []models.AccountingUser) (int, error) {
	docs := make([]any, 0, len(users))
	for _, u := range users {
		id, err := m.nextID(ctx, "accounting_users")
		if err != nil {
			return 0, err
		}
		docs = append(docs, bson.M{"_id": id, "name": u.Name, "email": u.Email, "raw": u.Raw})
	}
	return m.replaceAll(ctx, "accounting_users", docs)
}

func (m *MongoDBStorage) UpsertERPAccounts(ctx context.Context, accounts []models.ERPAccount) (int, int, error) {
	coll := m.db.Collection("erp_accounts")
	written, failed := 0, 0
	for _, a := range accounts {
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": a.ExternalCode},
			bson.M{"$set": bson.M{"name": a.Name, "raw": a.Raw}},
			options.Update().SetUpsert(true))
		if err != nil {
			failed++
			continue
		}
		written++
	}
	return written, failed, nil
}

func (m *MongoDBStorage) UpsertPortalUsers(ctx context.Context, users []models.PortalUser) (int, int, error) {
	coll := m.db.Collection("portal_users")
	created, updated := 0, 0
	for _, u := range users {
		res, err := coll.UpdateOne(ctx,
			bson.M{"_id": u.Email},
			bson.M{"$set": bson.M{"full_name": u.FullName, "raw": u.Raw}},
			options.Update().SetUpsert(true))
		if err != nil {
			return created, updated, fmt.Errorf("failed to upsert portal user: %w", err)
		}
		if res.UpsertedCount > 0 {
			created++
		} else {
			updated++
		}
	}
	return created, updated, nil
}

func (m *MongoDBStorage) UpsertLogicUsers(ctx context.Context, users []models.LogicUser) (int, error) {
	coll := m.db.Collection("logic_users")
	written := 0
	for _, u := range users {
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": u.EmployeeCode},
			bson.M{"$set": bson.M{"name": u.Name, "department": u.Department, "raw": u.Raw}},
			options.Update().SetUpsert(true))
		if err != nil {
			return written, fmt.Errorf("failed to upsert logic user: %w", err)
		}
		written++
	}
	return written, nil
}

func (m *MongoDBStorage) CountTimeclockByName(ctx context.Context, name string) (int, error) {
	count, err := m.db.Collection("timeclock_contacts").CountDocuments(ctx, bson.M{"name": name})
	if err != nil {
		return 0, fmt.Errorf("failed to count timeclock contacts: %w", err)
	}
	return int(count), nil
}

func (m *MongoDBStorage) existsIn(ctx context.Context, collection string, filter bson.M) (bool, error) {
	count, err := m.db.Collection(collection).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *MongoDBStorage) AccountingEmailExists(ctx context.Context, email string) (bool, error) {
	return m.existsIn(ctx, "accounting_users", bson.M{"email": email})
}

func (m *MongoDBStorage) ERPNameExists(ctx context.Context, name string) (bool, error) {
	return m.existsIn(ctx, "erp_accounts", bson.M{"name": name})
}

func (m *MongoDBStorage) PortalEmailExists(ctx context.Context, email string) (bool, error) {
	return m.existsIn(ctx, "portal_users", bson.M{"_id": email})
}

func (m *MongoDBStorage) LogicNameExists(ctx context.Context, name string) (bool, error) {
	return m.existsIn(ctx, "logic_users", bson.M{"name": name})
}

func (m *MongoDBStorage) ListDirectoryUsers(ctx context.Context, filter DirectoryFilter) ([]models.DirectoryUser, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Department != "" {
		query["department"] = filter.Department
	}
	if filter.Query != "" {
		// Case-sensitive substring match, same as the relational backend.
		re := primitive.Regex{Pattern: regexp.QuoteMeta(filter.Query)}
		query["$or"] = bson.A{
			bson.M{"name": re},
			bson.M{"full_name": re},
			bson.M{"domain_login": re},
			bson.M{"local_login": re},
			bson.M{"email": re},
		}
	}

	cursor, err := m.db.Collection("directory_users").Find(ctx, query,
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list directory users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.DirectoryUser
	for cursor.Next(ctx) {
		var doc directoryUserDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		users = append(users, doc.model())
	}
	return users, cursor.Err()
}

func (m *MongoDBStorage) ListDepartments(ctx context.Context) ([]string, error) {
	values, err := m.db.Collection("directory_users").Distinct(ctx, "department",
		bson.M{"department": bson.M{"$nin": bson.A{nil, ""}}})
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}

	var departments []string
	for _, v := range values {
		if s, ok := v.(string); ok {
			departments = append(departments, s)
		}
	}
	sort.Strings(departments)
	return departments, nil
}

type syncRunDoc struct {
	ID        int64     `bson:"_id"`
	Status    string    `bson:"status"`
	Message   string    `bson:"message"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (m *MongoDBStorage) CreateSyncRun(ctx context.Context) (*models.SyncRun, error) {
	id, err := m.nextID(ctx, "sync_runs")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	doc := syncRunDoc{ID: id, Status: models.RunStatusRunning, CreatedAt: now, UpdatedAt: now}
	if _, err := m.db.Collection("sync_runs").InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	return &models.SyncRun{ID: id, Status: doc.Status, CreatedAt: now, UpdatedAt: now}, nil
}

func (m *MongoDBStorage) FinalizeSyncRun(ctx context.Context, id int64, status, message string) error {
	_, err := m.db.Collection("sync_runs").UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "message": message, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	return nil
}

type syncDetailDoc struct {
	ID             int64     `bson:"_id"`
	RunID          int64     `bson:"run_id"`
	Source         string    `bson:"source"`
	Read           int       `bson:"read_count"`
	Written        int       `bson:"written"`
	Updated        int       `bson:"updated"`
	SkippedInvalid int       `bson:"skipped_invalid"`
	SkippedError   int       `bson:"skipped_error"`
	Error          string    `bson:"error_text"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (m *MongoDBStorage) CreateSyncDetail(ctx context.Context, detail *models.SyncDetail) error {
	id, err := m.nextID(ctx, "sync_details")
	if err != nil {
		return err
	}
	detail.ID = id
	detail.CreatedAt = time.Now().UTC()
	doc := syncDetailDoc{ID: id, RunID: detail.RunID, Source: detail.Source, CreatedAt: detail.CreatedAt}
	if _, err := m.db.Collection("sync_details").InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create sync detail: %w", err)
	}
	return nil
}

func (m *MongoDBStorage) SaveSyncDetail(ctx context.Context, detail *models.SyncDetail) error {
	_, err := m.db.Collection("sync_details").UpdateOne(ctx,
		bson.M{"_id": detail.ID},
		bson.M{"$set": bson.M{
			"read_count":      detail.Read,
			"written":         detail.Written,
			"updated":         detail.Updated,
			"skipped_invalid": detail.SkippedInvalid,
			"skipped_error":   detail.SkippedError,
			"error_text":      detail.Error,
		}})
	if err != nil {
		return fmt.Errorf("failed to save sync detail: %w", err)
	}
	return nil
}

func (m *MongoDBStorage) LatestSyncRun(ctx context.Context) (*models.SyncRun, error) {
	var doc syncRunDoc
	err := m.db.Collection("sync_runs").FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest sync run: %w", err)
	}
	return &models.SyncRun{ID: doc.ID, Status: doc.Status, Message: doc.Message,
		CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt}, nil
}

func (m *MongoDBStorage) ListSyncDetails(ctx context.Context, limit int) ([]models.SyncDetail, error) {
	cursor, err := m.db.Collection("sync_details").Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to list sync details: %w", err)
	}
	defer cursor.Close(ctx)

	var details []models.SyncDetail
	for cursor.Next(ctx) {
		var doc syncDetailDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		details = append(details, models.SyncDetail{
			ID: doc.ID, RunID: doc.RunID, Source: doc.Source,
			Read: doc.Read, Written: doc.Written, Updated: doc.Updated,
			SkippedInvalid: doc.SkippedInvalid, SkippedError: doc.SkippedError,
			Error: doc.Error, CreatedAt: doc.CreatedAt,
		})
	}
	return details, cursor.Err()
}

func (m *MongoDBStorage) UpsertTimeclockCollaborators(ctx context.Context, collaborators []models.TimeclockCollaborator) (int, error) {
	coll := m.db.Collection("timeclock_collaborators")
	count := 0
	for _, c := range collaborators {
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": c.CPF},
			bson.M{"$set": bson.M{"full_name": c.FullName}},
			options.Update().SetUpsert(true))
		if err != nil {
			return count, fmt.Errorf("failed to upsert timeclock collaborator: %w", err)
		}
		count++
	}
	return count, nil
}

func (m *MongoDBStorage) UpsertDirectoryCacheUsers(ctx context.Context, users []models.DirectoryCacheUser) (int, error) {
	coll := m.db.Collection("directory_cache_users")
	count := 0
	for _, u := range users {
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": u.DirectoryID},
			bson.M{"$set": bson.M{"name": u.Name}},
			options.Update().SetUpsert(true))
		if err != nil {
			return count, fmt.Errorf("failed to upsert directory cache user: %w", err)
		}
		count++
	}
	return count, nil
}

func (m *MongoDBStorage) ListTimeclockCollaborators(ctx context.Context) ([]models.TimeclockCollaborator, error) {
	cursor, err := m.db.Collection("timeclock_collaborators").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list timeclock collaborators: %w", err)
	}
	defer cursor.Close(ctx)

	var collaborators []models.TimeclockCollaborator
	for cursor.Next(ctx) {
		var doc struct {
			CPF      string `bson:"_id"`
			FullName string `bson:"full_name"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		collaborators = append(collaborators, models.TimeclockCollaborator{CPF: doc.CPF, FullName: doc.FullName})
	}
	return collaborators, cursor.Err()
}

func (m *MongoDBStorage) ListDirectoryCacheUsers(ctx context.Context) ([]models.DirectoryCacheUser, error) {
	cursor, err := m.db.Collection("directory_cache_users").Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list directory cache users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.DirectoryCacheUser
	for cursor.Next(ctx) {
		var doc struct {
			DirectoryID int64  `bson:"_id"`
			Name        string `bson:"name"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		users = append(users, models.DirectoryCacheUser{DirectoryID: doc.DirectoryID, Name: doc.Name})
	}
	return users, cursor.Err()
}

type cpfCheckDoc struct {
	DirectoryID int64     `bson:"_id"`
	Name        string    `bson:"name"`
	CPF         *string   `bson:"cpf"`
	Status      string    `bson:"status"`
	Observation string    `bson:"observation"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// ReplaceCPFChecks applies the whole check set inside one session
// transaction: a failed recomputation leaves the previous set untouched, so
// the push loop never sees a mixed old/new state.
func (m *MongoDBStorage) ReplaceCPFChecks(ctx context.Context, checks []models.CPFMatchCheck) error {
	if len(checks) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(checks))
	now := time.Now().UTC()
	for _, c := range checks {
		doc := cpfCheckDoc{
			DirectoryID: c.DirectoryID,
			Name:        c.Name,
			CPF:         c.CPF,
			Status:      c.Status,
			Observation: c.Observation,
			UpdatedAt:   now,
		}
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": c.DirectoryID}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return m.db.Collection("cpf_match_checks").BulkWrite(sessCtx, writes, options.BulkWrite().SetOrdered(true))
	})
	if err != nil {
		return fmt.Errorf("failed to upsert cpf checks: %w", err)
	}
	return nil
}

func (m *MongoDBStorage) listCPFChecks(ctx context.Context, filter bson.M, sortSpec bson.D) ([]models.CPFMatchCheck, error) {
	cursor, err := m.db.Collection("cpf_match_checks").Find(ctx, filter, options.Find().SetSort(sortSpec))
	if err != nil {
		return nil, fmt.Errorf("failed to list cpf checks: %w", err)
	}
	defer cursor.Close(ctx)

	var checks []models.CPFMatchCheck
	for cursor.Next(ctx) {
		var doc cpfCheckDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		checks = append(checks, models.CPFMatchCheck{
			DirectoryID: doc.DirectoryID, Name: doc.Name, CPF: doc.CPF,
			Status: doc.Status, Observation: doc.Observation, UpdatedAt: doc.UpdatedAt,
		})
	}
	return checks, cursor.Err()
}

func (m *MongoDBStorage) ListCPFChecks(ctx context.Context) ([]models.CPFMatchCheck, error) {
	return m.listCPFChecks(ctx, bson.M{},
		bson.D{{Key: "status", Value: 1}, {Key: "name", Value: 1}})
}

func (m *MongoDBStorage) ListOKCPFChecks(ctx context.Context) ([]models.CPFMatchCheck, error) {
	return m.listCPFChecks(ctx,
		bson.M{"status": models.CheckStatusOK, "cpf": bson.M{"$nin": bson.A{nil, ""}}},
		bson.D{{Key: "name", Value: 1}})
}

func (m *MongoDBStorage) AppendCPFLog(ctx context.Context, entry models.CPFUpdateLog) error {
	id, err := m.nextID(ctx, "cpf_update_logs")
	if err != nil {
		return err
	}
	_, err = m.db.Collection("cpf_update_logs").InsertOne(ctx, bson.M{
		"_id":          id,
		"directory_id": entry.DirectoryID,
		"name":         entry.Name,
		"cpf":          entry.CPF,
		"pushed_at":    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to append cpf log: %w", err)
	}
	return nil
}

func (m *MongoDBStorage) ListCPFLogs(ctx context.Context, limit int) ([]models.CPFUpdateLog, error) {
	cursor, err := m.db.Collection("cpf_update_logs").Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "pushed_at", Value: -1}, {Key: "_id", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to list cpf logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []models.CPFUpdateLog
	for cursor.Next(ctx) {
		var doc struct {
			ID          int64     `bson:"_id"`
			DirectoryID int64     `bson:"directory_id"`
			Name        string    `bson:"name"`
			CPF         string    `bson:"cpf"`
			PushedAt    time.Time `bson:"pushed_at"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		logs = append(logs, models.CPFUpdateLog{
			ID: doc.ID, DirectoryID: doc.DirectoryID, Name: doc.Name,
			CPF: doc.CPF, PushedAt: doc.PushedAt,
		})
	}
	return logs, cursor.Err()
}

func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
