package models

import "time"

// Source tags, in the fixed ingestion order.
const (
	SourceDirectory  = "DIRECTORY"
	SourceTimeclock  = "TIMECLOCK"
	SourceAccounting = "ACCOUNTING"
	SourceERP        = "ERP"
	SourcePortal     = "PORTAL"
	SourceLogic      = "LOGIC"
)

// RawPayload is the opaque source record as received, stored alongside the
// typed fields. Only keys documented per source are ever read from it.
type RawPayload map[string]any

// DirectoryUser is the canonical identity record, fully replaced on each run.
type DirectoryUser struct {
	ID          int64      `json:"id"`
	Status      *string    `json:"status"`
	Name        *string    `json:"name"`
	FullName    *string    `json:"full_name"`
	DomainLogin *string    `json:"domain_login"`
	LocalLogin  *string    `json:"local_login"`
	Department  *string    `json:"department"`
	Email       *string    `json:"email"`
	Raw         RawPayload `json:"raw,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TimeclockContact is one time-tracking contact (name+email pair).
type TimeclockContact struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Raw   RawPayload `json:"raw,omitempty"`
}

// AccountingUser is one accounting/CRM user, unique by email.
type AccountingUser struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Raw   RawPayload `json:"raw,omitempty"`
}

// ERPAccount is one legacy ERP account, upserted by its external numeric code.
type ERPAccount struct {
	ExternalCode int64      `json:"external_code"`
	Name         string     `json:"name"`
	Raw          RawPayload `json:"raw,omitempty"`
}

// PortalUser is one web-portal user, upserted by email.
type PortalUser struct {
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	Raw      RawPayload `json:"raw,omitempty"`
}

// LogicUser is one logic-service user, upserted by employee code.
type LogicUser struct {
	EmployeeCode string     `json:"employee_code"`
	Name         string     `json:"name"`
	Department   string     `json:"department"`
	Raw          RawPayload `json:"raw,omitempty"`
}

// Sync run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// SyncRun is the audit root for one ingestion invocation. Created as
// "running" and finalized exactly once as "success" or "error".
type SyncRun struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncDetail records counters for one source within one run. Skips are kept
// under two distinct reasons so validation failures and write failures stay
// separately countable.
type SyncDetail struct {
	ID             int64     `json:"id"`
	RunID          int64     `json:"run_id"`
	Source         string    `json:"source"`
	Read           int       `json:"read"`
	Written        int       `json:"written"`
	Updated        int       `json:"updated"`
	SkippedInvalid int       `json:"skipped_invalid"`
	SkippedError   int       `json:"skipped_error"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Skipped is the total number of records skipped for any reason.
func (d SyncDetail) Skipped() int {
	return d.SkippedInvalid + d.SkippedError
}

// TimeclockCollaborator is the CPF-subsystem cache of time-tracking
// collaborators, keyed by CPF.
type TimeclockCollaborator struct {
	CPF      string `json:"cpf"`
	FullName string `json:"full_name"`
}

// DirectoryCacheUser is the CPF-subsystem cache of directory users, keyed by
// the directory numeric id.
type DirectoryCacheUser struct {
	DirectoryID int64  `json:"directory_id"`
	Name        string `json:"name"`
}

// CPF match check statuses.
const (
	CheckStatusOK        = "OK"
	CheckStatusNoMatch   = "NO_MATCH"
	CheckStatusDuplicate = "DUPLICATE"
)

// CPFMatchCheck is the persisted classification of one directory user against
// the timeclock collaborators, fully overwritten on every recomputation.
type CPFMatchCheck struct {
	DirectoryID int64     `json:"directory_id"`
	Name        string    `json:"name"`
	CPF         *string   `json:"cpf"`
	Status      string    `json:"status"`
	Observation string    `json:"observation"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CPFUpdateLog is one append-only audit row per successful webhook push.
type CPFUpdateLog struct {
	ID          int64     `json:"id"`
	DirectoryID int64     `json:"directory_id"`
	Name        string    `json:"name"`
	CPF         string    `json:"cpf"`
	PushedAt    time.Time `json:"pushed_at"`
}
