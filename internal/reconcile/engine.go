package reconcile

import (
	"context"
	"fmt"

	"github.com/tisystems/user-sync-service/internal/models"
	"github.com/tisystems/user-sync-service/internal/storage"
)

// Check states. Unverified is distinct from a mismatch: it means the rule
// could not be evaluated at all.
const (
	StatusUnverified = "unverified"
	StatusOK         = "ok"
	StatusMismatch   = "mismatch"
)

// ActiveStatus is the canonical status value divergence counters are
// restricted to.
const ActiveStatus = "Ativo"

// Check is the per-source evaluation outcome for one canonical record.
type Check struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Matched reports whether the source agreed with the canonical record.
func (c Check) Matched() bool {
	return c.Status == StatusOK
}

// Row pairs a canonical record with its per-source checks.
type Row struct {
	User   models.DirectoryUser `json:"user"`
	Checks map[string]Check     `json:"checks"`
}

// Engine evaluates canonical records against the current snapshots. Results
// are recomputed on every read and never persisted.
type Engine struct {
	storage storage.Storage
}

// NewEngine creates a new matching engine
func NewEngine(store storage.Storage) *Engine {
	return &Engine{storage: store}
}

// CheckedSources lists the snapshot sources a canonical record is evaluated
// against, in display order.
var CheckedSources = []string{
	models.SourceTimeclock,
	models.SourceAccounting,
	models.SourceERP,
	models.SourcePortal,
	models.SourceLogic,
}

// Evaluate applies each source's exact-match rule to one canonical record.
// Comparison is case- and accent-sensitive; values were already trimmed of
// outer whitespace at ingestion and receive no further normalization.
func (e *Engine) Evaluate(ctx context.Context, u models.DirectoryUser) (map[string]Check, error) {
	checks := make(map[string]Check, len(CheckedSources))
	for _, source := range CheckedSources {
		checks[source] = Check{Status: StatusUnverified, Reason: "not verified"}
	}

	// Timeclock: exactly one snapshot row with the canonical full name.
	if u.FullName == nil {
		checks[models.SourceTimeclock] = Check{Status: StatusMismatch, Reason: "no name to reconcile"}
	} else {
		count, err := e.storage.CountTimeclockByName(ctx, *u.FullName)
		if err != nil {
			return nil, fmt.Errorf("timeclock check failed: %w", err)
		}
		switch {
		case count == 1:
			checks[models.SourceTimeclock] = Check{Status: StatusOK}
		case count == 0:
			checks[models.SourceTimeclock] = Check{Status: StatusMismatch, Reason: "name not found in timeclock"}
		default:
			checks[models.SourceTimeclock] = Check{
				Status: StatusMismatch,
				Reason: fmt.Sprintf("duplicate (%d records with the same name)", count),
			}
		}
	}

	// Accounting: canonical e-mail must exist in the accounting snapshot.
	if check, err := e.emailCheck(ctx, u.Email, e.storage.AccountingEmailExists, "e-mail not found in accounting"); err != nil {
		return nil, err
	} else {
		checks[models.SourceAccounting] = check
	}

	// ERP: canonical domain login must exist as an ERP account name.
	if u.DomainLogin == nil {
		checks[models.SourceERP] = Check{Status: StatusMismatch, Reason: "no domain login to reconcile"}
	} else {
		exists, err := e.storage.ERPNameExists(ctx, *u.DomainLogin)
		if err != nil {
			return nil, fmt.Errorf("erp check failed: %w", err)
		}
		checks[models.SourceERP] = boolCheck(exists, "login not found in erp")
	}

	// Portal: same rule as accounting, against the portal snapshot.
	if check, err := e.emailCheck(ctx, u.Email, e.storage.PortalEmailExists, "e-mail not found in portal"); err != nil {
		return nil, err
	} else {
		checks[models.SourcePortal] = check
	}

	// Logic service: canonical local login must exist as a logic user name.
	if u.LocalLogin == nil {
		checks[models.SourceLogic] = Check{Status: StatusMismatch, Reason: "no name to reconcile"}
	} else {
		exists, err := e.storage.LogicNameExists(ctx, *u.LocalLogin)
		if err != nil {
			return nil, fmt.Errorf("logic check failed: %w", err)
		}
		checks[models.SourceLogic] = boolCheck(exists, "name not found in logic service")
	}

	return checks, nil
}

func (e *Engine) emailCheck(ctx context.Context, email *string, exists func(context.Context, string) (bool, error), missingReason string) (Check, error) {
	if email == nil {
		return Check{Status: StatusMismatch, Reason: "no e-mail to reconcile"}, nil
	}
	found, err := exists(ctx, *email)
	if err != nil {
		return Check{}, fmt.Errorf("e-mail check failed: %w", err)
	}
	return boolCheck(found, missingReason), nil
}

func boolCheck(matched bool, missingReason string) Check {
	if matched {
		return Check{Status: StatusOK}
	}
	return Check{Status: StatusMismatch, Reason: missingReason}
}

// ListWithChecks evaluates every canonical record selected by the filter.
// When divergentOnly names a source, rows that match that source are dropped
// so only its divergences remain.
func (e *Engine) ListWithChecks(ctx context.Context, filter storage.DirectoryFilter, divergentOnly string) ([]Row, error) {
	users, err := e.storage.ListDirectoryUsers(ctx, filter)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for _, u := range users {
		checks, err := e.Evaluate(ctx, u)
		if err != nil {
			return nil, err
		}
		if divergentOnly != "" {
			if check, ok := checks[divergentOnly]; ok && check.Matched() {
				continue
			}
		}
		rows = append(rows, Row{User: u, Checks: checks})
	}
	return rows, nil
}

// DivergenceCounts tallies, per source, how many active canonical records
// fail that source's rule. A full scan over active records: acceptable at
// this scale, and always consistent with the snapshots.
func (e *Engine) DivergenceCounts(ctx context.Context) (map[string]int, error) {
	users, err := e.storage.ListDirectoryUsers(ctx, storage.DirectoryFilter{Status: ActiveStatus})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(CheckedSources))
	for _, source := range CheckedSources {
		counts[source] = 0
	}
	for _, u := range users {
		checks, err := e.Evaluate(ctx, u)
		if err != nil {
			return nil, err
		}
		for source, check := range checks {
			if !check.Matched() {
				counts[source]++
			}
		}
	}
	return counts, nil
}
