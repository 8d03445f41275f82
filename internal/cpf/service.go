package cpf

import (
	"context"
	"fmt"
	"log"

	"github.com/tisystems/user-sync-service/internal/models"
	"github.com/tisystems/user-sync-service/internal/storage"
)

// Service reconciles CPFs between the timeclock collaborators and the
// directory users and pushes exact, unique matches back upstream.
type Service struct {
	storage storage.Storage
	source  Source
	pusher  Pusher
}

// NewService creates a new CPF reconciliation service
func NewService(store storage.Storage, source Source, pusher Pusher) *Service {
	return &Service{storage: store, source: source, pusher: pusher}
}

// RefreshResult reports how many cache rows each refresh touched.
type RefreshResult struct {
	Collaborators  int `json:"collaborators"`
	DirectoryUsers int `json:"directory_users"`
}

// RefreshCaches reloads both local caches from the external relational
// source.
func (s *Service) RefreshCaches(ctx context.Context) (*RefreshResult, error) {
	if s.source == nil {
		return nil, fmt.Errorf("cpf source is not configured")
	}
	collaborators, err := s.source.FetchCollaborators(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collaborators: %w", err)
	}
	collabCount, err := s.storage.UpsertTimeclockCollaborators(ctx, collaborators)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh collaborator cache: %w", err)
	}

	users, err := s.source.FetchDirectoryUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch directory users: %w", err)
	}
	userCount, err := s.storage.UpsertDirectoryCacheUsers(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh directory cache: %w", err)
	}

	log.Printf("cpf caches refreshed: %d collaborators, %d directory users", collabCount, userCount)
	return &RefreshResult{Collaborators: collabCount, DirectoryUsers: userCount}, nil
}

// CheckStats summarizes one recomputation of the check table.
type CheckStats struct {
	TotalDirectory int `json:"total_directory"`
	TotalTimeclock int `json:"total_timeclock"`
	OK             int `json:"ok"`
	NoMatch        int `json:"no_match"`
	Duplicate      int `json:"duplicate"`
	Problems       int `json:"problems"`
}

// RecomputeChecks classifies every cached directory user by exact full-name
// match against the collaborator cache and overwrites the whole check table
// in one atomic write.
func (s *Service) RecomputeChecks(ctx context.Context) (*CheckStats, error) {
	collaborators, err := s.storage.ListTimeclockCollaborators(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}

	// Full name -> CPFs; more than one entry flags a duplicate name.
	byName := make(map[string][]string)
	for _, c := range collaborators {
		if c.CPF == "" {
			continue
		}
		byName[c.FullName] = append(byName[c.FullName], c.CPF)
	}

	users, err := s.storage.ListDirectoryCacheUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory cache: %w", err)
	}

	stats := &CheckStats{
		TotalDirectory: len(users),
		TotalTimeclock: len(collaborators),
	}
	checks := make([]models.CPFMatchCheck, 0, len(users))
	for _, u := range users {
		check := models.CPFMatchCheck{DirectoryID: u.DirectoryID, Name: u.Name}
		cpfs := byName[u.Name]
		switch {
		case len(cpfs) == 0:
			check.Status = models.CheckStatusNoMatch
			check.Observation = "name not found in timeclock"
			stats.NoMatch++
		case len(cpfs) > 1:
			check.Status = models.CheckStatusDuplicate
			check.Observation = fmt.Sprintf("%d CPFs in timeclock for the same name", len(cpfs))
			stats.Duplicate++
		default:
			cpf := cpfs[0]
			check.Status = models.CheckStatusOK
			check.CPF = &cpf
			check.Observation = "ready to push"
			stats.OK++
		}
		checks = append(checks, check)
	}

	if err := s.storage.ReplaceCPFChecks(ctx, checks); err != nil {
		return nil, fmt.Errorf("failed to persist checks: %w", err)
	}

	stats.Problems = stats.NoMatch + stats.Duplicate
	return stats, nil
}

// PushResult reports one push round over the OK checks.
type PushResult struct {
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

// PushOKMatches pushes every check currently OK with a non-empty CPF. Each
// push is independent: a failure increments the error counter and the loop
// moves on. Successful pushes are recorded in the update log.
func (s *Service) PushOKMatches(ctx context.Context) (*PushResult, error) {
	checks, err := s.storage.ListOKCPFChecks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list OK checks: %w", err)
	}

	result := &PushResult{}
	for _, check := range checks {
		if !s.pusher.Push(ctx, check.DirectoryID, *check.CPF) {
			result.Errors++
			continue
		}
		entry := models.CPFUpdateLog{
			DirectoryID: check.DirectoryID,
			Name:        check.Name,
			CPF:         *check.CPF,
		}
		if err := s.storage.AppendCPFLog(ctx, entry); err != nil {
			return result, fmt.Errorf("failed to append update log: %w", err)
		}
		result.Updated++
	}
	return result, nil
}
