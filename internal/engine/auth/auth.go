package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/repo"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves user roles from the users table and role permissions
// from the project config.
type Service struct {
	Repo   repo.Repo
	Config *config.Config
}

// RoleOf returns the role of an active user. Unknown users have no role.
func (s Service) RoleOf(ctx context.Context, tx *sql.Tx, actorID string) (domain.UserRole, error) {
	if actorID == "" {
		return "", errors.New("actor_id required")
	}
	role, err := s.Repo.UserRole(ctx, tx, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	return role, err
}

// Permissions lists what the actor may do.
func (s Service) Permissions(ctx context.Context, tx *sql.Tx, actorID string) ([]string, error) {
	role, err := s.RoleOf(ctx, tx, actorID)
	if err != nil || role == "" || s.Config == nil {
		return nil, err
	}
	return s.Config.RolePermissions(string(role)), nil
}

func (s Service) HasPermission(ctx context.Context, tx *sql.Tx, actorID, perm string) (bool, error) {
	perms, err := s.Permissions(ctx, tx, actorID)
	if err != nil {
		return false, err
	}
	return Grants(perms, perm), nil
}

// Require returns ForbiddenError unless the actor holds perm.
func (s Service) Require(ctx context.Context, tx *sql.Tx, actorID, perm string) error {
	ok, err := s.HasPermission(ctx, tx, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// Grants reports whether perms contains perm or the wildcard.
func Grants(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm || p == config.PermAll {
			return true
		}
	}
	return false
}
