package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"taskdesk/internal/domain"
	"taskdesk/internal/events"
	"taskdesk/internal/repo"
	"taskdesk/internal/validation"
)

// UserInput carries the fields of a new user.
type UserInput struct {
	Name      string
	Email     string
	Phone     string
	CPF       string
	BirthDate string
	Role      domain.UserRole
	Active    *bool
}

// UserPatch updates a user partially. Nil fields are left unchanged.
type UserPatch struct {
	Name      *string
	Email     *string
	Phone     *string
	CPF       *string
	BirthDate *string
	Role      *domain.UserRole
	Active    *bool
}

func (e Engine) validRole(role domain.UserRole) bool {
	if e.Config != nil && len(e.Config.RBAC.Roles) > 0 {
		_, ok := e.Config.RBAC.Roles[string(role)]
		return ok
	}
	switch role {
	case domain.RoleAdmin, domain.RoleApprover, domain.RoleMember:
		return true
	}
	return false
}

func (e Engine) minimumAge() int {
	if e.Config != nil {
		return e.Config.Users.MinimumAge
	}
	return 18
}

// checkUser validates u field by field, first failure wins.
func (e Engine) checkUser(u domain.User) error {
	if !validation.IsValidName(u.Name) {
		return invalid("name must have first and last name using letters only")
	}
	if !validation.IsValidEmail(u.Email) {
		return invalid("email %q is not valid", u.Email)
	}
	if u.Phone != "" && !validation.IsValidPhoneNumber(u.Phone) {
		return invalid("phone %q is not valid", u.Phone)
	}
	if u.CPF != "" && !validation.IsValidCPF(u.CPF) {
		return invalid("cpf is not valid")
	}
	if u.BirthDate != "" {
		if !validation.IsValidDate(u.BirthDate) {
			return invalid("birth date must be YYYY-MM-DD")
		}
		if age := e.minimumAge(); age > 0 && !validation.IsMinimumAge(u.BirthDate, age, e.now()) {
			return invalid("user must be at least %d years old", age)
		}
	}
	if !e.validRole(u.Role) {
		return invalid("unknown role %q", u.Role)
	}
	return nil
}

func normalizeUser(u domain.User) domain.User {
	u.Name = strings.Join(strings.Fields(u.Name), " ")
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Phone = strings.TrimSpace(u.Phone)
	u.CPF = strings.TrimSpace(u.CPF)
	u.BirthDate = strings.TrimSpace(u.BirthDate)
	return u
}

func (e Engine) CreateUser(ctx context.Context, in UserInput, actorID string) (domain.User, error) {
	if in.Role == "" {
		in.Role = domain.RoleMember
	}
	now := e.stamp()
	u := normalizeUser(domain.User{
		ID:        e.newID(),
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		CPF:       in.CPF,
		BirthDate: in.BirthDate,
		Role:      in.Role,
		Active:    in.Active == nil || *in.Active,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err := e.checkUser(u); err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUserTx(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.emit(ctx, tx, events.UserCreated, "", "user", u.ID, actorID, events.EventPayload{"role": u.Role}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) UpdateUser(ctx context.Context, id string, p UserPatch, actorID string) (domain.User, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUserTx(ctx, tx, id)
	if err != nil {
		return u, err
	}
	wasAdmin := u.Role == domain.RoleAdmin && u.Active
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.CPF != nil {
		u.CPF = *p.CPF
	}
	if p.BirthDate != nil {
		u.BirthDate = *p.BirthDate
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
	u = normalizeUser(u)
	if err := e.checkUser(u); err != nil {
		return u, err
	}
	if wasAdmin && (u.Role != domain.RoleAdmin || !u.Active) {
		if err := e.keepOneAdmin(ctx, tx, u.ID); err != nil {
			return u, err
		}
	}
	u.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateUserTx(ctx, tx, u); err != nil {
		return u, err
	}
	if err := e.emit(ctx, tx, events.UserUpdated, "", "user", u.ID, actorID, events.EventPayload{"role": u.Role, "active": u.Active}); err != nil {
		return u, err
	}
	if err := tx.Commit(); err != nil {
		return u, err
	}
	return u, nil
}

// DeleteUser removes a user. The last active admin cannot be removed.
func (e Engine) DeleteUser(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	u, err := e.Repo.GetUserTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if u.Role == domain.RoleAdmin && u.Active {
		if err := e.keepOneAdmin(ctx, tx, u.ID); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteUserTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.emit(ctx, tx, events.UserDeleted, "", "user", id, actorID, events.EventPayload{"email": u.Email}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) keepOneAdmin(ctx context.Context, tx *sql.Tx, exceptID string) error {
	n, err := e.Repo.CountActiveAdmins(ctx, tx, exceptID)
	if err != nil {
		return err
	}
	if n == 0 {
		return invalid("at least one active admin is required")
	}
	return nil
}

// FetchUsers pages users, defaulting the page size from config.
func (e Engine) FetchUsers(ctx context.Context, f repo.UserFilter) (repo.UserPage, error) {
	if f.PageSize <= 0 && e.Config != nil {
		f.PageSize = e.Config.Users.PageSize
	}
	return e.Repo.FetchUsers(ctx, f)
}

// EnsureAdmin creates actorID as the workspace admin when no user exists
// yet. It reports whether a user was created.
func (e Engine) EnsureAdmin(ctx context.Context, actorID, email string) (bool, error) {
	if actorID == "" {
		return false, errors.New("actor_id required")
	}
	page, err := e.Repo.FetchUsers(ctx, repo.UserFilter{PageSize: 1})
	if err != nil {
		return false, err
	}
	if page.Total > 0 {
		return false, nil
	}
	if email == "" {
		email = actorID + "@taskdesk.local"
	}
	now := e.stamp()
	u := domain.User{
		ID:        actorID,
		Name:      "Workspace Admin",
		Email:     strings.ToLower(email),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUserTx(ctx, tx, u); err != nil {
		return false, err
	}
	if err := e.emit(ctx, tx, events.UserCreated, "", "user", u.ID, actorID, events.EventPayload{"role": u.Role, "seeded": true}); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
