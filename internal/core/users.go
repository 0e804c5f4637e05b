package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"farmcore/internal/access"
	"farmcore/pkg/domain"
)

// Account bundles a user with the derived access view.
type Account struct {
	User         domain.User         `json:"user"`
	Profile      domain.Profile      `json:"profile"`
	Groups       []string            `json:"groups"`
	Capabilities access.Capabilities `json:"capabilities"`
}

// ReconcileReport summarizes a ReconcileAll pass.
type ReconcileReport struct {
	Checked int
	Changed []string
	Failed  map[string]error
}

// CreateUser creates an account and its profile. The first account in an
// empty system becomes admin; later accounts take draft.Role, or guest. The
// derived groups and flags are written in the same transaction.
func (s *Service) CreateUser(ctx context.Context, draft domain.UserDraft) (Account, error) {
	var account Account
	err := s.run(ctx, opCreateUser, func(ctx context.Context) (string, error) {
		if err := s.validate.Struct(draft); err != nil {
			return "", invalidInput(err)
		}
		if draft.Role != "" {
			if err := s.roles.Validate(draft.Role); err != nil {
				return "", err
			}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			role := s.roles.Initial(tx.CountUsers() == 0)
			if role != domain.RoleAdmin && draft.Role != "" {
				role = draft.Role
			}
			user, err := tx.CreateUser(domain.User{
				Username:  strings.TrimSpace(draft.Username),
				Email:     strings.TrimSpace(draft.Email),
				FirstName: draft.FirstName,
				LastName:  draft.LastName,
			})
			if err != nil {
				return err
			}
			profile, err := tx.CreateProfile(profileFromDraft(user.ID, role, draft.Profile))
			if err != nil {
				return err
			}
			if _, err := s.sync.Apply(tx, user.ID, role); err != nil {
				return &access.SyncFailedError{UserID: user.ID, NewRole: role, Err: err}
			}
			user, _ = tx.FindUser(user.ID)
			account = accountFrom(user, profile, tx.Snapshot().GroupsForUser(user.ID))
			return nil
		})
		if err != nil {
			s.logSyncFailure(err)
			return "", err
		}
		s.logger.Info("user created", "user_id", account.User.ID, "username", account.User.Username, "role", account.Profile.Role)
		return account.User.ID, nil
	})
	return account, err
}

func profileFromDraft(userID string, role domain.Role, d domain.ProfileDraft) domain.Profile {
	active := true
	if d.IsActiveEmployee != nil {
		active = *d.IsActiveEmployee
	}
	return domain.Profile{
		UserID:           userID,
		Role:             role,
		PhoneNumber:      d.PhoneNumber,
		EmployeeID:       d.EmployeeID,
		HireDate:         d.HireDate,
		IsActiveEmployee: active,
		Salary:           d.Salary,
		WeeklyTasks:      d.WeeklyTasks,
		Notes:            d.Notes,
	}
}

func accountFrom(u domain.User, p domain.Profile, groups []domain.Group) Account {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return Account{User: u, Profile: p, Groups: names, Capabilities: access.CapabilitiesFor(p.Role)}
}

// ChangeRole validates raw, stores it as the user's role, and resynchronizes
// groups and flags in the same transaction. Changes for one user are
// serialized. An invalid role leaves everything untouched.
func (s *Service) ChangeRole(ctx context.Context, userID, raw string) (access.Outcome, error) {
	var outcome access.Outcome
	err := s.run(ctx, opChangeRole, func(ctx context.Context) (string, error) {
		role, err := access.ParseRole(raw)
		if err != nil {
			return userID, err
		}
		unlock := s.userLocks.Lock(userID)
		defer unlock()

		var previous domain.Role
		_, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			profile, ok := tx.FindProfile(userID)
			if !ok {
				return ErrNotFound{Entity: domain.EntityProfile, ID: userID}
			}
			previous = profile.Role
			if err := s.roles.Transition(previous, role); err != nil {
				return err
			}
			if _, err := tx.UpdateProfile(userID, func(p *domain.Profile) error {
				p.Role = role
				return nil
			}); err != nil {
				return err
			}
			outcome, err = s.sync.Apply(tx, userID, role)
			if err != nil {
				return &access.SyncFailedError{UserID: userID, OldRole: previous, NewRole: role, Err: err}
			}
			return nil
		})
		if err != nil {
			s.logSyncFailure(err)
			return userID, err
		}
		s.logger.Info("role changed", "user_id", userID, "old_role", previous, "new_role", role, "group", outcome.Group, "changed", outcome.Changed())
		return userID, nil
	})
	return outcome, err
}

// SyncUser recomputes the user's groups and flags from the stored role.
func (s *Service) SyncUser(ctx context.Context, userID string) (access.Outcome, error) {
	var outcome access.Outcome
	err := s.run(ctx, opSyncUser, func(ctx context.Context) (string, error) {
		var err error
		outcome, err = s.syncUser(ctx, userID)
		return userID, err
	})
	return outcome, err
}

func (s *Service) syncUser(ctx context.Context, userID string) (access.Outcome, error) {
	unlock := s.userLocks.Lock(userID)
	defer unlock()
	var outcome access.Outcome
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindUser(userID); !ok {
			return ErrNotFound{Entity: domain.EntityUser, ID: userID}
		}
		role := domain.RoleGuest
		if profile, ok := tx.FindProfile(userID); ok {
			role = profile.Role
		} else if _, err := tx.CreateProfile(profileFromDraft(userID, role, domain.ProfileDraft{})); err != nil {
			return err
		}
		var err error
		outcome, err = s.sync.Apply(tx, userID, role)
		if err != nil {
			return &access.SyncFailedError{UserID: userID, OldRole: role, NewRole: role, Err: err}
		}
		return nil
	})
	if err != nil {
		s.logSyncFailure(err)
	}
	return outcome, err
}

// ReconcileAll resynchronizes every user, each in its own transaction, and
// reports which ones changed. One failure does not stop the pass.
func (s *Service) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{Failed: map[string]error{}}
	err := s.run(ctx, opReconcileUsers, func(ctx context.Context) (string, error) {
		var errs []error
		for _, u := range s.store.ListUsers() {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			report.Checked++
			outcome, err := s.syncUser(ctx, u.ID)
			if err != nil {
				report.Failed[u.ID] = err
				errs = append(errs, err)
				continue
			}
			if outcome.Changed() {
				report.Changed = append(report.Changed, u.ID)
			}
		}
		s.logger.Info("users reconciled", "checked", report.Checked, "changed", len(report.Changed), "failed", len(report.Failed))
		return "", errors.Join(errs...)
	})
	return report, err
}

// SetupGroups creates any missing managed groups and returns the names it
// created.
func (s *Service) SetupGroups(ctx context.Context) ([]string, error) {
	var created []string
	err := s.run(ctx, opSetupGroups, func(ctx context.Context) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			created, err = s.sync.EnsureGroups(tx)
			return err
		})
		if err == nil && len(created) > 0 {
			s.logger.Info("groups created", "groups", strings.Join(created, ", "))
		}
		return "", err
	})
	return created, err
}

// GetAccount returns the user with profile, group names and capabilities.
// A user without a profile is reported as guest.
func (s *Service) GetAccount(_ context.Context, userID string) (Account, error) {
	user, ok := s.store.GetUser(userID)
	if !ok {
		return Account{}, ErrNotFound{Entity: domain.EntityUser, ID: userID}
	}
	profile, ok := s.store.GetProfile(userID)
	if !ok {
		profile = domain.Profile{UserID: userID, Role: domain.RoleGuest}
	}
	return accountFrom(user, profile, s.store.GroupsForUser(userID)), nil
}

// FindUserByUsername matches usernames case-insensitively.
func (s *Service) FindUserByUsername(ctx context.Context, username string) (Account, error) {
	for _, u := range s.store.ListUsers() {
		if strings.EqualFold(u.Username, username) {
			return s.GetAccount(ctx, u.ID)
		}
	}
	return Account{}, ErrNotFound{Entity: domain.EntityUser, ID: username}
}

// ListAccounts returns every account in creation order.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	users := s.store.ListUsers()
	out := make([]Account, 0, len(users))
	for _, u := range users {
		acc, err := s.GetAccount(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, nil
}

// Authorize reports whether the user's role permits op. Denials wrap
// access.ErrPermissionDenied.
func (s *Service) Authorize(ctx context.Context, userID string, op access.Operation) error {
	return s.run(ctx, opAuthorize, func(ctx context.Context) (string, error) {
		acc, err := s.GetAccount(ctx, userID)
		if err != nil {
			return userID, err
		}
		if err := access.Require(acc.Profile.Role, op); err != nil {
			return userID, fmt.Errorf("user %s: %w", acc.User.Username, err)
		}
		return userID, nil
	})
}

func (s *Service) logSyncFailure(err error) {
	var syncErr *access.SyncFailedError
	if errors.As(err, &syncErr) {
		s.logger.Error("access sync failed",
			"user_id", syncErr.UserID,
			"old_role", syncErr.OldRole,
			"new_role", syncErr.NewRole,
			"error", syncErr.Err)
	}
}
