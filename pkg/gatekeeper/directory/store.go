// Package directory reads users, groups and memberships from the database
// and turns them into membership indexes.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/membership"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/models"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/roles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrGroupNotFound = errors.New("group not found")
)

// DiscardRecorder is told how many rows each index build excluded
type DiscardRecorder interface {
	RecordDiscarded(n int)
}

// Option configures a Store
type Option func(*Store)

// WithDiscardRecorder reports discarded snapshot rows to r
func WithDiscardRecorder(r DiscardRecorder) Option {
	return func(s *Store) {
		s.recorder = r
	}
}

// Store is the read side of the directory
type Store struct {
	db       *gorm.DB
	log      *zap.Logger
	recorder DiscardRecorder
}

// NewStore creates a directory store
func NewStore(db *gorm.DB, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{db: db, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ListUsers returns every non-deleted user ordered by ID
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	return listUsers(s.db.WithContext(ctx))
}

// ListGroups returns every group, active or not, ordered by type and name
func (s *Store) ListGroups(ctx context.Context) ([]models.Group, error) {
	return listGroups(s.db.WithContext(ctx))
}

// ListMemberships returns every membership of a non-deleted user ordered by ID
func (s *Store) ListMemberships(ctx context.Context) ([]models.GroupMembership, error) {
	return listMemberships(s.db.WithContext(ctx))
}

func listUsers(tx *gorm.DB) ([]models.User, error) {
	var users []models.User
	if err := tx.Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func listGroups(tx *gorm.DB) ([]models.Group, error) {
	var groups []models.Group
	if err := tx.Order("type, name").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

func listMemberships(tx *gorm.DB) ([]models.GroupMembership, error) {
	var memberships []models.GroupMembership
	live := tx.Model(&models.User{}).Select("id")
	if err := tx.Where("user_id IN (?)", live).Order("id").Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return memberships, nil
}

// Snapshot reads the whole directory inside one transaction
func (s *Store) Snapshot(ctx context.Context) (membership.Snapshot, error) {
	var snap membership.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if snap.Users, err = listUsers(tx); err != nil {
			return err
		}
		if snap.Groups, err = listGroups(tx); err != nil {
			return err
		}
		snap.Memberships, err = listMemberships(tx)
		return err
	})
	if err != nil {
		return membership.Snapshot{}, err
	}
	return snap, nil
}

// UserSnapshot reads what is needed to resolve one user's capabilities:
// the user, the group catalog and the user's own memberships
func (s *Store) UserSnapshot(ctx context.Context, userID uint) (membership.Snapshot, error) {
	return s.scopedSnapshot(ctx, userID, 0)
}

// GroupSnapshot extends UserSnapshot with every membership of one group and
// the users holding them, which is enough to answer admin and orphan queries
// for that group
func (s *Store) GroupSnapshot(ctx context.Context, userID, groupID uint) (membership.Snapshot, error) {
	return s.scopedSnapshot(ctx, userID, groupID)
}

func (s *Store) scopedSnapshot(ctx context.Context, userID, groupID uint) (membership.Snapshot, error) {
	var snap membership.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if snap.Groups, err = listGroups(tx); err != nil {
			return err
		}

		live := tx.Model(&models.User{}).Select("id")
		q := tx.Where("user_id IN (?)", live)
		if groupID != 0 {
			q = q.Where("(user_id = ? OR group_id = ?)", userID, groupID)
		} else {
			q = q.Where("user_id = ?", userID)
		}
		if err := q.Order("id").Find(&snap.Memberships).Error; err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}

		ids := []uint{userID}
		for _, m := range snap.Memberships {
			if m.UserID != userID {
				ids = append(ids, m.UserID)
			}
		}
		if err := tx.Where("id IN ?", ids).Order("id").Find(&snap.Users).Error; err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		return nil
	})
	if err != nil {
		return membership.Snapshot{}, err
	}
	return snap, nil
}

// Index builds a membership index over the whole directory
func (s *Store) Index(ctx context.Context) (*membership.Index, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.build(snap), nil
}

// UserIndex builds a membership index scoped to one user
func (s *Store) UserIndex(ctx context.Context, userID uint) (*membership.Index, error) {
	snap, err := s.UserSnapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.build(snap), nil
}

// GroupIndex builds a membership index scoped to one user and one group
func (s *Store) GroupIndex(ctx context.Context, userID, groupID uint) (*membership.Index, error) {
	snap, err := s.GroupSnapshot(ctx, userID, groupID)
	if err != nil {
		return nil, err
	}
	return s.build(snap), nil
}

func (s *Store) build(snap membership.Snapshot) *membership.Index {
	idx := membership.Build(snap)
	if n := idx.DiscardedCount(); n > 0 {
		for _, err := range idx.Discarded() {
			s.log.Warn("discarded membership row", zap.Error(err))
		}
		if s.recorder != nil {
			s.recorder.RecordDiscarded(n)
		}
	}
	return idx
}

// GetUser loads a non-deleted user
func (s *Store) GetUser(ctx context.Context, id uint) (models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

// GetGroup loads a group, active or not
func (s *Store) GetGroup(ctx context.Context, id uint) (models.Group, error) {
	var group models.Group
	if err := s.db.WithContext(ctx).First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Group{}, ErrGroupNotFound
		}
		return models.Group{}, fmt.Errorf("get group %d: %w", id, err)
	}
	return group, nil
}

// ActiveOwnerCount counts ACTIVE, non-deleted OWNER accounts other than excludeID.
// Pass the transaction that is about to change ownership so the count is consistent.
func ActiveOwnerCount(tx *gorm.DB, excludeID uint) (int64, error) {
	var n int64
	err := tx.Model(&models.User{}).
		Where("role = ? AND status = ? AND id <> ?", roles.OrgRoleOwner, models.UserStatusActive, excludeID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return n, nil
}

// ActiveAdminCount counts ACTIVE ADMIN memberships of active users in a group,
// ignoring excludeUserID
func ActiveAdminCount(tx *gorm.DB, groupID, excludeUserID uint) (int64, error) {
	var n int64
	err := tx.Model(&models.GroupMembership{}).
		Joins("JOIN users ON users.id = group_memberships.user_id AND users.deleted_at IS NULL").
		Where("group_memberships.group_id = ? AND group_memberships.role = ? AND group_memberships.status = ?",
			groupID, roles.GroupRoleAdmin, models.MembershipStatusActive).
		Where("users.status = ? AND group_memberships.user_id <> ?", models.UserStatusActive, excludeUserID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count group admins: %w", err)
	}
	return n, nil
}
