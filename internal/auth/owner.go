package auth

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	ErrForbidden   = errors.New("forbidden")
	ErrReadOnly    = errors.New("read-only share")
	ErrInvalidRole = errors.New("invalid share role")
)

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
)

// OwnerResolver decides whose data userID may act on. write is set for
// requests that change data.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, userID, requested uint64, write bool) (uint64, error)
}

// ShareResolver allows acting for another owner through an active share.
// Viewers may only read.
type ShareResolver struct {
	DB *gorm.DB
}

func (s *ShareResolver) ResolveOwner(ctx context.Context, userID, requested uint64, write bool) (uint64, error) {
	if requested == 0 || requested == userID {
		return userID, nil
	}
	var share Share
	err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND member_id = ? AND active = ?", requested, userID, true).
		First(&share).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrForbidden
	}
	if err != nil {
		return 0, fmt.Errorf("resolve owner: %w", err)
	}
	if write && share.Role == RoleViewer {
		return 0, ErrReadOnly
	}
	return requested, nil
}

// Grant creates or reactivates a share from owner to member.
func (s *ShareResolver) Grant(ctx context.Context, ownerID, memberID uint64, role string) error {
	if ownerID == memberID {
		return fmt.Errorf("share with self")
	}
	switch role {
	case "":
		role = RoleEditor
	case RoleViewer, RoleEditor:
	default:
		return fmt.Errorf("%w %q", ErrInvalidRole, role)
	}
	res := s.DB.WithContext(ctx).Model(&Share{}).
		Where("owner_id = ? AND member_id = ?", ownerID, memberID).
		Updates(map[string]any{"active": true, "role": role})
	if res.Error != nil {
		return fmt.Errorf("grant share: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Create(&Share{OwnerID: ownerID, MemberID: memberID, Role: role, Active: true}).Error
}

func (s *ShareResolver) Revoke(ctx context.Context, ownerID, memberID uint64) error {
	return s.DB.WithContext(ctx).Model(&Share{}).
		Where("owner_id = ? AND member_id = ?", ownerID, memberID).
		Update("active", false).Error
}
