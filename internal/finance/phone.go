package finance

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm/clause"
)

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	var b strings.Builder
	for i, r := range p {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LinkPhone binds phone to userID for chat messages. It does not prove that
// userID controls the number: verification (an OTP round trip or a signed
// webhook claim) belongs to the auth layer in front of this call.
func (s *Service) LinkPhone(ctx context.Context, phone string, userID uint64) (*PhoneLink, error) {
	phone = NormalizePhone(phone)
	if len(strings.TrimPrefix(phone, "+")) < 8 {
		return nil, fmt.Errorf("%w: phone number", ErrInvalid)
	}
	l := &PhoneLink{Phone: phone, UserID: userID, Active: true, CreatedAt: s.now()}
	// An active link of another user is never taken over.
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "active"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "phone_links.active = ? OR phone_links.user_id = ?", Vars: []any{false, userID}},
		}},
	}).Create(l)
	if res.Error != nil {
		return nil, fmt.Errorf("link phone: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: phone is linked to another user", ErrConflict)
	}
	return l, nil
}

func (s *Service) UnlinkPhone(ctx context.Context, phone string, userID uint64) error {
	res := s.DB.WithContext(ctx).Model(&PhoneLink{}).
		Where("phone = ? AND user_id = ?", NormalizePhone(phone), userID).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("unlink phone: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("phone link %w", ErrNotFound)
	}
	return nil
}

// OwnerByPhone returns the user an active phone link points to.
func (s *Service) OwnerByPhone(ctx context.Context, phone string) (uint64, error) {
	var l PhoneLink
	err := s.DB.WithContext(ctx).
		Where("phone = ? AND active = ?", NormalizePhone(phone), true).
		First(&l).Error
	if err != nil {
		return 0, notFound(err, "phone link")
	}
	return l.UserID, nil
}
