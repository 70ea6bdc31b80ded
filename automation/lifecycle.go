package automation

import (
	"academy/models"
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PaidClassifier says whether a course slug is a paid offering.
type PaidClassifier interface {
	IsPaid(slug string) bool
}

type LifecyclePromoter struct {
	db   *gorm.DB
	paid PaidClassifier
	log  *zap.Logger
	now  func() time.Time
}

func NewLifecyclePromoter(db *gorm.DB, paid PaidClassifier, log *zap.Logger) *LifecyclePromoter {
	return &LifecyclePromoter{db: db, paid: paid, log: log, now: time.Now}
}

// MaybePromote moves the user from LEAD to STUDENT when any of the newly
// enrolled slugs is paid. The write is conditional on the current stage, so a
// second call is a no-op. The bool reports whether this call made the change.
func (p *LifecyclePromoter) MaybePromote(ctx context.Context, userID uint, newlyEnrolled []string) (bool, error) {
	anyPaid := false
	for _, slug := range newlyEnrolled {
		if p.paid.IsPaid(slug) {
			anyPaid = true
			break
		}
	}
	if !anyPaid {
		return false, nil
	}
	return p.Promote(ctx, userID)
}

// Promote performs the one-way LEAD -> STUDENT transition.
func (p *LifecyclePromoter) Promote(ctx context.Context, userID uint) (bool, error) {
	now := p.now().UTC()
	res := p.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND lifecycle_stage <> ?", userID, models.StageStudent).
		Updates(map[string]any{
			"lifecycle_stage": models.StageStudent,
			"promoted_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	p.log.Info("lifecycle promoted", zap.Uint("user_id", userID), zap.String("stage", models.StageStudent))
	return true, nil
}
