package automation

import (
	"academy/models"
	"academy/rules"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TagStore is the append-only ledger of user facts. Uniqueness of
// (user_id, tag) is enforced by the table's unique index; the store never
// takes a lock, it inserts and falls back to reading the winner.
type TagStore struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

func NewTagStore(db *gorm.DB, log *zap.Logger) *TagStore {
	return &TagStore{db: db, log: log, now: time.Now}
}

// Record stores (userID, tag) at most once. Strict tags that already exist
// return ErrTagExists along with the existing row; upsert tags return the
// existing row with created=false.
func (s *TagStore) Record(ctx context.Context, userID uint, tag string, value *string, class rules.TagClass) (*models.UserTag, bool, error) {
	tag = rules.Normalize(tag)
	if userID == 0 || tag == "" {
		return nil, false, newError(ErrInvalidGrant, "user id and tag are required", nil, nil)
	}

	row := models.UserTag{
		UserID:    userID,
		Tag:       tag,
		Value:     trimValue(value),
		CreatedAt: s.now().UTC(),
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return nil, false, actionFailed("record_tag", tag, res.Error)
	}
	if res.RowsAffected == 1 {
		s.log.Debug("tag recorded", zap.Uint("user_id", userID), zap.String("tag", tag))
		return &row, true, nil
	}

	existing, err := s.Find(ctx, userID, tag)
	if err != nil {
		return nil, false, actionFailed("record_tag", tag, err)
	}
	if class == rules.ClassStrict {
		return existing, false, newError(ErrTagExists,
			fmt.Sprintf("tag %q already exists for user %d", tag, userID), nil,
			map[string]any{"user_id": userID, "tag": tag, "tag_id": existing.ID})
	}
	return existing, false, nil
}

// Ensure records a derived tag. An existing row is success, never a conflict,
// and never a second row.
func (s *TagStore) Ensure(ctx context.Context, userID uint, tag string, value *string) (*models.UserTag, bool, error) {
	return s.Record(ctx, userID, tag, value, rules.ClassUpsert)
}

func (s *TagStore) Find(ctx context.Context, userID uint, tag string) (*models.UserTag, error) {
	var row models.UserTag
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND tag = ?", userID, rules.Normalize(tag)).
		First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *TagStore) ListForUser(ctx context.Context, userID uint) ([]models.UserTag, error) {
	var tags []models.UserTag
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc, id asc").
		Find(&tags).Error
	return tags, err
}

// Delete removes one tag row. Nothing the tag triggered is reversed.
func (s *TagStore) Delete(ctx context.Context, id uint) (*models.UserTag, error) {
	var row models.UserTag
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, newError(ErrTagNotFound, fmt.Sprintf("tag %d not found", id), nil, nil)
		}
		return nil, err
	}
	res := s.db.WithContext(ctx).Delete(&models.UserTag{}, id)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, newError(ErrTagNotFound, fmt.Sprintf("tag %d not found", id), nil, nil)
	}
	s.log.Info("tag deleted", zap.Uint("tag_id", id), zap.Uint("user_id", row.UserID), zap.String("tag", row.Tag))
	return &row, nil
}

// Suggestions returns the sorted union of every recorded tag, every marketing
// catalog slug and a "source:<channel>" entry per acquisition channel.
func (s *TagStore) Suggestions(ctx context.Context) ([]string, error) {
	db := s.db.WithContext(ctx)

	var recorded []string
	if err := db.Model(&models.UserTag{}).Distinct().Pluck("tag", &recorded).Error; err != nil {
		return nil, err
	}
	var catalog []string
	if err := db.Model(&models.MarketingTag{}).Distinct().Pluck("slug", &catalog).Error; err != nil {
		return nil, err
	}
	var sources []string
	if err := db.Model(&models.User{}).
		Where("acquisition_source <> ''").
		Distinct().
		Pluck("acquisition_source", &sources).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	add := func(tag string) {
		tag = rules.Normalize(tag)
		if tag != "" {
			seen[tag] = struct{}{}
		}
	}
	for _, t := range recorded {
		add(t)
	}
	for _, t := range catalog {
		add(t)
	}
	for _, src := range sources {
		if strings.TrimSpace(src) != "" {
			add("source:" + src)
		}
	}

	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out, nil
}

func trimValue(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}
