package automation

import (
	"academy/models"
	"academy/rules"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const miniDiplomaSource = "mini-diploma"

// MiniDiplomaOutcome reports the required phase of a free-diploma grant.
type MiniDiplomaOutcome struct {
	Category       string               `json:"category"`
	FirstOptin     bool                 `json:"firstOptin"`
	CompanionTags  []string             `json:"companionTags"`
	NewCompanions  int                  `json:"newCompanions"`
	Nurture        SequenceEnrollResult `json:"nurture"`
	AccessURL      string               `json:"accessUrl"`
	CompanionError string               `json:"companionError,omitempty"`
	NurtureError   string               `json:"nurtureError,omitempty"`
}

// MiniDiplomaHandler grants free mini-diploma access. It is re-entrant: the
// opt-in timestamp is only set once and every child write is an upsert.
type MiniDiplomaHandler struct {
	db        *gorm.DB
	tags      *TagStore
	sequences *SequenceScheduler
	log       *zap.Logger
	now       func() time.Time
	baseURL   string
}

func NewMiniDiplomaHandler(db *gorm.DB, tags *TagStore, sequences *SequenceScheduler, log *zap.Logger, baseURL string) *MiniDiplomaHandler {
	return &MiniDiplomaHandler{
		db:        db,
		tags:      tags,
		sequences: sequences,
		log:       log,
		now:       time.Now,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// Grant populates the user's mini-diploma fields, upserts the companion tags
// and enrolls the user into the nurture sequence. The access email is
// returned for the caller to dispatch.
func (h *MiniDiplomaHandler) Grant(ctx context.Context, user models.User, action rules.Action, value *string) (MiniDiplomaOutcome, []Notification, error) {
	out := MiniDiplomaOutcome{Category: strings.TrimSpace(action.Category)}
	if v := trimValue(value); v != nil {
		out.Category = strings.ToLower(*v)
	}
	if out.Category == "" {
		out.Category = "general"
	}

	first, err := h.markOptin(ctx, user.ID, out.Category)
	if err != nil {
		return out, nil, actionFailed("grant_mini_diploma", out.Category, err)
	}
	out.FirstOptin = first

	for _, tag := range action.CompanionTags {
		tag = rules.Normalize(tag)
		if tag == "" {
			continue
		}
		_, created, err := h.tags.Ensure(ctx, user.ID, tag, nil)
		if err != nil {
			h.log.Error("companion tag failed", zap.Uint("user_id", user.ID), zap.String("tag", tag), zap.Error(err))
			out.CompanionError = tag
			continue
		}
		out.CompanionTags = append(out.CompanionTags, tag)
		if created {
			out.NewCompanions++
		}
	}

	if action.Sequence != nil && !action.Sequence.Empty() {
		res, err := h.sequences.EnrollInSequence(ctx, user.ID, *action.Sequence)
		if err != nil {
			h.log.Error("nurture enrollment failed", zap.Uint("user_id", user.ID), zap.Error(err))
			out.NurtureError = err.Error()
		}
		out.Nurture = res
	}

	out.AccessURL = fmt.Sprintf("%s/mini-diploma/%s", h.baseURL, url.PathEscape(out.Category))

	subject, html := miniDiplomaEmail(user.Name, out.Category, out.AccessURL)
	ns := []Notification{{
		Kind:      KindMiniDiplomaEmail,
		Channel:   models.ChannelEmail,
		UserID:    user.ID,
		To:        user.Email,
		ToName:    user.Name,
		Subject:   subject,
		HTML:      html,
		DedupeKey: fmt.Sprintf("mini_diploma:%d:%s", user.ID, out.Category),
		Metadata:  map[string]any{"category": out.Category},
	}}

	h.log.Info("mini diploma granted",
		zap.Uint("user_id", user.ID), zap.String("category", out.Category),
		zap.Bool("first_optin", first), zap.Bool("nurture_enrolled", out.Nurture.Enrolled))
	return out, ns, nil
}

// markOptin writes the category on every grant and the opt-in time and
// acquisition source only when they are still empty.
func (h *MiniDiplomaHandler) markOptin(ctx context.Context, userID uint, category string) (bool, error) {
	db := h.db.WithContext(ctx)
	now := h.now().UTC()

	res := db.Model(&models.User{}).
		Where("id = ? AND mini_diploma_optin_at IS NULL", userID).
		Updates(map[string]any{
			"mini_diploma_category": category,
			"mini_diploma_optin_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	first := res.RowsAffected == 1
	if !first {
		if err := db.Model(&models.User{}).
			Where("id = ?", userID).
			Update("mini_diploma_category", category).Error; err != nil {
			return false, err
		}
	}

	if err := db.Model(&models.User{}).
		Where("id = ? AND (acquisition_source IS NULL OR acquisition_source = '')", userID).
		Update("acquisition_source", miniDiplomaSource).Error; err != nil {
		h.log.Warn("acquisition source not set", zap.Uint("user_id", userID), zap.Error(err))
	}
	return first, nil
}
