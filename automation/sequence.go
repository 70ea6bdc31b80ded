package automation

import (
	"academy/models"
	"academy/rules"
	"context"
	"fmt"
	"strings"
	"time"

	jnow "github.com/jinzhu/now"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultSequenceInitialDelay = time.Hour

// SequenceEnrollResult reports the outcome of EnrollInSequence.
type SequenceEnrollResult struct {
	Found        bool   `json:"found"`
	Enrolled     bool   `json:"enrolled"`
	SequenceID   uint   `json:"sequenceId,omitempty"`
	SequenceSlug string `json:"sequenceSlug,omitempty"`
	EnrollmentID uint   `json:"enrollmentId,omitempty"`
}

// StepClaim is a step the caller now owns and must send. Completed is set when
// the claim moved the enrollment to COMPLETED.
type StepClaim struct {
	EnrollmentID uint
	UserID       uint
	Step         *models.SequenceStep
	NextStep     int
	NextSendAt   time.Time
	Completed    bool
}

// SequenceScheduler owns sequence enrollment and the cursor state machine:
// ACTIVE with a strictly increasing step index and send time, ending in
// COMPLETED once the index reaches the step count.
type SequenceScheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	now          func() time.Time
	initialDelay time.Duration
	sendHour     int
}

func NewSequenceScheduler(db *gorm.DB, log *zap.Logger, initialDelay time.Duration, sendHour int) *SequenceScheduler {
	if initialDelay <= 0 {
		initialDelay = DefaultSequenceInitialDelay
	}
	if sendHour < 0 || sendHour > 23 {
		sendHour = 9
	}
	return &SequenceScheduler{
		db:           db,
		log:          log,
		now:          time.Now,
		initialDelay: initialDelay,
		sendHour:     sendHour,
	}
}

// FindSequence resolves a selector against active sequences: slug first, then
// trigger type, oldest first.
func (s *SequenceScheduler) FindSequence(ctx context.Context, sel rules.SequenceSelector) (*models.Sequence, error) {
	db := s.db.WithContext(ctx)
	if slug := strings.TrimSpace(sel.Slug); slug != "" {
		var seq models.Sequence
		err := db.Where("slug = ? AND is_active = ?", slug, true).Order("id asc").First(&seq).Error
		if err == nil {
			return &seq, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	if trigger := strings.TrimSpace(sel.Trigger); trigger != "" {
		var seq models.Sequence
		err := db.Where("trigger_type = ? AND is_active = ?", trigger, true).Order("id asc").First(&seq).Error
		if err == nil {
			return &seq, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	return nil, nil
}

// EnrollInSequence creates the user's cursor into the selected sequence once.
// A selector that matches no active sequence is not an error.
func (s *SequenceScheduler) EnrollInSequence(ctx context.Context, userID uint, sel rules.SequenceSelector) (SequenceEnrollResult, error) {
	seq, err := s.FindSequence(ctx, sel)
	if err != nil {
		return SequenceEnrollResult{}, actionFailed("enroll_sequence", sel.String(), err)
	}
	if seq == nil {
		s.log.Info("no active sequence for selector", zap.String("selector", sel.String()), zap.Uint("user_id", userID))
		return SequenceEnrollResult{}, nil
	}
	out := SequenceEnrollResult{Found: true, SequenceID: seq.ID, SequenceSlug: seq.Slug}

	now := s.now().UTC()
	row := models.SequenceEnrollment{
		UserID:           userID,
		SequenceID:       seq.ID,
		Status:           models.SequenceEnrollmentActive,
		CurrentStepIndex: 0,
		NextSendAt:       now.Add(s.initialDelay),
		EnrolledAt:       now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return out, actionFailed("enroll_sequence", seq.Slug, res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.SequenceEnrollment
		if err := s.db.WithContext(ctx).
			Where("user_id = ? AND sequence_id = ?", userID, seq.ID).
			First(&existing).Error; err == nil {
			out.EnrollmentID = existing.ID
		}
		return out, nil
	}
	out.Enrolled = true
	out.EnrollmentID = row.ID

	if err := s.db.WithContext(ctx).
		Model(&models.Sequence{}).
		Where("id = ?", seq.ID).
		UpdateColumn("enrolled_count", gorm.Expr("enrolled_count + ?", 1)).Error; err != nil {
		s.log.Error("sequence enrolled count not updated", zap.Uint("sequence_id", seq.ID), zap.Error(err))
	}

	s.log.Info("sequence enrollment created",
		zap.Uint("user_id", userID), zap.String("sequence", seq.Slug), zap.Time("next_send_at", row.NextSendAt))
	return out, nil
}

// Steps returns the sequence's steps ordered by index.
func (s *SequenceScheduler) Steps(ctx context.Context, sequenceID uint) ([]models.SequenceStep, error) {
	var steps []models.SequenceStep
	err := s.db.WithContext(ctx).
		Where("sequence_id = ?", sequenceID).
		Order("step_index asc").
		Find(&steps).Error
	return steps, err
}

// Advance claims the step at the enrollment's cursor and moves the cursor one
// forward with a compare-and-set on (status, current_step_index). A nil claim
// means the enrollment is not ACTIVE or another worker already moved it; the
// step must not be sent in that case.
func (s *SequenceScheduler) Advance(ctx context.Context, enr models.SequenceEnrollment, steps []models.SequenceStep, at time.Time) (*StepClaim, error) {
	if enr.Status != models.SequenceEnrollmentActive {
		return nil, nil
	}
	idx := enr.CurrentStepIndex
	at = at.UTC()

	claim := &StepClaim{EnrollmentID: enr.ID, UserID: enr.UserID, NextStep: idx + 1, NextSendAt: enr.NextSendAt}
	updates := map[string]any{}

	if idx >= len(steps) {
		// Cursor already past the last step, typically because steps were removed.
		claim.NextStep = idx
		claim.Completed = true
		updates["status"] = models.SequenceEnrollmentCompleted
		updates["completed_at"] = at
	} else {
		step := steps[idx]
		claim.Step = &step
		updates["current_step_index"] = idx + 1
		updates["last_sent_at"] = at
		if idx+1 >= len(steps) {
			claim.Completed = true
			updates["status"] = models.SequenceEnrollmentCompleted
			updates["completed_at"] = at
		} else {
			claim.NextSendAt = s.nextSendAt(enr.EnrolledAt, steps[idx+1].DayOffset, enr.NextSendAt)
			updates["next_send_at"] = claim.NextSendAt
		}
	}

	res := s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND current_step_index = ?", enr.ID, models.SequenceEnrollmentActive, idx).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("advance sequence enrollment %d: %w", enr.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return claim, nil
}

// nextSendAt places a step at sendHour on enrolledAt's day plus dayOffset,
// pushed past prev so send times only increase.
func (s *SequenceScheduler) nextSendAt(enrolledAt time.Time, dayOffset int, prev time.Time) time.Time {
	if dayOffset < 0 {
		dayOffset = 0
	}
	day := jnow.With(enrolledAt.UTC()).BeginningOfDay()
	candidate := day.AddDate(0, 0, dayOffset).Add(time.Duration(s.sendHour) * time.Hour)
	if !candidate.After(prev) {
		candidate = prev.Add(time.Minute)
	}
	return candidate
}

// SendStats summarizes one ProcessDue pass.
type SendStats struct {
	Due       int `json:"due"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
}

// SequenceSender consumes due enrollments: claim a step, then send it. A step
// is claimed before it is sent so it is never sent twice.
type SequenceSender struct {
	scheduler  *SequenceScheduler
	dispatcher *Dispatcher
	db         *gorm.DB
	log        *zap.Logger
	batchSize  int
}

func NewSequenceSender(scheduler *SequenceScheduler, dispatcher *Dispatcher, db *gorm.DB, log *zap.Logger, batchSize int) *SequenceSender {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &SequenceSender{scheduler: scheduler, dispatcher: dispatcher, db: db, log: log, batchSize: batchSize}
}

// ProcessDue handles one batch of ACTIVE enrollments whose send time has passed.
func (s *SequenceSender) ProcessDue(ctx context.Context, at time.Time) (SendStats, error) {
	var stats SendStats

	var due []models.SequenceEnrollment
	if err := s.db.WithContext(ctx).
		Joins("JOIN sequences ON sequences.id = sequence_enrollments.sequence_id AND sequences.is_active = ?", true).
		Where("sequence_enrollments.status = ? AND sequence_enrollments.next_send_at <= ?", models.SequenceEnrollmentActive, at.UTC()).
		Order("sequence_enrollments.next_send_at asc").
		Limit(s.batchSize).
		Find(&due).Error; err != nil {
		return stats, fmt.Errorf("load due sequence enrollments: %w", err)
	}
	stats.Due = len(due)

	steps := make(map[uint][]models.SequenceStep)
	for _, enr := range due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		seqSteps, ok := steps[enr.SequenceID]
		if !ok {
			loaded, err := s.scheduler.Steps(ctx, enr.SequenceID)
			if err != nil {
				s.log.Error("load sequence steps failed", zap.Uint("sequence_id", enr.SequenceID), zap.Error(err))
				stats.Skipped++
				continue
			}
			steps[enr.SequenceID] = loaded
			seqSteps = loaded
		}

		claim, err := s.scheduler.Advance(ctx, enr, seqSteps, at)
		if err != nil {
			s.log.Error("advance sequence enrollment failed", zap.Uint("enrollment_id", enr.ID), zap.Error(err))
			stats.Skipped++
			continue
		}
		if claim == nil {
			stats.Skipped++
			continue
		}
		if claim.Completed {
			stats.Completed++
		}
		if claim.Step == nil {
			continue
		}

		var user models.User
		if err := s.db.WithContext(ctx).Where("id = ?", enr.UserID).First(&user).Error; err != nil {
			s.log.Warn("sequence recipient missing", zap.Uint("user_id", enr.UserID), zap.Error(err))
			stats.Failed++
			continue
		}
		subject, html := sequenceStepEmail(user.Name, claim.Step.Subject, claim.Step.Body)
		switch s.dispatcher.Dispatch(ctx, Notification{
			Kind:      KindSequenceStep,
			Channel:   models.ChannelEmail,
			UserID:    user.ID,
			To:        user.Email,
			ToName:    user.Name,
			Subject:   subject,
			HTML:      html,
			DedupeKey: fmt.Sprintf("sequence_enrollment:%d:step:%d", enr.ID, claim.Step.StepIndex),
			Metadata: map[string]any{
				"sequence_id": enr.SequenceID,
				"step_index":  claim.Step.StepIndex,
			},
		}) {
		case Delivered:
			stats.Sent++
		case AlreadyDelivered:
			stats.Skipped++
		default:
			stats.Failed++
		}
	}

	if stats.Due > 0 {
		s.log.Info("sequence batch processed",
			zap.Int("due", stats.Due), zap.Int("sent", stats.Sent), zap.Int("failed", stats.Failed),
			zap.Int("completed", stats.Completed), zap.Int("skipped", stats.Skipped))
	}
	return stats, nil
}
