package automation

import (
	"academy/models"
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnrollOutcome is the per-course report of one enrollment attempt.
type EnrollOutcome struct {
	Slug            string `json:"slug"`
	CourseID        uint   `json:"courseId,omitempty"`
	CourseName      string `json:"courseName,omitempty"`
	Success         bool   `json:"success"`
	AlreadyEnrolled bool   `json:"alreadyEnrolled"`
	Warning         string `json:"warning,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Created reports whether this attempt wrote a new enrollment.
func (o EnrollOutcome) Created() bool { return o.Success && !o.AlreadyEnrolled }

func (o EnrollOutcome) fail(err error) (EnrollOutcome, error) {
	o.Error = err.Error()
	return o, err
}

type EnrollmentExecutor struct {
	db   *gorm.DB
	tags *TagStore
	log  *zap.Logger
	now  func() time.Time
}

func NewEnrollmentExecutor(db *gorm.DB, tags *TagStore, log *zap.Logger) *EnrollmentExecutor {
	return &EnrollmentExecutor{db: db, tags: tags, log: log, now: time.Now}
}

// Enroll creates the (user, course) enrollment if it does not exist yet. A
// missing course is reported with Success=false and no error; only datastore
// failures on the enrollment row itself are returned as errors.
func (e *EnrollmentExecutor) Enroll(ctx context.Context, userID uint, slug string) (EnrollOutcome, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	out := EnrollOutcome{Slug: slug}

	var course models.Course
	err := e.db.WithContext(ctx).
		Where("slug = ? AND is_deleted = ? AND status = ?", slug, false, models.CourseStatusActive).
		First(&course).Error
	if err == gorm.ErrRecordNotFound {
		e.log.Info("course not in catalog", zap.String("course", slug), zap.Uint("user_id", userID))
		return out, nil
	}
	if err != nil {
		return out.fail(actionFailed("enroll_course", slug, err))
	}
	out.CourseID = course.ID
	out.CourseName = course.Title

	now := e.now().UTC()
	enrollment := models.Enrollment{
		UserID:     userID,
		CourseID:   course.ID,
		Status:     models.EnrollmentActive,
		EnrolledAt: now,
	}
	res := e.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&enrollment)
	if res.Error != nil {
		return out.fail(actionFailed("enroll_course", slug, res.Error))
	}
	out.Success = true
	if res.RowsAffected == 0 {
		out.AlreadyEnrolled = true
		return out, nil
	}

	// The enrollment row is the commitment point. The counter and the derived
	// tag are reported but do not fail the enrollment.
	if err := e.incrementAnalytics(ctx, course.ID, now); err != nil {
		e.log.Error("course analytics increment failed",
			zap.String("course", slug), zap.Uint("user_id", userID), zap.Error(err))
		out.Warning = "analytics not updated"
	}
	if _, _, err := e.tags.Ensure(ctx, userID, "enrolled_"+slug, nil); err != nil {
		e.log.Error("derived enrollment tag failed",
			zap.String("course", slug), zap.Uint("user_id", userID), zap.Error(err))
		out.Warning = strings.TrimPrefix(out.Warning+"; enrolled tag not recorded", "; ")
	}

	e.log.Info("user enrolled",
		zap.Uint("user_id", userID), zap.String("course", slug), zap.Uint("course_id", course.ID))
	return out, nil
}

// EnrollMany enrolls into every slug, up to concurrency at a time. Each slug
// touches a distinct (user, course) key. Outcomes keep the order of slugs; the
// first hard failure is returned after all attempts finish.
func (e *EnrollmentExecutor) EnrollMany(ctx context.Context, userID uint, slugs []string, concurrency int) ([]EnrollOutcome, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	outcomes := make([]EnrollOutcome, len(slugs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, slug := range slugs {
		g.Go(func() error {
			out, err := e.Enroll(ctx, userID, slug)
			outcomes[i] = out
			return err
		})
	}
	err := g.Wait()
	return outcomes, err
}

func (e *EnrollmentExecutor) incrementAnalytics(ctx context.Context, courseID uint, now time.Time) error {
	return e.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "course_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"total_enrolled": gorm.Expr("course_analytics.total_enrolled + ?", 1),
				"updated_at":     now,
			}),
		}).
		Create(&models.CourseAnalytics{CourseID: courseID, TotalEnrolled: 1, UpdatedAt: now}).Error
}

// EnrolledSlugs lists the slugs of every course the user is enrolled in.
func (e *EnrollmentExecutor) EnrolledSlugs(ctx context.Context, userID uint) ([]string, error) {
	var slugs []string
	err := e.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Joins("JOIN courses ON courses.id = enrollments.course_id").
		Where("enrollments.user_id = ?", userID).
		Order("enrollments.id asc").
		Pluck("courses.slug", &slugs).Error
	return slugs, err
}
