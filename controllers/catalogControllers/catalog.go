package catalogControllers

import (
	"academy/database"
	"academy/middleware"
	"academy/models"
	catalogValidator "academy/validators/catalogValidator"
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errSlugTaken = errors.New("slug taken")

type courseView struct {
	models.Course
	TotalEnrolled int64 `json:"total_enrolled"`
}

func AdminCreateCourse(c *fiber.Ctx) error {
	reqData := c.Locals("validatedCourse").(*catalogValidator.CreateCourseRequest)

	course := models.Course{
		Slug:        reqData.Slug,
		Title:       reqData.Title,
		Description: reqData.Description,
		Status:      reqData.Status,
	}
	res := database.Database.Db.WithContext(c.UserContext()).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&course)
	if res.Error != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to create course!", nil)
	}
	if res.RowsAffected == 0 {
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "Course slug already exists!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Course created successfully!", course)
}

func AdminListCourses(c *fiber.Ctx) error {
	db := database.Database.Db.WithContext(c.UserContext())

	var courses []models.Course
	if err := db.Where("is_deleted = ?", false).Order("slug asc").Find(&courses).Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch courses!", nil)
	}

	var analytics []models.CourseAnalytics
	if err := db.Find(&analytics).Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch course analytics!", nil)
	}
	totals := make(map[uint]int64, len(analytics))
	for _, a := range analytics {
		totals[a.CourseID] = a.TotalEnrolled
	}

	views := make([]courseView, 0, len(courses))
	for _, course := range courses {
		views = append(views, courseView{Course: course, TotalEnrolled: totals[course.ID]})
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Courses fetched successfully!", views)
}

// AdminCreateSequence stores a sequence and its steps in one transaction.
// Step indexes follow the order of the request.
func AdminCreateSequence(c *fiber.Ctx) error {
	reqData := c.Locals("validatedSequence").(*catalogValidator.CreateSequenceRequest)

	sequence := models.Sequence{
		Slug:        reqData.Slug,
		Name:        reqData.Name,
		TriggerType: reqData.TriggerType,
		IsActive:    true,
	}
	for i, step := range reqData.Steps {
		sequence.Steps = append(sequence.Steps, models.SequenceStep{
			StepIndex: i,
			DayOffset: step.DayOffset,
			Subject:   step.Subject,
			Body:      step.Body,
		})
	}

	err := database.Database.Db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Sequence{}).Where("slug = ?", sequence.Slug).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return errSlugTaken
		}
		if err := tx.Create(&sequence).Error; err != nil {
			return err
		}
		// gorm skips zero values on insert, so an explicit false needs an update.
		if reqData.IsActive != nil && !*reqData.IsActive {
			sequence.IsActive = false
			return tx.Model(&sequence).Update("is_active", false).Error
		}
		return nil
	})
	if errors.Is(err, errSlugTaken) {
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "Sequence slug already exists!", nil)
	}
	if err != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to create sequence!", nil)
	}

	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Sequence created successfully!", sequence)
}

func AdminListSequences(c *fiber.Ctx) error {
	var sequences []models.Sequence
	err := database.Database.Db.WithContext(c.UserContext()).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("step_index asc") }).
		Order("slug asc").
		Find(&sequences).Error
	if err != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch sequences!", nil)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Sequences fetched successfully!", sequences)
}

func AdminCreateMarketingTag(c *fiber.Ctx) error {
	reqData := c.Locals("validatedMarketingTag").(*catalogValidator.CreateMarketingTagRequest)

	tag := models.MarketingTag{Slug: reqData.Slug, Description: reqData.Description}
	res := database.Database.Db.WithContext(c.UserContext()).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&tag)
	if res.Error != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to create marketing tag!", nil)
	}
	if res.RowsAffected == 0 {
		return middleware.JsonResponse(c, fiber.StatusConflict, false, "Marketing tag already exists!", nil)
	}
	return middleware.JsonResponse(c, fiber.StatusCreated, true, "Marketing tag created successfully!", tag)
}

func AdminListMarketingTags(c *fiber.Ctx) error {
	var tags []models.MarketingTag
	if err := database.Database.Db.WithContext(c.UserContext()).Order("slug asc").Find(&tags).Error; err != nil {
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch marketing tags!", nil)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Marketing tags fetched successfully!", tags)
}
