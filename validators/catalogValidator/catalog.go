package catalogValidator

import (
	"academy/middleware"
	"academy/models"
	"academy/validators"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type CreateCourseRequest struct {
	Slug        string `json:"slug" validate:"required,max=191,slug"`
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"max=5000"`
	Status      string `json:"status" validate:"omitempty,oneof=ACTIVE DRAFT"`
}

type SequenceStepRequest struct {
	DayOffset int    `json:"dayOffset" validate:"min=0"`
	Subject   string `json:"subject" validate:"required,max=255"`
	Body      string `json:"body" validate:"required"`
}

type CreateSequenceRequest struct {
	Slug        string                `json:"slug" validate:"required,max=191,slug"`
	Name        string                `json:"name" validate:"required,max=255"`
	TriggerType string                `json:"triggerType" validate:"max=100"`
	IsActive    *bool                 `json:"isActive"`
	Steps       []SequenceStepRequest `json:"steps" validate:"required,min=1,dive"`
}

type CreateMarketingTagRequest struct {
	Slug        string `json:"slug" validate:"required,max=255"`
	Description string `json:"description" validate:"max=1000"`
}

func CreateCourse() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(CreateCourseRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		reqData.Slug = strings.ToLower(strings.TrimSpace(reqData.Slug))
		reqData.Title = strings.TrimSpace(reqData.Title)
		reqData.Status = strings.ToUpper(strings.TrimSpace(reqData.Status))
		if reqData.Status == "" {
			reqData.Status = models.CourseStatusActive
		}

		if errors := validators.Struct(reqData); errors != nil {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedCourse", reqData)
		return c.Next()
	}
}

// CreateSequence validates a sequence with its steps. Steps are indexed by
// position, so day offsets must never decrease.
func CreateSequence() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(CreateSequenceRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		reqData.Slug = strings.ToLower(strings.TrimSpace(reqData.Slug))
		reqData.Name = strings.TrimSpace(reqData.Name)
		reqData.TriggerType = strings.ToUpper(strings.TrimSpace(reqData.TriggerType))

		errors := validators.Struct(reqData)
		for i := 1; i < len(reqData.Steps); i++ {
			if reqData.Steps[i].DayOffset < reqData.Steps[i-1].DayOffset {
				if errors == nil {
					errors = make(map[string]string)
				}
				errors[fmt.Sprintf("steps[%d].dayOffset", i)] = "dayOffset must not be lower than the previous step!"
			}
		}
		if errors != nil {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedSequence", reqData)
		return c.Next()
	}
}

func CreateMarketingTag() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(CreateMarketingTagRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		reqData.Slug = strings.ToLower(strings.TrimSpace(reqData.Slug))
		reqData.Description = strings.TrimSpace(reqData.Description)

		if errors := validators.Struct(reqData); errors != nil {
			return middleware.ValidationErrorResponse(c, errors)
		}

		c.Locals("validatedMarketingTag", reqData)
		return c.Next()
	}
}
