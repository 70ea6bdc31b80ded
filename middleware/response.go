package middleware

import (
	stderrors "errors"

	"github.com/gofiber/fiber/v2"
	apperrors "github.com/goliatone/go-errors"
)

func JsonResponse(c *fiber.Ctx, statusCode int, status bool, message string, data interface{}) error {
	return c.Status(statusCode).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

func ValidationErrorResponse(c *fiber.Ctx, errors map[string]string) error {
	return JsonResponse(c, fiber.StatusUnprocessableEntity, false, "Validation failed!", errors)
}

// ErrorResponse writes err with the status its category maps to. The data
// field carries the error's text code so clients can branch on it.
func ErrorResponse(c *fiber.Ctx, err error) error {
	status := StatusFor(err)
	message := "Something went wrong!"
	var data interface{}

	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		if status != fiber.StatusInternalServerError {
			message = ge.Message
		}
		if ge.TextCode != "" {
			data = fiber.Map{"code": ge.TextCode}
		}
	}
	return JsonResponse(c, status, false, message, data)
}

// StatusFor maps an error category to an HTTP status.
func StatusFor(err error) int {
	var ge *apperrors.Error
	if !stderrors.As(err, &ge) {
		return fiber.StatusInternalServerError
	}
	switch ge.Category {
	case apperrors.CategoryValidation, apperrors.CategoryBadInput:
		return fiber.StatusUnprocessableEntity
	case apperrors.CategoryAuth:
		return fiber.StatusUnauthorized
	case apperrors.CategoryAuthz:
		return fiber.StatusForbidden
	case apperrors.CategoryNotFound:
		return fiber.StatusNotFound
	case apperrors.CategoryConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
