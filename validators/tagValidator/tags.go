package tagValidator

import (
	"academy/middleware"
	"academy/validators"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GrantTagRequest is the body of POST /admin/tags.
type GrantTagRequest struct {
	UserID string  `json:"userId" validate:"required,numeric"`
	Tag    string  `json:"tag" validate:"required,max=255"`
	Value  *string `json:"value" validate:"omitempty,max=1000"`
}

// GrantTag parses and validates the grant body. The validated request and
// the numeric user id are stored as "grantTag" and "grantUserID".
func GrantTag() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqData := new(GrantTagRequest)
		if err := c.BodyParser(reqData); err != nil {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid request body!", nil)
		}

		reqData.UserID = strings.TrimSpace(reqData.UserID)
		reqData.Tag = strings.TrimSpace(reqData.Tag)

		if errors := validators.Struct(reqData); errors != nil {
			return middleware.ValidationErrorResponse(c, errors)
		}

		userID, err := strconv.ParseUint(reqData.UserID, 10, 64)
		if err != nil || userID == 0 {
			return middleware.ValidationErrorResponse(c, map[string]string{"userId": "userId must be a positive integer!"})
		}

		c.Locals("grantTag", reqData)
		c.Locals("grantUserID", uint(userID))
		return c.Next()
	}
}

// TagID validates the :id path parameter.
func TagID() fiber.Handler {
	return idParam("id", "tagID", "Tag ID")
}

// UserID validates the :user_id path parameter.
func UserID() fiber.Handler {
	return idParam("user_id", "userID", "User ID")
}

func idParam(param, local, label string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Params(param))
		if raw == "" {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, label+" is required!", nil)
		}

		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return middleware.JsonResponse(c, fiber.StatusBadRequest, false, "Invalid "+label+"!", nil)
		}

		c.Locals(local, uint(id))
		return c.Next()
	}
}
