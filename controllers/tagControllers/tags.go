package tagControllers

import (
	"academy/automation"
	"academy/middleware"
	tagValidator "academy/validators/tagValidator"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type TagController struct {
	Engine *automation.Engine
	Log    *zap.Logger
}

func NewTagController(engine *automation.Engine, log *zap.Logger) *TagController {
	return &TagController{Engine: engine, Log: log.Named("tags-api")}
}

// GrantTag records a tag against a user and runs its automation. The body is
// the grant summary itself: 200 on success, 500 with the same summary when a
// required action failed, 409 when a strict tag is already present.
func (tc *TagController) GrantTag(c *fiber.Ctx) error {
	adminID, ok := c.Locals("userId").(uint)
	if !ok {
		return middleware.JsonResponse(c, fiber.StatusUnauthorized, false, "Unauthorized!", nil)
	}
	reqData := c.Locals("grantTag").(*tagValidator.GrantTagRequest)
	userID := c.Locals("grantUserID").(uint)

	result, err := tc.Engine.GrantTag(c.UserContext(), automation.GrantRequest{
		UserID:    userID,
		Tag:       reqData.Tag,
		Value:     reqData.Value,
		GrantedBy: adminID,
	})
	if err == nil {
		return c.Status(fiber.StatusOK).JSON(result)
	}

	switch automation.ErrorCode(err) {
	case automation.ErrCodeTagExists:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success":   false,
			"message":   "Tag already exists for this user!",
			"code":      automation.ErrCodeTagExists,
			"requestId": result.RequestID,
			"tag":       result.Tag,
		})
	case automation.ErrCodeActionFailed:
		return c.Status(fiber.StatusInternalServerError).JSON(result)
	}

	if middleware.StatusFor(err) == fiber.StatusInternalServerError {
		tc.Log.Error("tag grant failed", zap.Uint("user_id", userID), zap.String("tag", reqData.Tag), zap.Error(err))
	}
	return middleware.ErrorResponse(c, err)
}

// ListTags returns autocomplete suggestions for the admin UI.
func (tc *TagController) ListTags(c *fiber.Ctx) error {
	tags, err := tc.Engine.Tags().Suggestions(c.UserContext())
	if err != nil {
		tc.Log.Error("listing tag suggestions", zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch tags!", nil)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Tags fetched successfully!", fiber.Map{
		"tags":  tags,
		"total": len(tags),
	})
}

// DeleteTag removes one tag row. Enrollments, purchases and lifecycle stage
// are left as they are.
func (tc *TagController) DeleteTag(c *fiber.Ctx) error {
	tagID := c.Locals("tagID").(uint)

	row, err := tc.Engine.Tags().Delete(c.UserContext(), tagID)
	if err != nil {
		if middleware.StatusFor(err) == fiber.StatusInternalServerError {
			tc.Log.Error("deleting tag", zap.Uint("tag_id", tagID), zap.Error(err))
		}
		return middleware.ErrorResponse(c, err)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "Tag deleted successfully!", row)
}

func (tc *TagController) ListUserTags(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	tags, err := tc.Engine.Tags().ListForUser(c.UserContext(), userID)
	if err != nil {
		tc.Log.Error("listing user tags", zap.Uint("user_id", userID), zap.Error(err))
		return middleware.JsonResponse(c, fiber.StatusInternalServerError, false, "Failed to fetch tags!", nil)
	}
	return middleware.JsonResponse(c, fiber.StatusOK, true, "User tags fetched successfully!", tags)
}
