package tagRoutes

import (
	controllers "academy/controllers/tagControllers"
	"academy/middleware"
	validators "academy/validators/tagValidator"

	"github.com/gofiber/fiber/v2"
)

// SetupTagRoutes registers the admin tag endpoints.
func SetupTagRoutes(app *fiber.App, tc *controllers.TagController) {
	tagGroup := app.Group("/admin/tags", middleware.JWTMiddleware, middleware.AdminOnly)

	tagGroup.Post("/", validators.GrantTag(), tc.GrantTag)
	tagGroup.Get("/", tc.ListTags)
	tagGroup.Delete("/:id", validators.TagID(), tc.DeleteTag)

	userGroup := app.Group("/admin/users", middleware.JWTMiddleware, middleware.AdminOnly)
	userGroup.Get("/:user_id/tags", validators.UserID(), tc.ListUserTags)
}
