package catalogRoutes

import (
	controllers "academy/controllers/catalogControllers"
	"academy/middleware"
	validators "academy/validators/catalogValidator"

	"github.com/gofiber/fiber/v2"
)

// SetupCatalogRoutes registers the catalog the automation engine resolves against.
func SetupCatalogRoutes(app *fiber.App) {
	catalogGroup := app.Group("/admin/catalog", middleware.JWTMiddleware, middleware.AdminOnly)

	catalogGroup.Post("/courses", validators.CreateCourse(), controllers.AdminCreateCourse)
	catalogGroup.Get("/courses", controllers.AdminListCourses)

	catalogGroup.Post("/sequences", validators.CreateSequence(), controllers.AdminCreateSequence)
	catalogGroup.Get("/sequences", controllers.AdminListSequences)

	catalogGroup.Post("/marketing-tags", validators.CreateMarketingTag(), controllers.AdminCreateMarketingTag)
	catalogGroup.Get("/marketing-tags", controllers.AdminListMarketingTags)
}
