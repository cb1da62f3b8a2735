package engine

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(app *fiber.App, h *Handler) {
	api := app.Group("/api")

	api.Get("/fields", h.ListFields)
	api.Post("/fields", h.CreateField)
	api.Put("/fields/:id", h.UpdateField)

	api.Get("/objects", h.ListObjects)
	api.Get("/objects/:id", h.GetObject)
	api.Post("/objects", h.CreateObject)
	api.Put("/objects/:id", h.UpdateObject)
	api.Delete("/objects/:id", h.DeleteObject)

	api.Get("/rules", h.ListRules)
	api.Get("/rules/:id", h.GetRule)
	api.Post("/rules", h.CreateRule)
	api.Put("/rules/:id", h.UpdateRule)
	api.Delete("/rules/:id", h.DeleteRule)

	api.Get("/keys", h.ListKeys)
	api.Get("/keys/:rule_id/:object_id", h.GetKey)
}
