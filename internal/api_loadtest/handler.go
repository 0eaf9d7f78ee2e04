package api_loadtest

import "github.com/gofiber/fiber/v2"

// Handler is a route group that can attach itself to the router.
type Handler interface {
	RegisterRoutes(router fiber.Router)
}

var handlers []Handler

func registerHandler(h Handler) {
	handlers = append(handlers, h)
}

// RegisterRoutes attaches every registered handler of this package.
func RegisterRoutes(router fiber.Router) {
	for _, h := range handlers {
		h.RegisterRoutes(router)
	}
}
