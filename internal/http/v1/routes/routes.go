package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/yiroma/budgetmanagement/internal/http/v1/hello"
)

// Register wires all versioned HTTP routes into the provided API router.
func Register(api huma.API) {
	hello.Register(api)
}
