package hello

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	applog "github.com/yiroma/budgetmanagement/internal/platform/logging"
)

// Register wires the greeting route into the provided API router. Only GET
// is registered; every other method falls through to the router's 405.
func Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-hello",
		Method:      http.MethodGet,
		Path:        "/hello",
		Summary:     "Get the greeting",
		Description: "Returns a static plain-text greeting. Query parameters and headers are ignored.",
		Tags:        []string{"Greeting"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Greeting",
				Content: map[string]*huma.MediaType{
					"text/plain": {
						Schema: &huma.Schema{
							Type:     huma.TypeString,
							Examples: []any{Greeting},
						},
					},
				},
			},
		},
	}, getHandler)
}

func getHandler(ctx context.Context, _ *struct{}) (*GetOutput, error) {
	applog.LogInfo(ctx, "hello get", zap.String("path", "/hello"))
	return &GetOutput{
		ContentType: contentTypeText,
		Body:        []byte(Greeting),
	}, nil
}
