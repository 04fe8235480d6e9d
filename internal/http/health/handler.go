package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	applog "github.com/yiroma/budgetmanagement/internal/platform/logging"
	"github.com/yiroma/budgetmanagement/internal/platform/timeutil"
)

// Response is the payload for the health endpoint.
type Response struct {
	Status    string        `json:"status"`
	Timestamp timeutil.Time `json:"timestamp"`
}

// Handler is a plain HTTP liveness probe. It never touches persistence.
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(Response{Status: "healthy", Timestamp: timeutil.Now()}); err != nil {
		applog.LogWarn(r.Context(), "failed to write health response", zap.Error(err))
	}
}
