package api

import (
	"net/http"
	"time"

	"wmsdispatch/internal/buildinfo"
	"wmsdispatch/internal/config"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	c := s.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"ENVIRONMENT":                  c.Environment,
			"PORT":                         c.Port,
			"AUTH_MODE":                    c.AuthMode,
			"ALLOW_ORIGINS":                c.AllowOrigins,
			"RATE_RPS":                     c.RateRPS,
			"RATE_BURST":                   c.RateBurst,
			"WEBHOOK_MAX_ATTEMPTS":         c.WebhookMaxAttempts,
			"PLANNER_MODE":                 c.PlannerMode,
			"PLANNER_ESTIMATOR":            c.PlannerEstimator,
			"PLANNER_MAX_TASKS_PER_WORKER": c.PlannerMaxTasksPerWorker,
			"PLANNER_BATCH_RESPECT_LOAD":   c.PlannerBatchRespectLoad,
			"DISPATCH_SCHEDULE":            c.DispatchSchedule,
			"DATABASE":                     maskedDatabase(c.DatabaseURL),
			"HAS_REDIS_URL":                c.RedisURL != "",
		},
	})
}

func maskedDatabase(dsn string) string {
	if dsn == "" {
		return "memory"
	}
	return config.MaskDatabaseURL(dsn)
}
