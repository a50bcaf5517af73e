package health

import (
	"context"
	"runtime/debug"

	"github.com/saiset-co/sai-desa/types"
)

// StorageChecker pings the cache store.
func StorageChecker(store types.Store) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		if err := store.Ping(ctx); err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: err.Error(),
				Details: map[string]interface{}{"type": store.Type()},
			}
		}

		return types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: map[string]interface{}{"type": store.Type()},
		}
	}
}

// BackendChecker reports the backend circuit breaker. An open breaker means
// the portal is serving from cache only.
func BackendChecker(client types.HTTPClient) types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		state := client.BreakerState()

		check := types.HealthCheck{
			Status:  types.StatusHealthy,
			Details: map[string]interface{}{"breaker": state},
		}

		switch state {
		case "open":
			check.Status = types.StatusUnhealthy
			check.Message = "backend circuit breaker open"
		case "half-open":
			check.Status = types.StatusUnknown
			check.Message = "backend recovering"
		}

		return check
	}
}

func buildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	revision, modified := "", false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}

	if len(revision) > 7 {
		revision = revision[:7]
	}
	if revision == "" {
		revision = "dev"
	}
	if modified {
		revision += "-dirty"
	}

	return info.GoVersion + " " + revision
}
