package health

import "time"

// Status levels reported by components. Degraded means running but
// impaired, for example a bridge that is up while its bus connection
// reconnects.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

func newStatus(component, level string, healthy bool, message string) Status {
	return Status{
		Component: component,
		Healthy:   healthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy builds a healthy status stamped with the current time.
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, true, message)
}

// NewUnhealthy builds an unhealthy status stamped with the current time.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, false, message)
}

// NewDegraded builds a degraded status stamped with the current time.
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, false, message)
}

// Aggregate folds subStatuses into a single status for component. Any
// unhealthy member makes the aggregate unhealthy; failing that, any
// degraded member makes it degraded. An empty slice counts as healthy so
// a process with nothing registered yet does not page anyone.
func Aggregate(component string, subStatuses []Status) Status {
	worst := StatusHealthy
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			worst = StatusUnhealthy
		case sub.IsDegraded() && worst == StatusHealthy:
			worst = StatusDegraded
		}
	}

	var agg Status
	switch worst {
	case StatusUnhealthy:
		agg = NewUnhealthy(component, "At least one component is unhealthy")
	case StatusDegraded:
		agg = NewDegraded(component, "At least one component is degraded")
	default:
		agg = NewHealthy(component, "All components healthy")
	}
	if len(subStatuses) == 0 {
		agg.Message = "No components registered"
	}

	agg.SubStatuses = append([]Status(nil), subStatuses...)
	return agg
}
