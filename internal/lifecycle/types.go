package lifecycle

// Status values reported by the health endpoints.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Phase is the coarse lifecycle position of the service.
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseLive     Phase = "live"
	PhaseDraining Phase = "draining"
	PhaseStopped  Phase = "stopped"
	PhaseFailed   Phase = "failed"
)

// ProbeResult is returned by RunDeepHealth for each dependency.
type ProbeResult struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}
