package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the payload served on /health and /ready.
type HealthStatus struct {
	Status         string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp      time.Time         `json:"timestamp"`
	Components     map[string]string `json:"components,omitempty"`
	SessionsHalted int               `json:"sessions_halted,omitempty"`
	Message        string            `json:"message,omitempty"`
	Version        string            `json:"version,omitempty"`
	Uptime         string            `json:"uptime,omitempty"`
	StartTime      time.Time         `json:"-"`
}

var (
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
)

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker aggregates component health and the set of sessions
// halted on corrupt event logs.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	halted     map[string]struct{}
	startTime  time.Time
	version    string
}

// Components whose absence or failure makes the process not ready to
// take traffic.
var criticalComponents = []string{"store", "engine", "server"}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent registers a component for health checking
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent records a component's new health state.
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// ReportSessionHalted records a session halted on a corrupt event log.
// Halted sessions degrade health but never flip readiness: the process
// keeps serving every other session.
func ReportSessionHalted(sessionID string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	if healthChecker.halted == nil {
		healthChecker.halted = make(map[string]struct{})
	}
	healthChecker.halted[sessionID] = struct{}{}
	SessionsHalted.Set(float64(len(healthChecker.halted)))
}

// GetHealth returns the overall health status. A failed component makes
// the process unhealthy; halted sessions alone make it degraded.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "healthy"
	message := ""
	components := make(map[string]string)

	for name, comp := range healthChecker.components {
		if !comp.Healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		} else {
			components[name] = "healthy"
		}
	}

	if n := len(healthChecker.halted); n > 0 && status == "healthy" {
		status = "degraded"
		message = fmt.Sprintf("%d session(s) halted on corrupt event logs", n)
	}

	uptime := time.Since(healthChecker.startTime)

	return HealthStatus{
		Status:         status,
		Timestamp:      time.Now(),
		Components:     components,
		SessionsHalted: len(healthChecker.halted),
		Message:        message,
		Version:        healthChecker.version,
		Uptime:         uptime.String(),
		StartTime:      healthChecker.startTime,
	}
}

// GetReadiness reports whether every critical component is up. Halted
// sessions are surfaced for visibility but do not affect readiness.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	for _, name := range criticalComponents {
		comp, exists := healthChecker.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = "ready"
		}
	}

	uptime := time.Since(healthChecker.startTime)

	return HealthStatus{
		Status:         status,
		Timestamp:      time.Now(),
		Components:     components,
		SessionsHalted: len(healthChecker.halted),
		Message:        message,
		Version:        healthChecker.version,
		Uptime:         uptime.String(),
		StartTime:      healthChecker.startTime,
	}
}

// HealthHandler returns the HTTP handler for the /health endpoint.
// Degraded is not an outage: only "unhealthy" answers 503.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler returns the HTTP handler for the /ready endpoint.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler answers 200 whenever the process is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
