// metrics.go -- Prometheus counters for auth decisions.
package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var bearerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatekeeper_bearer_decisions_total",
	Help: "Bearer guard outcomes by result (allowed, malformed, rejected, unreachable)",
}, []string{"result"})

var loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gatekeeper_logins_total",
	Help: "Completed login callbacks by result (authenticated, denied)",
}, []string{"result"})

var usersCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gatekeeper_users_created_total",
	Help: "Local users created on first login",
})
