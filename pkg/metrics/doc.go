// Package metrics defines Prometheus metrics for the authentication engine,
// covering token grants, refreshes, userinfo lookups and token store
// operations.
package metrics
