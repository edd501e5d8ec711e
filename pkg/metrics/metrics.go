package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Token endpoint exchanges keyed by grant type and outcome
	// (success, invalid_grant, failed, unreachable).
	TokenRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authctl_token_requests_total",
		Help: "Total number of token endpoint requests by grant type and outcome",
	}, []string{"authenticator", "grant_type", "outcome"})
	TokenCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authctl_token_cache_hits_total",
		Help: "Total number of token lookups served from the token store without a network call",
	}, []string{"authenticator"})
	TokenRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authctl_token_request_duration_seconds",
		Help:    "Latency of token endpoint requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"grant_type"})
	UserInfoFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authctl_userinfo_failures_total",
		Help: "Total number of best-effort userinfo lookups that failed",
	})
	AccountsEvicted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authctl_accounts_evicted_total",
		Help: "Total number of accounts removed from the token store by reason",
	}, []string{"reason"})

	// Token store metrics
	StoreOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authctl_tokenstore_operations_total",
		Help: "Total number of token store operations by store type and operation",
	}, []string{"store", "operation"})
	StoreResets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authctl_tokenstore_resets_total",
		Help: "Total number of token files deleted because they could not be decrypted",
	}, []string{"store"})
	StoreFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authctl_tokenstore_fallbacks_total",
		Help: "Total number of times auto store selection skipped a store type",
	}, []string{"skipped", "reason"})
)

func init() {
	prometheus.MustRegister(TokenRequests)
	prometheus.MustRegister(TokenCacheHits)
	prometheus.MustRegister(TokenRequestDuration)
	prometheus.MustRegister(UserInfoFailures)
	prometheus.MustRegister(AccountsEvicted)
	prometheus.MustRegister(StoreOperations)
	prometheus.MustRegister(StoreResets)
	prometheus.MustRegister(StoreFallbacks)
}

// WriteTextfile dumps the default registry in the text exposition format,
// suitable for a node_exporter textfile collector. A CLI process is too short
// lived to be scraped.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
