package config

// Constants defining default values for application configuration
const (
	DefaultDBPath       = "./feedhub.db"
	DefaultFeedsCSVPath = "./feeds.csv"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultParallelism = 10 // Simultaneous outbound feed fetches

	// Cache-duration bounds, in seconds. The per-feed override and the
	// default are always clamped into [min, max].
	DefaultCacheDurationSecs    = 800
	DefaultCacheDurationMinSecs = 60
	DefaultCacheDurationMaxSecs = 86400

	DefaultFetchTimeoutSecs = 20
	DefaultMaxRedirects     = 5
	DefaultMaxBodyBytes     = 8 << 20 // Per-fetch document size cap
	DefaultMaxEntries       = 500     // Per-fetch entry count cap

	DefaultMaxFeeds      = 131072
	DefaultMaxCategories = 16384

	DefaultErrorThreshold = 10 // Consecutive errors before a feed is degraded

	DefaultInterval      = 15 // Minutes between refresh cycles
	DefaultCycleTimeout  = 30 // Minutes before an in-flight cycle is abandoned
	DefaultRetentionDays = 0  // 0 disables entry purging

	DefaultPushEnabled      = true
	DefaultPushLeaseSeconds = 86400

	DefaultAuthMode = "form"
	DefaultLogLevel = "info"
)

// DefaultTrustedProxies lists the sources whose forwarded-for headers are
// honored on the push callback.
var DefaultTrustedProxies = []string{"127.0.0.0/8", "::1/128"}
