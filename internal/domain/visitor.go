package domain

import "time"

// VisitorLog is one append-only row per served redirect.
type VisitorLog struct {
	ID             string         `json:"id" db:"id"`
	RedirectID     *int64         `json:"redirect_id" db:"redirect_id"`
	IP             string         `json:"ip" db:"ip"`
	Country        string         `json:"country" db:"country"`
	City           string         `json:"city" db:"city"`
	ISP            string         `json:"isp" db:"isp"`
	UserAgent      string         `json:"user_agent" db:"user_agent"`
	Browser        string         `json:"browser" db:"browser"`
	Device         string         `json:"device" db:"device"`
	Classification Classification `json:"classification" db:"classification"`
	Trust          TrustLevel     `json:"trust_level" db:"trust_level"`
	Reason         string         `json:"reason" db:"reason"`
	RedirectedTo   string         `json:"redirected_to" db:"redirected_to"`
	Timestamp      time.Time      `json:"ts" db:"ts"`
}

// RealtimeEvent mirrors VisitorLog minus the destination; the store keeps
// only the most recent 1000 rows.
type RealtimeEvent struct {
	ID             string         `json:"id" db:"id"`
	RedirectID     *int64         `json:"redirect_id" db:"redirect_id"`
	IP             string         `json:"ip" db:"ip"`
	Country        string         `json:"country" db:"country"`
	UserAgent      string         `json:"user_agent" db:"user_agent"`
	Classification Classification `json:"classification" db:"classification"`
	Reason         string         `json:"reason" db:"reason"`
	Timestamp      time.Time      `json:"ts" db:"ts"`
}

// CapturedEmail records an email parsed from the suffix of a HUMAN request.
type CapturedEmail struct {
	ID              string    `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	ParameterFormat string    `json:"parameter_format" db:"parameter_format"`
	RedirectID      *int64    `json:"redirect_id" db:"redirect_id"`
	IP              string    `json:"ip" db:"ip"`
	Country         string    `json:"country" db:"country"`
	Timestamp       time.Time `json:"ts" db:"ts"`
}

// IPCacheEntry is a persisted BOT conviction for a single IP. Only BOT
// rows exist in the cache; HUMAN verdicts are never stored.
type IPCacheEntry struct {
	IP        string     `json:"ip" db:"ip"`
	Reason    string     `json:"reason" db:"reason"`
	Trust     TrustLevel `json:"trust_level" db:"trust_level"`
	Country   string     `json:"country" db:"country"`
	Region    string     `json:"region" db:"region"`
	City      string     `json:"city" db:"city"`
	ISP       string     `json:"isp" db:"isp"`
	UsageType string     `json:"usage_type" db:"usage_type"`
	CachedAt  time.Time  `json:"cached_at" db:"cached_at"`
	LastHit   time.Time  `json:"last_hit" db:"last_hit"`
	HitCount  int64      `json:"hit_count" db:"hit_count"`
}

// ISPRule is a read-only row from isp_configs: a substring match on the
// provider-reported ISP name forcing a classification.
type ISPRule struct {
	Pattern        string         `json:"pattern" db:"pattern"`
	Classification Classification `json:"classification" db:"classification"`
	Reason         string         `json:"reason" db:"reason"`
}

// UAPattern is a read-only row from user_agent_patterns merged into the
// stage-1 signature lists.
type UAPattern struct {
	Pattern  string `json:"pattern" db:"pattern"`
	Category string `json:"category" db:"category"`
	Reason   string `json:"reason" db:"reason"`
}
