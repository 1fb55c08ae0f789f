package domain

// Classification is the final verdict class for a request.
type Classification string

const (
	ClassHuman Classification = "HUMAN"
	ClassBot   Classification = "BOT"
)

// TrustLevel is a coarse annotation on HUMAN verdicts describing which
// override produced them. BOT verdicts always carry TrustNone.
type TrustLevel string

const (
	TrustHigh TrustLevel = "high"
	TrustLow  TrustLevel = "low"
	TrustNone TrustLevel = "none"
)

// Pipeline stages. Stage ordering is part of the contract: a terminal
// verdict at an earlier stage must never be revisited by a later one.
const (
	StageBlacklist = 0
	StageUserAgent = 1
	StageIPIntel   = 2
)

// Reason codes emitted by the decision engine.
const (
	ReasonNoUserAgent     = "NO_USER_AGENT"
	ReasonHeadlessBrowser = "HEADLESS_BROWSER"
	ReasonGenericBot      = "GENERIC_BOT"
	ReasonSocialPreview   = "SOCIAL_PREVIEW_BOT"
	ReasonSearchEngine    = "SEARCH_ENGINE_BOT"
	ReasonUnknownBrowser  = "UNKNOWN_BROWSER"
	ReasonUnknownDevice   = "UNKNOWN_DEVICE"
	ReasonIPLookupFailed  = "IP_LOOKUP_FAILED"
	ReasonDatacenterUsage = "DATACENTER_USAGE_TYPE"
	ReasonDatacenterAds   = "DATACENTER_ADS_CATEGORY"
	ReasonProxyFlag       = "PROXY_OR_SCANNER"
	ReasonCachedBot       = "CACHED_BOT"
	ReasonISPRule         = "ISP_RULE"
	ReasonClean           = "CLEAN"
)

// Verdict is the outcome of the decision pipeline for one request.
type Verdict struct {
	Classification Classification `json:"classification"`
	Stage          int            `json:"stage"`
	Reason         string         `json:"reason"`
	Trust          TrustLevel     `json:"trust"`

	// Stage-2 metadata, carried for logging and cache rows. Empty when
	// the pipeline terminated before the intelligence lookup.
	Country   string `json:"country,omitempty"`
	Region    string `json:"region,omitempty"`
	City      string `json:"city,omitempty"`
	ISP       string `json:"isp,omitempty"`
	UsageType string `json:"usage_type,omitempty"`

	// Parsed UA details from stage 1.
	Browser string `json:"browser,omitempty"`
	Device  string `json:"device,omitempty"`
}

// IsBot reports whether the verdict convicted the request.
func (v Verdict) IsBot() bool { return v.Classification == ClassBot }
