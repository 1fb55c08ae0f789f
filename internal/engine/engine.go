// Package engine composes blacklist, UA classification, and IP
// intelligence into a single verdict per request. Stage order is strict:
// a terminal at an earlier stage is never revisited, and any ambiguity
// resolves to HUMAN.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/cloak-gateway/internal/blacklist"
	"github.com/ignite/cloak-gateway/internal/classify"
	"github.com/ignite/cloak-gateway/internal/clientip"
	"github.com/ignite/cloak-gateway/internal/domain"
	"github.com/ignite/cloak-gateway/internal/intel"
	"github.com/ignite/cloak-gateway/internal/ipcache"
	"github.com/ignite/cloak-gateway/internal/pkg/logger"
)

// IntelClient is the stage-2 lookup dependency.
type IntelClient interface {
	Lookup(ctx context.Context, ip string) (*intel.Info, error)
}

// RuleSource feeds the ISP override table, refreshed out of band.
type RuleSource interface {
	ISPRules() []domain.ISPRule
}

// RangeMirror receives best-effort copies of auto-added blacklist rows.
type RangeMirror interface {
	UpsertRange(ctx context.Context, e blacklist.Entry) error
}

// Usage types treated as consumer space; everything else is either
// datacenter-class or unknown.
var consumerUsageTypes = map[string]bool{
	"ISP": true, "MOB": true, "COM": true, "ORG": true,
	"EDU": true, "GOV": true, "MIL": true, "LIB": true,
}

var datacenterUsageTypes = map[string]bool{
	"RSV": true, "SES": true, "DCH": true, "CDN": true,
}

// Engine runs the S0→S3 pipeline.
type Engine struct {
	blacklist  *blacklist.List
	classifier *classify.Classifier
	cache      *ipcache.Cache
	intel      IntelClient
	rules      RuleSource  // optional
	ranges     RangeMirror // optional
}

// New wires the pipeline. rules and ranges may be nil.
func New(bl *blacklist.List, cl *classify.Classifier, cache *ipcache.Cache, ic IntelClient, rules RuleSource, ranges RangeMirror) *Engine {
	return &Engine{
		blacklist:  bl,
		classifier: cl,
		cache:      cache,
		intel:      ic,
		rules:      rules,
		ranges:     ranges,
	}
}

// Decide classifies one request. ip is the already-extracted client IP;
// ua the raw User-Agent header.
func (e *Engine) Decide(ctx context.Context, ip, ua string) domain.Verdict {
	// Loopback traffic is local testing; it is never classified, cached,
	// or blacklisted.
	if clientip.IsLoopback(ip) {
		return domain.Verdict{
			Classification: domain.ClassHuman,
			Stage:          domain.StageBlacklist,
			Reason:         domain.ReasonClean,
			Trust:          domain.TrustHigh,
		}
	}

	// S0: blacklist membership. Terminal BOT without any provider call.
	if entry, hit := e.blacklist.Contains(ip); hit {
		return domain.Verdict{
			Classification: domain.ClassBot,
			Stage:          domain.StageBlacklist,
			Reason:         fmt.Sprintf("blacklist:%s", entry.CIDR),
			Trust:          domain.TrustNone,
			Country:        entry.Country,
			ISP:            entry.ISP,
			UsageType:      entry.UsageType,
		}
	}

	// S1: signature-based UA classification.
	uaRes := e.classifier.Classify(ua)
	if uaRes.Bot {
		v := domain.Verdict{
			Classification: domain.ClassBot,
			Stage:          domain.StageUserAgent,
			Reason:         uaRes.Reason,
			Trust:          domain.TrustNone,
			Browser:        uaRes.Browser,
			Device:         uaRes.Device,
		}
		e.convict(ctx, ip, &v)
		return v
	}

	// S2: cached conviction, then the provider.
	if entry, err := e.cache.Get(ctx, ip); err == nil {
		reason := entry.Reason
		if reason == "" {
			reason = domain.ReasonCachedBot
		}
		return domain.Verdict{
			Classification: domain.ClassBot,
			Stage:          domain.StageIPIntel,
			Reason:         reason,
			Trust:          domain.TrustNone,
			Country:        entry.Country,
			Region:         entry.Region,
			City:           entry.City,
			ISP:            entry.ISP,
			UsageType:      entry.UsageType,
			Browser:        uaRes.Browser,
			Device:         uaRes.Device,
		}
	}

	info, err := e.intel.Lookup(ctx, ip)
	if err != nil {
		logger.Warn("ip intelligence lookup failed", "ip", ip, "err", err.Error())
		return domain.Verdict{
			Classification: domain.ClassHuman,
			Stage:          domain.StageIPIntel,
			Reason:         domain.ReasonIPLookupFailed,
			Trust:          domain.TrustLow,
			Browser:        uaRes.Browser,
			Device:         uaRes.Device,
		}
	}

	v := e.evaluate(info)
	v.Browser = uaRes.Browser
	v.Device = uaRes.Device
	if v.IsBot() {
		e.convict(ctx, ip, &v)
	}
	return v
}

// evaluate applies the stage-2 rule set to a provider response. Override
// order and conviction order are both load-bearing; reordering changes
// verdicts.
func (e *Engine) evaluate(info *intel.Info) domain.Verdict {
	v := domain.Verdict{
		Stage:     domain.StageIPIntel,
		Country:   info.CountryName,
		Region:    info.RegionName,
		City:      info.CityName,
		ISP:       info.ISP,
		UsageType: strings.ToUpper(info.UsageType),
	}

	// Overrides, first match wins.
	switch {
	case info.ConsumerPrivacyNetwork():
		return human(v, domain.TrustHigh, domain.ReasonClean)
	case strings.Contains(strings.ToLower(info.ISP), "icloud private relay"):
		return human(v, domain.TrustHigh, domain.ReasonClean)
	case info.ProxyType() == "RES":
		return human(v, domain.TrustHigh, domain.ReasonClean)
	case info.ResidentialProxy() &&
		usageIn(v.UsageType, consumerUsageTypes) &&
		// A missing proxy block means no dc/vpn flag is set.
		!(info.Proxy != nil && (info.Proxy.IsDataCenter || info.Proxy.IsVPN)):
		return human(v, domain.TrustLow, domain.ReasonClean)
	}

	// Operator ISP rules sit between the overrides and the built-in
	// convictions; first substring match wins.
	if e.rules != nil {
		ispLower := strings.ToLower(info.ISP)
		for _, r := range e.rules.ISPRules() {
			if r.Pattern == "" || !strings.Contains(ispLower, strings.ToLower(r.Pattern)) {
				continue
			}
			reason := r.Reason
			if reason == "" {
				reason = domain.ReasonISPRule
			}
			if r.Classification == domain.ClassBot {
				return bot(v, reason)
			}
			return human(v, domain.TrustHigh, reason)
		}
	}

	// Convictions, first match wins. is_proxy and fraud_score are
	// recorded upstream but never consulted here.
	switch {
	case usageIn(v.UsageType, datacenterUsageTypes):
		return bot(v, domain.ReasonDatacenterUsage)
	case strings.EqualFold(info.AdsCategoryName, "data centers"):
		return bot(v, domain.ReasonDatacenterAds)
	case info.Proxy != nil && (info.ProxyType() == "DCH" ||
		info.Proxy.IsVPN || info.Proxy.IsDataCenter ||
		info.Proxy.IsPublicProxy || info.Proxy.IsWebProxy ||
		info.Proxy.IsWebCrawler || info.Proxy.IsScanner):
		return bot(v, domain.ReasonProxyFlag)
	}

	return human(v, domain.TrustHigh, domain.ReasonClean)
}

func human(v domain.Verdict, trust domain.TrustLevel, reason string) domain.Verdict {
	v.Classification = domain.ClassHuman
	v.Trust = trust
	v.Reason = reason
	return v
}

func bot(v domain.Verdict, reason string) domain.Verdict {
	v.Classification = domain.ClassBot
	v.Trust = domain.TrustNone
	v.Reason = reason
	return v
}

// usageIn handles composite usage types like "ISP/MOB".
func usageIn(usageType string, set map[string]bool) bool {
	for _, part := range strings.Split(usageType, "/") {
		if set[strings.TrimSpace(part)] {
			return true
		}
	}
	return false
}

// convict records a BOT verdict at stages 1 and 2: IP-cache row plus the
// auto-widened blacklist range, both before the verdict is returned so
// the very next request from this IP short-circuits at S0.
func (e *Engine) convict(ctx context.Context, ip string, v *domain.Verdict) {
	usage := v.UsageType
	if usage == "" {
		usage = "UNKNOWN"
	}

	entry := &domain.IPCacheEntry{
		IP:        ip,
		Reason:    v.Reason,
		Trust:     domain.TrustNone,
		Country:   v.Country,
		Region:    v.Region,
		City:      v.City,
		ISP:       v.ISP,
		UsageType: usage,
	}
	if err := e.cache.Put(ctx, entry); err != nil {
		logger.Warn("conviction cache write failed", "ip", ip, "err", err.Error())
	}

	cidr, added := e.blacklist.Add(ip, domain.Verdict{
		Reason:    v.Reason,
		UsageType: usage,
		Country:   v.Country,
		ISP:       v.ISP,
	})
	if added && e.ranges != nil {
		mirrorCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		row := blacklist.Entry{
			CIDR:      cidr,
			OriginIP:  ip,
			Reason:    v.Reason,
			UsageType: usage,
			Country:   v.Country,
			ISP:       v.ISP,
			AddedBy:   blacklist.AddedAuto,
			AddedAt:   time.Now().UTC(),
		}
		if err := e.ranges.UpsertRange(mirrorCtx, row); err != nil {
			logger.Debug("blacklist mirror write failed", "cidr", cidr, "err", err.Error())
		}
	}
}
