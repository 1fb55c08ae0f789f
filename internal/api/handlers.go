// Package api exposes the gateway's HTTP surface: the public redirect
// endpoint, a health probe, and a small CORS-enabled operator API.
package api

import (
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/cloak-gateway/internal/blacklist"
	"github.com/ignite/cloak-gateway/internal/clientip"
	"github.com/ignite/cloak-gateway/internal/domain"
	"github.com/ignite/cloak-gateway/internal/engine"
	"github.com/ignite/cloak-gateway/internal/ipcache"
	"github.com/ignite/cloak-gateway/internal/pkg/httputil"
	"github.com/ignite/cloak-gateway/internal/pkg/logger"
	"github.com/ignite/cloak-gateway/internal/redirect"
	"github.com/ignite/cloak-gateway/internal/rewrite"
	"github.com/ignite/cloak-gateway/internal/worker"
)

const (
	cacheControlValue = "no-cache, no-store, must-revalidate"
	robotsTagValue    = "noindex, nofollow, noarchive, nosnippet"
)

// Aggressive SEO crawlers get a flat 403 before the pipeline ever runs;
// they respect X-Robots-Tag and there is no destination we want them at.
var crawlerBlocklist = regexp.MustCompile(`(?i)ahrefsbot|semrushbot|mj12bot|dotbot|blexbot|rogerbot|screaming frog|sitebulb`)

// Handlers carries every component the HTTP layer touches.
type Handlers struct {
	engine    *engine.Engine
	resolver  *redirect.Resolver
	rewriter  *rewrite.Rewriter
	writer    *worker.LogWriter
	blacklist *blacklist.List
	ipCache   *ipcache.Cache

	fallbackURL  string
	startedAt    time.Time
	rangeDeleter RangeDeleter
}

// NewHandlers wires the handler set.
func NewHandlers(
	eng *engine.Engine,
	resolver *redirect.Resolver,
	rewriter *rewrite.Rewriter,
	writer *worker.LogWriter,
	bl *blacklist.List,
	cache *ipcache.Cache,
	fallbackURL string,
) *Handlers {
	return &Handlers{
		engine:      eng,
		resolver:    resolver,
		rewriter:    rewriter,
		writer:      writer,
		blacklist:   bl,
		ipCache:     cache,
		fallbackURL: fallbackURL,
		startedAt:   time.Now(),
	}
}

// HandleRedirect serves GET /r/{idAndSuffix}: classify, rewrite, 302.
// The link is user-facing, so internal failures fall back to a 302 at the
// configured fallback URL instead of a 5xx.
func (h *Handlers) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("redirect handler panic", "panic", rec)
			h.fallback(w, r)
		}
	}()

	ua := r.Header.Get("User-Agent")
	if crawlerBlocklist.MatchString(ua) {
		w.Header().Set("X-Robots-Tag", robotsTagValue)
		httputil.Error(w, http.StatusForbidden, "Forbidden")
		return
	}

	raw := chi.URLParam(r, "idAndSuffix")
	if r.URL.RawQuery != "" {
		raw += "?" + r.URL.RawQuery
	}
	publicID, suffix := rewrite.SplitID(raw)

	rec, err := h.resolver.Lookup(r.Context(), publicID)
	switch {
	case err == nil:
	case err == redirect.ErrNotFound:
		httputil.NotFound(w, "Redirect not found")
		return
	case err == redirect.ErrDisabled:
		httputil.Gone(w, "Redirect disabled")
		return
	default:
		logger.Error("redirect lookup failed", "public_id", publicID, "err", err.Error())
		h.fallback(w, r)
		return
	}

	ip := clientip.FromRequest(r)
	verdict := h.engine.Decide(r.Context(), ip, ua)

	result := h.rewriter.Rewrite(rec.DestinationFor(verdict.Classification), suffix, verdict.IsBot())

	h.enqueueLogs(rec, ip, ua, verdict, result)

	w.Header().Set("Cache-Control", cacheControlValue)
	w.Header().Set("X-Robots-Tag", robotsTagValue)
	http.Redirect(w, r, result.Destination, http.StatusFound)
}

func (h *Handlers) enqueueLogs(rec *domain.Redirect, ip, ua string, v domain.Verdict, res rewrite.Result) {
	now := time.Now().UTC()
	redirectID := rec.ID

	h.writer.EnqueueVisitor(&domain.VisitorLog{
		ID:             uuid.NewString(),
		RedirectID:     &redirectID,
		IP:             ip,
		Country:        v.Country,
		City:           v.City,
		ISP:            v.ISP,
		UserAgent:      ua,
		Browser:        v.Browser,
		Device:         v.Device,
		Classification: v.Classification,
		Trust:          v.Trust,
		Reason:         v.Reason,
		RedirectedTo:   res.Destination,
		Timestamp:      now,
	})

	h.writer.EnqueueRealtime(&domain.RealtimeEvent{
		ID:             uuid.NewString(),
		RedirectID:     &redirectID,
		IP:             ip,
		Country:        v.Country,
		UserAgent:      ua,
		Classification: v.Classification,
		Reason:         v.Reason,
		Timestamp:      now,
	})

	if !v.IsBot() && res.CapturedEmail != "" {
		h.writer.EnqueueEmail(&domain.CapturedEmail{
			ID:              uuid.NewString(),
			Email:           res.CapturedEmail,
			ParameterFormat: res.ParameterFormat,
			RedirectID:      &redirectID,
			IP:              ip,
			Country:         v.Country,
			Timestamp:       now,
		})
	}
}

func (h *Handlers) fallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", cacheControlValue)
	w.Header().Set("X-Robots-Tag", robotsTagValue)
	http.Redirect(w, r, h.fallbackURL, http.StatusFound)
}

// HandleHealth serves GET /health with per-component stats.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status":  "healthy",
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": "1.0",
		"components": map[string]any{
			"blacklist":      h.blacklist.Stats(),
			"ip_cache":       map[string]any{"entries": h.ipCache.Len()},
			"redirect_cache": h.resolver.Stats(),
			"log_writer":     h.writer.Stats(),
		},
	})
}
