package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/cloak-gateway/internal/pkg/httputil"
)

// RangeDeleter removes mirrored blacklist rows; nil when the mirror is
// disabled.
type RangeDeleter interface {
	DeleteRange(ctx context.Context, cidr string) error
}

// SetRangeDeleter wires the optional Postgres mirror for removals.
func (h *Handlers) SetRangeDeleter(d RangeDeleter) { h.rangeDeleter = d }

// AdminListBlacklist serves GET /admin/blacklist.
func (h *Handlers) AdminListBlacklist(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"ranges": h.blacklist.List(),
		"stats":  h.blacklist.Stats(),
	})
}

// AdminBlacklistStats serves GET /admin/blacklist/stats.
func (h *Handlers) AdminBlacklistStats(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, h.blacklist.Stats())
}

// AdminRemoveRange serves DELETE /admin/blacklist/{cidr}. The CIDR is the
// trailing wildcard because it contains a slash.
func (h *Handlers) AdminRemoveRange(w http.ResponseWriter, r *http.Request) {
	cidr := chi.URLParam(r, "*")
	if cidr == "" {
		httputil.BadRequest(w, "missing cidr")
		return
	}
	if !h.blacklist.Remove(cidr) {
		httputil.NotFound(w, "range not found")
		return
	}
	if h.rangeDeleter != nil {
		if err := h.rangeDeleter.DeleteRange(r.Context(), cidr); err != nil {
			// The in-memory table is authoritative; the mirror catches up.
			httputil.OK(w, map[string]any{"removed": cidr, "mirror": "stale"})
			return
		}
	}
	httputil.OK(w, map[string]any{"removed": cidr})
}

// AdminImportRanges serves POST /admin/blacklist/import.
func (h *Handlers) AdminImportRanges(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CIDRs []string `json:"cidrs"`
	}
	if !httputil.Decode(w, r, &req) {
		return
	}
	if len(req.CIDRs) == 0 {
		httputil.BadRequest(w, "no cidrs given")
		return
	}
	added := h.blacklist.Import(req.CIDRs)
	httputil.OK(w, map[string]any{"imported": added, "total": h.blacklist.Len()})
}

// AdminClearBlacklist serves DELETE /admin/blacklist.
func (h *Handlers) AdminClearBlacklist(w http.ResponseWriter, r *http.Request) {
	h.blacklist.Clear()
	httputil.NoContent(w)
}

// AdminDeleteCachedIP serves DELETE /admin/ipcache/{ip}.
func (h *Handlers) AdminDeleteCachedIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		httputil.BadRequest(w, "missing ip")
		return
	}
	if err := h.ipCache.Delete(r.Context(), ip); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.NoContent(w)
}

// AdminInvalidateRedirect serves POST /admin/redirects/{publicID}/invalidate.
// The management product calls this after editing a redirect so the hot
// cache refetches before the TTL runs out.
func (h *Handlers) AdminInvalidateRedirect(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "publicID")
	if publicID == "" {
		httputil.BadRequest(w, "missing public id")
		return
	}
	h.resolver.Invalidate(publicID)
	httputil.NoContent(w)
}

// AdminStats serves GET /admin/stats with the same component stats as
// /health plus queue depths.
func (h *Handlers) AdminStats(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"blacklist":      h.blacklist.Stats(),
		"ip_cache":       map[string]any{"entries": h.ipCache.Len()},
		"redirect_cache": h.resolver.Stats(),
		"log_writer":     h.writer.Stats(),
	})
}
