package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aemtliapp/aemtli-sync/internal/remote"
)

// identityHeader names the account making a request.
const identityHeader = "X-Account-Identity"

// longPollTimeout caps how long a change request may hang before answering
// with the unchanged revision.
const longPollTimeout = 25 * time.Second

// Backend is the store the server exposes.
type Backend interface {
	Container(identity string) remote.Container
	Revision() int64
	WaitChange(ctx context.Context, since int64) (int64, error)
}

// Routes defines the routes for the record-store API with dependency
// injection.
type Routes struct {
	backend Backend
}

// NewRoutes creates a new Routes instance with the provided backend.
func NewRoutes(backend Backend) *Routes {
	return &Routes{backend: backend}
}

// NewRouter creates and configures the HTTP router for the record store.
func NewRouter(backend Backend) *chi.Mux {
	routes := NewRoutes(backend)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/identity", routes.getIdentity)
		r.Get("/share-metadata", routes.getShareMetadata)
		r.Post("/shares/accept", routes.acceptShare)
		r.Get("/changes", routes.getChanges)

		r.Route("/{scope}", func(r chi.Router) {
			r.Post("/zones", routes.ensureZone)
			r.Post("/records", routes.saveRecord)
			r.Post("/records/query", routes.queryRecords)
			r.Get("/records/{owner}/{zone}/{name}", routes.fetchRecord)
			r.Delete("/records/{owner}/{zone}/{name}", routes.deleteRecord)
			r.Post("/shares", routes.saveShare)
			r.Get("/shares/{owner}/{zone}/{name}", routes.fetchShare)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (rr *Routes) container(r *http.Request) remote.Container {
	return rr.backend.Container(r.Header.Get(identityHeader))
}

func (rr *Routes) database(r *http.Request) remote.Database {
	return rr.container(r).Database(remote.Scope(chi.URLParam(r, "scope")))
}

func recordIDFromURL(r *http.Request) remote.RecordID {
	return remote.RecordID{
		Name: chi.URLParam(r, "name"),
		Zone: remote.ZoneID{
			Name:  chi.URLParam(r, "zone"),
			Owner: chi.URLParam(r, "owner"),
		},
	}
}

func (rr *Routes) getIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := rr.container(r).AccountIdentity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identity": identity})
}

func (rr *Routes) getShareMetadata(w http.ResponseWriter, r *http.Request) {
	shareURL := r.URL.Query().Get("url")
	md, err := rr.container(r).FetchShareMetadata(r.Context(), shareURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (rr *Routes) acceptShare(w http.ResponseWriter, r *http.Request) {
	var md remote.ShareMetadata
	if !readJSON(w, r, &md) {
		return
	}
	sh, err := rr.container(r).AcceptShare(r.Context(), &md)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// getChanges long-polls the change feed. The response carries the current
// revision, which equals since when the poll timed out without a change.
func (rr *Routes) getChanges(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		writeError(w, remote.NewError(remote.CodeInvalidRequest, "invalid since parameter"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), longPollTimeout)
	defer cancel()
	rev, err := rr.backend.WaitChange(ctx, since)
	if err != nil {
		rev = rr.backend.Revision()
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revision": rev})
}

func (rr *Routes) ensureZone(w http.ResponseWriter, r *http.Request) {
	var zoneID remote.ZoneID
	if !readJSON(w, r, &zoneID) {
		return
	}
	if err := rr.database(r).EnsureZone(r.Context(), zoneID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rr *Routes) saveRecord(w http.ResponseWriter, r *http.Request) {
	var wire WireRecord
	if !readJSON(w, r, &wire) {
		return
	}
	rec, err := decodeRecord(&wire)
	if err != nil {
		writeError(w, remote.WrapError(remote.CodeInvalidRequest, err, "malformed record"))
		return
	}

	policy := remote.SavePolicy(r.URL.Query().Get("policy"))
	if policy == "" {
		policy = remote.PolicyChangedKeys
	}

	saved, err := rr.database(r).SaveRecord(r.Context(), rec, policy)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := encodeRecord(saved)
	if err != nil {
		writeError(w, remote.WrapError(remote.CodeInvalidRequest, err, "unencodable record"))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rr *Routes) queryRecords(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !readJSON(w, r, &req) {
		return
	}

	recs, err := rr.database(r).Query(r.Context(), req.RecordType, remote.QueryOptions{
		Zone:       req.Zone,
		SortBy:     req.SortBy,
		Descending: req.Descending,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	wires := make([]*WireRecord, 0, len(recs))
	for _, rec := range recs {
		wire, err := encodeRecord(rec)
		if err != nil {
			slog.Warn("Skipping unencodable record", "record", rec.ID.Name, "error", err)
			continue
		}
		wires = append(wires, wire)
	}
	writeJSON(w, http.StatusOK, map[string][]*WireRecord{"records": wires})
}

func (rr *Routes) fetchRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := rr.database(r).FetchRecord(r.Context(), recordIDFromURL(r))
	if err != nil {
		writeError(w, err)
		return
	}
	wire, err := encodeRecord(rec)
	if err != nil {
		writeError(w, remote.WrapError(remote.CodeInvalidRequest, err, "unencodable record"))
		return
	}
	writeJSON(w, http.StatusOK, wire)
}

func (rr *Routes) deleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := rr.database(r).DeleteRecord(r.Context(), recordIDFromURL(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rr *Routes) saveShare(w http.ResponseWriter, r *http.Request) {
	var req SaveShareRequest
	if !readJSON(w, r, &req) {
		return
	}
	anchor, err := decodeRecord(&req.Anchor)
	if err != nil {
		writeError(w, remote.WrapError(remote.CodeInvalidRequest, err, "malformed anchor"))
		return
	}

	sh, err := rr.database(r).SaveShare(r.Context(), anchor, &req.Share)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func (rr *Routes) fetchShare(w http.ResponseWriter, r *http.Request) {
	sh, err := rr.database(r).FetchShare(r.Context(), recordIDFromURL(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

func readJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, remote.WrapError(remote.CodeInvalidRequest, err, "malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := remote.CodeOf(err)
	writeJSON(w, statusFor(code), ErrorBody{Code: code, Message: err.Error()})
}

func statusFor(code remote.Code) int {
	switch code {
	case remote.CodeNetworkUnavailable, remote.CodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case remote.CodeRateLimited:
		return http.StatusTooManyRequests
	case remote.CodeUnknownItem, remote.CodeZoneNotFound:
		return http.StatusNotFound
	case remote.CodeConflict:
		return http.StatusConflict
	case remote.CodePermissionDenied:
		return http.StatusForbidden
	case remote.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
