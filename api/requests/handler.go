package requests

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/flexgrid/core/flexibility"
	"github.com/kilianp07/flexgrid/core/model"
)

type requestEntry struct {
	ID            string            `json:"id"`
	AssetID       string            `json:"asset_id"`
	Type          string            `json:"type"`
	TargetPowerKW float64           `json:"target_power_kw"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Priority      string            `json:"priority"`
	Status        string            `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func toEntry(r model.FlexibilityRequest) requestEntry {
	return requestEntry{
		ID:            r.ID,
		AssetID:       r.AssetID,
		Type:          r.Type.String(),
		TargetPowerKW: r.TargetPowerKW,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Priority:      r.Priority.String(),
		Status:        r.Status.String(),
		Reason:        r.Reason,
		Metadata:      r.Metadata,
	}
}

type responseEntry struct {
	RequestID       string            `json:"request_id"`
	AssetID         string            `json:"asset_id"`
	ActualPowerKW   float64           `json:"actual_power_kw"`
	StartTime       time.Time         `json:"start_time"`
	EndTime         time.Time         `json:"end_time"`
	EnergyImpactKWh float64           `json:"energy_impact_kwh"`
	CostImpact      float64           `json:"cost_impact"`
	Currency        string            `json:"currency"`
	Status          string            `json:"status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func toResponseEntry(r model.FlexibilityResponse) responseEntry {
	return responseEntry{
		RequestID:       r.RequestID,
		AssetID:         r.AssetID,
		ActualPowerKW:   r.ActualPowerKW,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		EnergyImpactKWh: r.EnergyImpactKWh,
		CostImpact:      r.CostImpact,
		Currency:        r.Currency,
		Status:          r.Status.String(),
		Metadata:        r.Metadata,
	}
}

type submitPayload struct {
	AssetID       string            `json:"asset_id"`
	Type          string            `json:"type"`
	TargetPowerKW float64           `json:"target_power_kw"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       time.Time         `json:"end_time"`
	Priority      string            `json:"priority"`
	Reason        string            `json:"reason"`
	Metadata      map[string]string `json:"metadata"`
}

func authorized(r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+token
}

// NewHandler returns an HTTP handler serving GET and POST /api/requests.
// GET lists requests, optionally narrowed by the status query parameter.
// POST submits a request for evaluation and returns its resulting state.
// When token is non-empty, requests must carry "Bearer <token>".
func NewHandler(mgr *flexibility.Manager, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			list(mgr, w, r)
		case http.MethodPost:
			submit(mgr, w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func list(mgr *flexibility.Manager, w http.ResponseWriter, r *http.Request) {
	var status *model.RequestStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := model.ParseRequestStatus(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status = &st
	}
	reqs, err := mgr.Requests(r.Context(), status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	entries := make([]requestEntry, 0, len(reqs))
	for _, req := range reqs {
		entries = append(entries, toEntry(req))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func submit(mgr *flexibility.Manager, w http.ResponseWriter, r *http.Request) {
	var p submitPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	typ, err := model.ParseRequestType(p.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	prio := model.PriorityMedium
	if p.Priority != "" {
		if prio, err = model.ParsePriority(p.Priority); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	req, err := mgr.Submit(r.Context(), model.FlexibilityRequest{
		AssetID:       p.AssetID,
		Type:          typ,
		TargetPowerKW: p.TargetPowerKW,
		StartTime:     p.StartTime,
		EndTime:       p.EndTime,
		Priority:      prio,
		Reason:        p.Reason,
		Metadata:      p.Metadata,
	})
	if err != nil {
		var verr *flexibility.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toEntry(req)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NewCancelHandler returns an HTTP handler serving POST /api/requests/cancel?id=<request>.
func NewCancelHandler(mgr *flexibility.Manager, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}
		if err := mgr.Cancel(r.Context(), id); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// NewResponseHandler returns an HTTP handler serving GET /api/responses?request_id=<request>.
func NewResponseHandler(mgr *flexibility.Manager, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("request_id")
		if id == "" {
			http.Error(w, "missing request_id", http.StatusBadRequest)
			return
		}
		resps, err := mgr.Responses(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		entries := make([]responseEntry, 0, len(resps))
		for _, resp := range resps {
			entries = append(entries, toResponseEntry(resp))
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
