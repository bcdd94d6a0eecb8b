package assets

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/core/registry"
)

type assetEntry struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	CapacityKW     float64           `json:"capacity_kw"`
	MaxCapacityKW  float64           `json:"max_capacity_kw"`
	MinCapacityKW  float64           `json:"min_capacity_kw"`
	StateOfCharge  float64           `json:"state_of_charge"`
	CurrentPowerKW float64           `json:"current_power_kw"`
	Status         string            `json:"status"`
	Location       string            `json:"location"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func toEntry(a model.FlexibilityAsset) assetEntry {
	return assetEntry{
		ID:             a.ID,
		Name:           a.Name,
		Type:           a.Type.String(),
		CapacityKW:     a.CapacityKW,
		MaxCapacityKW:  a.MaxCapacityKW,
		MinCapacityKW:  a.MinCapacityKW,
		StateOfCharge:  a.StateOfCharge,
		CurrentPowerKW: a.CurrentPowerKW,
		Status:         a.Status.String(),
		Location:       a.Location,
		Metadata:       a.Metadata,
	}
}

// NewListHandler returns an HTTP handler exposing registry state via GET /api/assets.
// Results may be narrowed with the type, status and location query parameters.
func NewListHandler(reg *registry.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		typ := r.URL.Query().Get("type")
		status := r.URL.Query().Get("status")
		location := r.URL.Query().Get("location")

		entries := []assetEntry{}
		for _, a := range reg.All() {
			if typ != "" && a.Type.String() != typ {
				continue
			}
			if status != "" && a.Status.String() != status {
				continue
			}
			if location != "" && !strings.EqualFold(a.Location, location) {
				continue
			}
			entries = append(entries, toEntry(a))
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(entries); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
