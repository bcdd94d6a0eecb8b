package assets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/core/registry"
	"github.com/kilianp07/flexgrid/infra/logger"
)

type memStore struct{ assets []model.FlexibilityAsset }

func (m *memStore) LoadAssets(context.Context) ([]model.FlexibilityAsset, error) {
	return m.assets, nil
}

func (m *memStore) SaveAsset(_ context.Context, a model.FlexibilityAsset) error {
	m.assets = append(m.assets, a)
	return nil
}

func newTestRegistry(t *testing.T, assets ...model.FlexibilityAsset) *registry.Registry {
	t.Helper()
	reg := registry.New(&memStore{assets: assets}, logger.NopLogger{})
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func TestListHandler_Filters(t *testing.T) {
	reg := newTestRegistry(t,
		model.FlexibilityAsset{ID: "bat-1", Type: model.AssetBattery, MaxCapacityKW: 10, Location: "Lyon"},
		model.FlexibilityAsset{ID: "ev-1", Type: model.AssetEV, MaxCapacityKW: 7, Location: "Paris"},
	)
	h := NewListHandler(reg)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/assets?type=BATTERY", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var entries []assetEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "bat-1" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/assets?location=paris", nil))
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "ev-1" {
		t.Fatalf("location filter should be case-insensitive, got %+v", entries)
	}
}

func TestListHandler_MethodNotAllowed(t *testing.T) {
	h := NewListHandler(newTestRegistry(t))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/assets", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rr.Code)
	}
}
