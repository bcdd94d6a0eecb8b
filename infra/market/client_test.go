package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kilianp07/flexgrid/core/model"
)

type captureObserver struct {
	points []model.PricePoint
}

func (o *captureObserver) Observe(p model.PricePoint) {
	o.points = append(o.points, p)
}

func TestPollFeedsObserver(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]pricePayload{
			{Timestamp: now.UnixMilli(), Price: 0.25, VolumeMW: 120, Currency: "EUR"},
			{Timestamp: now.Add(time.Hour).UnixMilli(), Price: 0.30, VolumeMW: 90, Currency: "EUR"},
		})
	}))
	defer srv.Close()

	obs := &captureObserver{}
	c := NewClient(Config{APIURL: srv.URL}, obs)
	if err := c.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(obs.points) != 2 {
		t.Fatalf("points = %d, want 2", len(obs.points))
	}
	if obs.points[0].Price != 0.25 || obs.points[1].Price != 0.30 {
		t.Fatalf("unexpected points: %+v", obs.points)
	}
	if obs.points[0].Timestamp.UnixMilli() != now.UnixMilli() {
		t.Fatalf("timestamp mismatch")
	}
}

func TestPollSetsBearerToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	var gotAuth string
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer apiSrv.Close()

	c := NewClient(Config{
		APIURL: apiSrv.URL,
		Auth:   AuthConf{ClientID: "id", ClientSecret: "secret", AuthURL: tokenSrv.URL},
	}, &captureObserver{})
	if err := c.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization = %q, want bearer token", gotAuth)
	}
}

func TestPollRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{APIURL: srv.URL}, &captureObserver{})
	if err := c.Poll(context.Background()); err == nil {
		t.Fatalf("expected error on bad status")
	}
}
