package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/flexgrid/core/model"
)

type AssetDef struct {
	ID            string  `yaml:"id"`
	Type          string  `yaml:"type"`
	CapacityKW    float64 `yaml:"capacity_kw"`
	MaxCapacityKW float64 `yaml:"max_capacity_kw"`
	MinCapacityKW float64 `yaml:"min_capacity_kw"`
	SoC           float64 `yaml:"soc"`
	PowerKW       float64 `yaml:"power_kw"`
}

func (a AssetDef) ToModel() (model.FlexibilityAsset, error) {
	typ, err := model.ParseAssetType(a.Type)
	if err != nil {
		return model.FlexibilityAsset{}, err
	}
	return model.FlexibilityAsset{
		ID:             a.ID,
		Name:           a.ID,
		Type:           typ,
		CapacityKW:     a.CapacityKW,
		MaxCapacityKW:  a.MaxCapacityKW,
		MinCapacityKW:  a.MinCapacityKW,
		StateOfCharge:  a.SoC,
		CurrentPowerKW: a.PowerKW,
	}, nil
}

type SignalDef struct {
	Type            string  `yaml:"type"`
	Region          string  `yaml:"region"`
	Value           float64 `yaml:"value"`
	Priority        string  `yaml:"priority"`
	DurationSeconds int     `yaml:"duration_seconds"`
}

func (s SignalDef) ToModel() (model.GridSignal, error) {
	typ, err := model.ParseSignalType(s.Type)
	if err != nil {
		return model.GridSignal{}, err
	}
	prio := model.PriorityMedium
	if s.Priority != "" {
		if prio, err = model.ParsePriority(s.Priority); err != nil {
			return model.GridSignal{}, err
		}
	}
	return model.GridSignal{
		Type:      typ,
		Region:    s.Region,
		Value:     s.Value,
		Priority:  prio,
		Timestamp: time.Now(),
		Duration:  time.Duration(s.DurationSeconds) * time.Second,
	}, nil
}

type RequestDef struct {
	AssetID         string  `yaml:"asset_id"`
	Type            string  `yaml:"type"`
	TargetPowerKW   float64 `yaml:"target_power_kw"`
	LeadMinutes     int     `yaml:"lead_minutes"`
	DurationMinutes int     `yaml:"duration_minutes"`
	// Expected is the request status after submission, or
	// "INVALID" when validation must reject the request.
	Expected string `yaml:"expected"`
}

func (r RequestDef) ToModel(now time.Time) (model.FlexibilityRequest, error) {
	typ, err := model.ParseRequestType(r.Type)
	if err != nil {
		return model.FlexibilityRequest{}, err
	}
	start := now.Add(time.Duration(r.LeadMinutes) * time.Minute)
	return model.FlexibilityRequest{
		AssetID:       r.AssetID,
		Type:          typ,
		TargetPowerKW: r.TargetPowerKW,
		StartTime:     start,
		EndTime:       start.Add(time.Duration(r.DurationMinutes) * time.Minute),
		Priority:      model.PriorityMedium,
		Reason:        "scenario",
	}, nil
}

type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description,omitempty"`
	Assets      []AssetDef   `yaml:"assets"`
	MarketPrice float64      `yaml:"market_price"`
	Score       float64      `yaml:"score"`
	Signals     []SignalDef  `yaml:"signals,omitempty"`
	Requests    []RequestDef `yaml:"requests"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if len(sc.Assets) == 0 {
		return nil, fmt.Errorf("%s: scenario has no assets", path)
	}
	return &sc, nil
}
