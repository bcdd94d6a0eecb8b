package flexibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/flexgrid/core/logger"
	"github.com/kilianp07/flexgrid/core/market"
	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/core/registry"
	"github.com/kilianp07/flexgrid/core/signals"
)

// powerDeadbandKW is the minimum power move worth a request. Candidates
// below it are discarded.
const powerDeadbandKW = 0.1

// Optimizer sweeps a price and signal horizon and emits flexibility
// requests for the assets whose power profile can be improved. Emitted
// requests go through the regular submission path and live their own
// lifecycle.
type Optimizer struct {
	cfg      Config
	registry *registry.Registry
	feed     signals.Feed
	prices   market.PriceFeed
	manager  *Manager
	log      logger.Logger
	now      func() time.Time
}

// NewOptimizer creates an Optimizer over the given collaborators.
func NewOptimizer(cfg Config, reg *registry.Registry, feed signals.Feed, prices market.PriceFeed, mgr *Manager, log logger.Logger) (*Optimizer, error) {
	if reg == nil || feed == nil || prices == nil || mgr == nil {
		return nil, fmt.Errorf("flexibility: nil parameter provided to NewOptimizer")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("flexibility config: %w", err)
	}
	return &Optimizer{
		cfg:      cfg,
		registry: reg,
		feed:     feed,
		prices:   prices,
		manager:  mgr,
		log:      log,
		now:      time.Now,
	}, nil
}

// Optimize generates and submits hourly requests for the given assets
// over the horizon. When horizonHours is zero the configured horizon is
// used. Unknown asset IDs are skipped; if none resolve an error is
// returned. The returned slice holds every submitted request with its
// post-evaluation status.
func (o *Optimizer) Optimize(ctx context.Context, assetIDs []string, horizonHours int) ([]model.FlexibilityRequest, error) {
	if horizonHours <= 0 {
		horizonHours = o.cfg.OptimizationHorizonHours
	}

	assets := make([]model.FlexibilityAsset, 0, len(assetIDs))
	for _, id := range assetIDs {
		a, ok := o.registry.Get(id)
		if !ok {
			o.log.Warnf("optimizer: unknown asset %s skipped", id)
			continue
		}
		assets = append(assets, a)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("no valid assets to optimize")
	}

	prices, err := o.prices.PredictPrices(ctx, horizonHours)
	if err != nil {
		return nil, fmt.Errorf("price prediction: %w", err)
	}
	sigs, err := o.feed.Signals(ctx, model.SignalFilter{
		Region:      "*",
		Types:       []model.SignalType{model.SignalPricing, model.SignalCapacity},
		MinPriority: model.PriorityLow,
		MaxAge:      time.Duration(horizonHours) * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("grid signals: %w", err)
	}

	now := o.now()
	var out []model.FlexibilityRequest
	for _, asset := range assets {
		if asset.Status == model.AssetError {
			o.log.Debugf("optimizer: asset %s in error state, skipped", asset.ID)
			continue
		}
		for h := 1; h <= horizonHours; h++ {
			hourStart := now.Add(time.Duration(h) * time.Hour).Truncate(time.Hour)
			hourEnd := hourStart.Add(time.Hour)

			point, ok := market.NearestPrice(prices, hourStart)
			if !ok {
				continue
			}
			window := signalsNear(sigs, hourStart, time.Hour)

			optimal := o.optimalPower(asset, hourStart, point.Price, window)
			delta := optimal - asset.CurrentPowerKW
			if abs(delta) < powerDeadbandKW {
				continue
			}

			reqType := model.RequestIncrease
			if delta < 0 {
				reqType = model.RequestDecrease
			}
			req := model.FlexibilityRequest{
				AssetID:       asset.ID,
				Type:          reqType,
				TargetPowerKW: optimal,
				StartTime:     hourStart,
				EndTime:       hourEnd,
				Priority:      o.derivePriority(point.Price, window),
				Reason:        fmt.Sprintf("optimization based on price %.4f and %d grid signals", point.Price, len(window)),
				Metadata: map[string]string{
					"market_price": fmt.Sprintf("%.4f", point.Price),
					"signals":      fmt.Sprintf("%d", len(window)),
				},
			}
			submitted, err := o.manager.Submit(ctx, req)
			if err != nil {
				var verr *ValidationError
				if errors.As(err, &verr) {
					o.log.Debugf("optimizer: candidate for asset %s at %s rejected: %v", asset.ID, hourStart.Format(time.RFC3339), err)
					continue
				}
				return out, fmt.Errorf("submit optimized request: %w", err)
			}
			out = append(out, submitted)
		}
	}
	o.log.Infof("optimizer generated %d requests for %d assets over %dh", len(out), len(assets), horizonHours)
	return out, nil
}

// optimalPower computes the power setpoint preferred for the asset
// during the given hour, clamped to the asset's capacity bounds.
func (o *Optimizer) optimalPower(asset model.FlexibilityAsset, hourStart time.Time, price float64, window []model.GridSignal) float64 {
	avgCapacity := averageSignal(window, model.SignalCapacity)
	hour := hourStart.Hour()

	var target float64
	switch asset.Type {
	case model.AssetBattery:
		target = o.optimalBatteryPower(asset, price, avgCapacity)
	case model.AssetEV:
		target = o.optimalEVPower(asset, price, hour)
	case model.AssetHeatPump, model.AssetHVAC:
		target = o.optimalThermalPower(asset, price)
	case model.AssetWaterHeater:
		target = o.optimalWaterHeaterPower(asset, price, hour)
	case model.AssetIndustrialLoad:
		target = o.optimalIndustrialPower(asset, price)
	default:
		target = asset.CurrentPowerKW
	}
	return clamp(target, asset.MinCapacityKW, asset.MaxCapacityKW)
}

// optimalBatteryPower discharges into high prices or stressed capacity
// when charge remains, recharges when cheap and below 80%, otherwise
// holds.
func (o *Optimizer) optimalBatteryPower(asset model.FlexibilityAsset, price, avgCapacity float64) float64 {
	if price > o.cfg.PriceThreshold || avgCapacity > o.cfg.CarbonThreshold {
		if asset.StateOfCharge > 20 {
			return max(asset.MinCapacityKW, -asset.CapacityKW)
		}
	} else if asset.StateOfCharge < 80 {
		return min(asset.MaxCapacityKW, asset.CapacityKW)
	}
	return 0
}

// optimalEVPower halves charging through expensive evening hours and
// charges full rate overnight when prices are low.
func (o *Optimizer) optimalEVPower(asset model.FlexibilityAsset, price float64, hour int) float64 {
	if price > o.cfg.PriceThreshold && hour >= 18 && hour < 22 {
		return asset.CurrentPowerKW * 0.5
	}
	if price < o.cfg.PriceThreshold*0.5 && hour < 6 {
		return asset.MaxCapacityKW
	}
	return asset.CurrentPowerKW
}

// optimalThermalPower sheds 30% when prices peak and pre-heats when
// they bottom out, otherwise keeps the current setpoint.
func (o *Optimizer) optimalThermalPower(asset model.FlexibilityAsset, price float64) float64 {
	if price > o.cfg.PriceThreshold*1.5 {
		return asset.CurrentPowerKW * 0.7
	}
	if price < o.cfg.PriceThreshold*0.5 {
		return asset.CurrentPowerKW * 1.3
	}
	return asset.CurrentPowerKW
}

// optimalWaterHeaterPower trims heating through expensive shower
// windows and reheats full rate on cheap early-morning prices.
func (o *Optimizer) optimalWaterHeaterPower(asset model.FlexibilityAsset, price float64, hour int) float64 {
	if price > o.cfg.PriceThreshold && ((hour >= 7 && hour < 9) || (hour >= 18 && hour < 20)) {
		return asset.CurrentPowerKW * 0.6
	}
	if price < o.cfg.PriceThreshold*0.5 && hour < 5 {
		return asset.MaxCapacityKW
	}
	return asset.CurrentPowerKW
}

// optimalIndustrialPower curtails in two tiers as prices climb and
// ramps up when they collapse.
func (o *Optimizer) optimalIndustrialPower(asset model.FlexibilityAsset, price float64) float64 {
	switch {
	case price > o.cfg.PriceThreshold*2:
		return asset.CurrentPowerKW * 0.5
	case price > o.cfg.PriceThreshold:
		return asset.CurrentPowerKW * 0.8
	case price < o.cfg.PriceThreshold*0.3:
		return asset.CurrentPowerKW * 1.2
	default:
		return asset.CurrentPowerKW
	}
}

// derivePriority maps market stress onto a request priority.
func (o *Optimizer) derivePriority(price float64, window []model.GridSignal) model.Priority {
	avgCapacity := averageSignal(window, model.SignalCapacity)
	switch {
	case price > o.cfg.PriceThreshold*2 || avgCapacity > o.cfg.CarbonThreshold*1.5:
		return model.PriorityCritical
	case price > o.cfg.PriceThreshold*1.5 || avgCapacity > o.cfg.CarbonThreshold:
		return model.PriorityHigh
	case price > o.cfg.PriceThreshold || avgCapacity > o.cfg.CarbonThreshold*0.5:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// signalsNear returns the signals whose timestamp lies within the
// given radius of t.
func signalsNear(sigs []model.GridSignal, t time.Time, radius time.Duration) []model.GridSignal {
	var out []model.GridSignal
	for _, s := range sigs {
		d := s.Timestamp.Sub(t)
		if d < 0 {
			d = -d
		}
		if d <= radius {
			out = append(out, s)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
