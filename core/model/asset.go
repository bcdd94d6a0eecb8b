package model

import "fmt"

// AssetType identifies the kind of controllable load or storage device.
type AssetType int

const (
	AssetBattery AssetType = iota
	AssetHeatPump
	AssetEV
	AssetHVAC
	AssetWaterHeater
	AssetIndustrialLoad
)

// String returns a human-readable representation of the asset type.
func (t AssetType) String() string {
	switch t {
	case AssetBattery:
		return "BATTERY"
	case AssetHeatPump:
		return "HEAT_PUMP"
	case AssetEV:
		return "EV"
	case AssetHVAC:
		return "HVAC"
	case AssetWaterHeater:
		return "WATER_HEATER"
	case AssetIndustrialLoad:
		return "INDUSTRIAL_LOAD"
	default:
		return "unknown"
	}
}

// ParseAssetType converts a wire representation into an AssetType.
func ParseAssetType(s string) (AssetType, error) {
	switch s {
	case "BATTERY":
		return AssetBattery, nil
	case "HEAT_PUMP":
		return AssetHeatPump, nil
	case "EV":
		return AssetEV, nil
	case "HVAC":
		return AssetHVAC, nil
	case "WATER_HEATER":
		return AssetWaterHeater, nil
	case "INDUSTRIAL_LOAD":
		return AssetIndustrialLoad, nil
	default:
		return 0, fmt.Errorf("unknown asset type %q", s)
	}
}

// IsStorage returns true for asset types where power sign encodes
// charge/discharge direction.
func (t AssetType) IsStorage() bool {
	return t == AssetBattery || t == AssetEV
}

// AssetStatus reflects the live operating state of an asset.
type AssetStatus int

const (
	AssetIdle AssetStatus = iota
	AssetCharging
	AssetDischarging
	AssetError
)

// String returns a human-readable representation of the asset status.
func (s AssetStatus) String() string {
	switch s {
	case AssetIdle:
		return "IDLE"
	case AssetCharging:
		return "CHARGING"
	case AssetDischarging:
		return "DISCHARGING"
	case AssetError:
		return "ERROR"
	default:
		return "unknown"
	}
}

// ParseAssetStatus converts a wire representation into an AssetStatus.
func ParseAssetStatus(s string) (AssetStatus, error) {
	switch s {
	case "IDLE":
		return AssetIdle, nil
	case "CHARGING":
		return AssetCharging, nil
	case "DISCHARGING":
		return AssetDischarging, nil
	case "ERROR":
		return AssetError, nil
	default:
		return 0, fmt.Errorf("unknown asset status %q", s)
	}
}

// FlexibilityAsset represents a controllable energy asset that can shift
// its power draw in response to grid signals.
type FlexibilityAsset struct {
	ID             string
	Name           string
	Type           AssetType
	CapacityKW     float64 // nominal capacity in kW
	MaxCapacityKW  float64 // upper power bound in kW
	MinCapacityKW  float64 // lower power bound in kW, negative for storage charging
	StateOfCharge  float64 // 0-100, meaningful for storage types only
	CurrentPowerKW float64
	Status         AssetStatus
	Location       string
	Metadata       map[string]string
}

// Validate checks that the asset configuration is sound.
func (a FlexibilityAsset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset id is required")
	}
	if a.MaxCapacityKW < a.MinCapacityKW {
		return fmt.Errorf("max capacity %.2f below min capacity %.2f", a.MaxCapacityKW, a.MinCapacityKW)
	}
	if a.StateOfCharge < 0 || a.StateOfCharge > 100 {
		return fmt.Errorf("state of charge %.1f out of range", a.StateOfCharge)
	}
	return nil
}

// InBounds returns true if the power level respects the asset's
// capacity bounds.
func (a FlexibilityAsset) InBounds(powerKW float64) bool {
	return powerKW >= a.MinCapacityKW && powerKW <= a.MaxCapacityKW
}

// DeriveStatus maps a committed power level to the operating status for
// storage-type assets. Non-storage load types simply consume; their
// status is IDLE at zero power and CHARGING otherwise.
func (a FlexibilityAsset) DeriveStatus(powerKW float64) AssetStatus {
	switch {
	case powerKW > 0:
		return AssetCharging
	case powerKW < 0:
		return AssetDischarging
	default:
		return AssetIdle
	}
}
