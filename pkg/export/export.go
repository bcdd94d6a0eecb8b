package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/kilianp07/flexgrid/core/model"
)

// WriteJSON writes settlement responses to w in JSON format.
func WriteJSON(w io.Writer, responses []model.FlexibilityResponse) error {
	enc := json.NewEncoder(w)
	return enc.Encode(responses)
}

// WriteCSV writes settlement responses to w in CSV format.
func WriteCSV(w io.Writer, responses []model.FlexibilityResponse) error {
	cw := csv.NewWriter(w)
	header := []string{
		"request_id", "asset_id", "actual_power_kw",
		"start_time", "end_time",
		"energy_impact_kwh", "cost_impact", "currency", "status",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range responses {
		rec := []string{
			r.RequestID,
			r.AssetID,
			strconv.FormatFloat(r.ActualPowerKW, 'f', -1, 64),
			r.StartTime.Format(time.RFC3339),
			r.EndTime.Format(time.RFC3339),
			strconv.FormatFloat(r.EnergyImpactKWh, 'f', -1, 64),
			strconv.FormatFloat(r.CostImpact, 'f', -1, 64),
			r.Currency,
			r.Status.String(),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
