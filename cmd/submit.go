package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/flexgrid/app"
	"github.com/kilianp07/flexgrid/config"
	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/infra/logger"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a test flexibility request",
	RunE:  submitRequest,
}

var (
	submitAsset    string
	submitPower    float64
	submitType     string
	submitPriority string
	submitLeadMin  int
	submitDuration int
	submitPrice    float64
)

func init() {
	submitCmd.Flags().StringVar(&submitAsset, "asset", "", "target asset ID")
	submitCmd.Flags().Float64Var(&submitPower, "power", 0, "target power in kW")
	submitCmd.Flags().StringVar(&submitType, "type", "DECREASE", "request type (INCREASE, DECREASE, SHIFT)")
	submitCmd.Flags().StringVar(&submitPriority, "priority", "MEDIUM", "request priority")
	submitCmd.Flags().IntVar(&submitLeadMin, "lead", 60, "minutes until the window opens")
	submitCmd.Flags().IntVar(&submitDuration, "duration", 60, "window length in minutes")
	submitCmd.Flags().Float64Var(&submitPrice, "price", 0, "seed market price when no feed is configured")
	_ = submitCmd.MarkFlagRequired("asset")
	rootCmd.AddCommand(submitCmd)
}

func submitRequest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reqType, err := model.ParseRequestType(submitType)
	if err != nil {
		return err
	}
	prio, err := model.ParsePriority(submitPriority)
	if err != nil {
		return err
	}

	logg := logger.New("submit-command")
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()

	if err := svc.Registry.Load(ctx); err != nil {
		return fmt.Errorf("load assets: %w", err)
	}
	if submitPrice > 0 {
		svc.Prices.Observe(model.PricePoint{
			Timestamp: time.Now(),
			Price:     submitPrice,
			Currency:  cfg.Flexibility.Currency,
		})
	}

	start := time.Now().Add(time.Duration(submitLeadMin) * time.Minute)
	req, err := svc.Manager.Submit(ctx, model.FlexibilityRequest{
		AssetID:       submitAsset,
		Type:          reqType,
		TargetPowerKW: submitPower,
		StartTime:     start,
		EndTime:       start.Add(time.Duration(submitDuration) * time.Minute),
		Priority:      prio,
		Reason:        "manual submission",
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Printf("request %s: %s\n", req.ID, req.Status)
	return nil
}
