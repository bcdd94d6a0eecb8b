package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/pkg/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export settlement responses",
	RunE:  runExport,
}

var (
	exportFormat  string
	exportOut     string
	exportRequest string
)

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format (csv or json)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "output file, defaults to stdout")
	exportCmd.Flags().StringVar(&exportRequest, "request", "", "restrict to one request ID")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	var responses []model.FlexibilityResponse
	if exportRequest != "" {
		responses, err = st.Responses(ctx, exportRequest)
	} else {
		responses, err = st.AllResponses(ctx)
	}
	if err != nil {
		return fmt.Errorf("load responses: %w", err)
	}

	var out io.Writer = os.Stdout
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	switch exportFormat {
	case "csv":
		return export.WriteCSV(out, responses)
	case "json":
		return export.WriteJSON(out, responses)
	default:
		return fmt.Errorf("unsupported format %q", exportFormat)
	}
}
