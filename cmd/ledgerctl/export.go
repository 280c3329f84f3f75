package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamstosho/GroChain-sub000/internal/commission"
	"github.com/adamstosho/GroChain-sub000/internal/model"
)

var (
	exportPartner string
	exportUser    string
	exportType    string
	exportStatus  string
	exportFrom    string
	exportTo      string
	exportOut     string
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export ledger transactions as CSV",
		Long: `Writes matching ledger rows, newest first, as CSV.

Examples:
  ledgerctl export --partner 7f1c... --type commission
  ledgerctl export --from 2025-08-01 --to 2025-09-01 --out august.csv`,
		RunE: runExport,
	}
	cmd.Flags().StringVar(&exportPartner, "partner", "", "filter by partner id")
	cmd.Flags().StringVar(&exportUser, "user", "", "filter by user id")
	cmd.Flags().StringVar(&exportType, "type", "", "filter by transaction type")
	cmd.Flags().StringVar(&exportStatus, "status", "", "filter by transaction status")
	cmd.Flags().StringVar(&exportFrom, "from", "", "earliest creation date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&exportTo, "to", "", "creation date upper bound, exclusive (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	q := commission.ExportQuery{
		PartnerID: exportPartner,
		UserID:    exportUser,
		Type:      model.TransactionType(exportType),
		Status:    model.TransactionStatus(exportStatus),
	}
	var err error
	if q.From, err = parseDate(exportFrom); err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	if q.To, err = parseDate(exportTo); err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var out io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	n, err := a.Commissions.Export(cmd.Context(), out, q)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "exported %d rows\n", n)
	return nil
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, v)
}
