package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/provenance"
	"github.com/nightfield/signalgate/internal/schema"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Verify and export the hash-chained decision log",
	}
	cmd.AddCommand(newAuditVerifyCmd())
	cmd.AddCommand(newAuditExportCmd())
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	var auditDir string
	var chainID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute and check the hash chain for one or all chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			log, err := audit.Open(ctx, audit.DefaultConfig(auditDir))
			if err != nil {
				return err
			}
			defer log.Close()

			ids := log.AllChains()
			if chainID != "" {
				ids = []schema.ChainID{schema.ChainID(chainID)}
			}

			bad := 0
			for _, id := range ids {
				report, err := provenance.VerifyChain(log, id)
				if err != nil {
					return fmt.Errorf("audit: verify %s: %w", id, err)
				}
				if !report.Valid {
					bad++
				}
				fmt.Printf("%s\tvalid=%v\t%s\n", report.ChainID, report.Valid, report.Reason)
			}
			if bad > 0 {
				return fmt.Errorf("audit: %d of %d chains failed verification", bad, len(ids))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&auditDir, "audit-dir", "data/audit", "audit log segment directory")
	cmd.Flags().StringVar(&chainID, "chain", "", "verify a single chain id instead of every chain in the log")
	return cmd
}

func newAuditExportCmd() *cobra.Command {
	var auditDir string
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an integrity manifest for every chain in the log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			log, err := audit.Open(ctx, audit.DefaultConfig(auditDir))
			if err != nil {
				return err
			}
			defer log.Close()

			ids, err := provenance.Query(log, provenance.Filter{})
			if err != nil {
				return err
			}
			manifest, err := provenance.Export(log, ids)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(manifest, "", "  ")
			if err != nil {
				return err
			}
			if outPath == "" {
				fmt.Println(string(out))
				return nil
			}
			return os.WriteFile(outPath, out, 0o644)
		},
	}
	cmd.Flags().StringVar(&auditDir, "audit-dir", "data/audit", "audit log segment directory")
	cmd.Flags().StringVar(&outPath, "out", "", "write the manifest to this path instead of stdout")
	return cmd
}
