package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nightfield/signalgate/internal/audit"
	"github.com/nightfield/signalgate/internal/emergency"
	"github.com/nightfield/signalgate/internal/provenance"
)

// newEmergencyCmd operates directly against the shared audit log rather
// than a running serve process: each invocation builds a fresh
// Controller bound to the audit directory, so kill and restore are
// recorded as append-only decisions on the hash chain even with no
// running pipeline. The fresh Controller starts in the normal state and
// does not read earlier emergency nodes back from the log, and it has no
// Mitigator: a running serve process does not pick these decisions up,
// status reports the fresh Controller's state, kill closes no positions,
// and a restore request is not combined with one made by another
// invocation.
func newEmergencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emergency",
		Short: "Hand-operate the gateway's global emergency cell",
	}
	cmd.AddCommand(newEmergencyKillCmd())
	cmd.AddCommand(newEmergencyRestoreCmd())
	cmd.AddCommand(newEmergencyStatusCmd())
	return cmd
}

func openEmergencyController(ctx context.Context, auditDir string) (*emergency.Controller, func(), error) {
	log, err := audit.Open(ctx, audit.DefaultConfig(auditDir))
	if err != nil {
		return nil, nil, err
	}
	tracker := provenance.NewTracker(log)
	ctl := emergency.New(emergency.DefaultConfig(), tracker, nil)
	return ctl, func() { log.Close() }, nil
}

func newEmergencyKillCmd() *cobra.Command {
	var auditDir, actor, reason string
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Manually trip the kill switch: halt signal intake and close all positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			ctl, closeFn, err := openEmergencyController(ctx, auditDir)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := ctl.ManualKill(ctx, actor, reason); err != nil {
				return err
			}
			fmt.Println("emergency: killed")
			return nil
		},
	}
	cmd.Flags().StringVar(&auditDir, "audit-dir", "data/audit", "audit log segment directory")
	cmd.Flags().StringVar(&actor, "actor", "", "operator identity recorded on the decision node")
	cmd.Flags().StringVar(&reason, "reason", "manual kill", "human-readable reason recorded on the decision node")
	cmd.MarkFlagRequired("actor")
	return cmd
}

func newEmergencyRestoreCmd() *cobra.Command {
	var auditDir, actor string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Request restore from killed; two distinct actors within 5 minutes commit it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			ctl, closeFn, err := openEmergencyController(ctx, auditDir)
			if err != nil {
				return err
			}
			defer closeFn()
			if err := ctl.RequestRestore(ctx, actor); err != nil {
				return err
			}
			fmt.Println("emergency: restored to normal")
			return nil
		},
	}
	cmd.Flags().StringVar(&auditDir, "audit-dir", "data/audit", "audit log segment directory")
	cmd.Flags().StringVar(&actor, "actor", "", "operator identity requesting the restore")
	cmd.MarkFlagRequired("actor")
	return cmd
}

func newEmergencyStatusCmd() *cobra.Command {
	var auditDir string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the emergency cell's current in-process state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			ctl, closeFn, err := openEmergencyController(ctx, auditDir)
			if err != nil {
				return err
			}
			defer closeFn()
			state := ctl.Current()
			fmt.Printf("state=%s trigger=%s\n", state.State, state.Trigger)
			return nil
		},
	}
	cmd.Flags().StringVar(&auditDir, "audit-dir", "data/audit", "audit log segment directory")
	return cmd
}
