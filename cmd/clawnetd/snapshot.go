package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clawnet/node/internal/keys"
	"github.com/clawnet/node/internal/snapshot"
	"github.com/clawnet/node/internal/store"
	"github.com/clawnet/node/pkg/utils"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// snapshotFile is the fixed on-disk location a node persists its latest
// signed snapshot at, matching internal/node's own convention so `start`
// and `snapshot build`/`snapshot load` agree on where to look.
func snapshotFile(dataDir string) string {
	return filepath.Join(dataDir, "snapshot.json")
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "inspect or force-build a state snapshot"}
	cmd.AddCommand(snapshotBuildCmd())
	cmd.AddCommand(snapshotLoadCmd())
	return cmd
}

func snapshotBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "replay the local log, build a snapshot, sign it, and persist it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pass := keyPassphrase()

			st, err := store.Open(filepath.Join(cfg.DataDir, "events.log"), log.StandardLogger())
			if err != nil {
				return utils.Wrap(err, "open event log")
			}
			defer st.Close()

			var priorSnap *snapshot.Snapshot
			if raw, readErr := os.ReadFile(snapshotFile(cfg.DataDir)); readErr == nil {
				var s snapshot.Snapshot
				if err := json.Unmarshal(raw, &s); err != nil {
					return utils.Wrap(err, "decode existing snapshot")
				}
				priorSnap = &s
			}
			derived, _, err := snapshot.ColdStart(priorSnap)
			if err != nil {
				return utils.Wrap(err, "cold start from existing snapshot")
			}

			_, blsPriv, err := keys.LoadOrGenerateBLS(filepath.Join(cfg.DataDir, "keys", "snapshot.key"), pass)
			if err != nil {
				return utils.Wrap(err, "load snapshot key")
			}

			prevHash := ""
			if priorSnap != nil {
				prevHash = priorSnap.Hash
			}
			snap, err := snapshot.Build(derived, st.LatestHash(), prevHash)
			if err != nil {
				return utils.Wrap(err, "build snapshot")
			}
			if err := snapshot.Sign(snap, "cli", blsPriv); err != nil {
				return utils.Wrap(err, "sign snapshot")
			}

			out, err := json.Marshal(snap)
			if err != nil {
				return utils.Wrap(err, "encode snapshot")
			}
			if err := os.WriteFile(snapshotFile(cfg.DataDir), out, 0o600); err != nil {
				return utils.Wrap(err, "write snapshot")
			}
			fmt.Printf("snapshot built: at=%s hash=%s signatures=%d\n", snap.At, snap.Hash, len(snap.Signatures))
			return nil
		},
	}
}

func snapshotLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "print a summary of the node's persisted snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(snapshotFile(cfg.DataDir))
			if err != nil {
				return utils.Wrap(err, "read snapshot file")
			}
			var snap snapshot.Snapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				return utils.Wrap(err, "decode snapshot")
			}
			st, anchor, err := snapshot.ColdStart(&snap)
			if err != nil {
				return utils.Wrap(err, "load state from snapshot")
			}
			fmt.Printf("at:          %s\n", anchor)
			fmt.Printf("prev:        %s\n", snap.Prev)
			fmt.Printf("hash:        %s\n", snap.Hash)
			fmt.Printf("signatures:  %d\n", len(snap.Signatures))
			fmt.Printf("accounts:    %d\n", len(st.Accounts))
			fmt.Printf("escrows:     %d\n", len(st.Escrows))
			return nil
		},
	}
}
