package main

import (
	"fmt"
	"path/filepath"

	"github.com/clawnet/node/internal/keys"
	"github.com/clawnet/node/pkg/clawid"
	"github.com/clawnet/node/pkg/utils"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	"github.com/spf13/cobra"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "keys", Short: "manage this node's local signing keys"}
	cmd.AddCommand(keysGenerateCmd())
	return cmd
}

func keysGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "generate and persist the node's Ed25519 event/peer key and BLS snapshot key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pass := keyPassphrase()

			peerPub, _, err := keys.Generate(filepath.Join(cfg.DataDir, "keys", "peer.key"), pass)
			if err != nil {
				return utils.Wrap(err, "generate peer key")
			}
			did, err := clawid.DIDFromPublicKey(peerPub)
			if err != nil {
				return utils.Wrap(err, "derive did")
			}
			addr, err := clawid.AddressFromPublicKey(peerPub)
			if err != nil {
				return utils.Wrap(err, "derive address")
			}

			snapPub, _, err := keys.GenerateBLS(filepath.Join(cfg.DataDir, "keys", "snapshot.key"), pass)
			if err != nil {
				return utils.Wrap(err, "generate snapshot key")
			}

			fmt.Printf("did:             %s\n", did)
			fmt.Printf("address:         %s\n", addr)
			fmt.Printf("snapshot pubkey: %s\n", blsPubHex(snapPub))
			return nil
		},
	}
}

func blsPubHex(pub *bls.PublicKey) string {
	return fmt.Sprintf("%x", pub.Serialize())
}
