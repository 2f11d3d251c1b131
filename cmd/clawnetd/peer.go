package main

import (
	"fmt"
	"path/filepath"

	"github.com/clawnet/node/internal/keys"
	"github.com/clawnet/node/internal/p2p"
	"github.com/clawnet/node/pkg/clawid"
	"github.com/clawnet/node/pkg/utils"

	"github.com/spf13/cobra"
)

func peerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "peer", Short: "inspect this node's transport identity"}
	cmd.AddCommand(peerListCmd())
	return cmd
}

// peerListCmd prints the single local peer identity clawnetd advertises
// on the gossip network. A full peer-discovery listing belongs to the
// libp2p host's live peerstore, which only exists while `start` is
// running; this command reports the identity a peer would see, not who
// it is currently connected to.
func peerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "print this node's transport peer id and DID",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			pub, _, err := keys.LoadOrGenerate(filepath.Join(cfg.DataDir, "keys", "peer.key"), keyPassphrase())
			if err != nil {
				return utils.Wrap(err, "load peer key")
			}
			peerID, err := p2p.PeerIDFromPublicKey(pub)
			if err != nil {
				return utils.Wrap(err, "derive peer id")
			}
			did, err := clawid.DIDFromPublicKey(pub)
			if err != nil {
				return utils.Wrap(err, "derive did")
			}
			fmt.Printf("peerId: %s\n", peerID)
			fmt.Printf("did:    %s\n", did)
			return nil
		},
	}
}
