// Package node wires a ClawNet node's subsystems together: the event
// store, derived state, validation pipeline, finality tracker, sybil
// eligibility checker, P2P host and sync engine, and snapshot manager.
// It mirrors the teacher's core/replication.go background-loop shape
// (closing channel plus sync.WaitGroup) rather than introducing a new
// lifecycle pattern.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/internal/config"
	"github.com/clawnet/node/internal/finality"
	"github.com/clawnet/node/internal/keys"
	"github.com/clawnet/node/internal/p2p"
	"github.com/clawnet/node/internal/snapshot"
	"github.com/clawnet/node/internal/state"
	"github.com/clawnet/node/internal/store"
	"github.com/clawnet/node/internal/telemetry"
	"github.com/clawnet/node/internal/validate"
	"github.com/clawnet/node/pkg/clawid"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	log "github.com/sirupsen/logrus"
)

// rangePollInterval is how often the node asks a peer to backfill past
// the local log's head. It is intentionally more frequent than the
// snapshot build check, since range requests are cheap.
const rangePollInterval = 15 * time.Second

// resourceSettleInterval is how often the node resolves resource-update
// contention windows (spec.md §4.3's hash tie-break, internal/validate's
// Pipeline.SettleResources), shorter than rangePollInterval since a
// settled slot unblocks the rest of that issuer's buffered nonces.
const resourceSettleInterval = 2 * time.Second

// snapshotCheckInterval is how often the node asks its Manager whether a
// new snapshot build is due.
const snapshotCheckInterval = time.Minute

// Node is a running ClawNet peer: every subsystem named in spec.md §2,
// wired by one constructor and driven by one background loop set,
// following the teacher's Node/Replicator composition in core/node.go
// and core/replication.go.
type Node struct {
	cfg config.Config
	log *log.Logger

	store    *store.Store
	state    *state.State
	pipeline *validate.Pipeline
	tracker  *finality.Tracker
	elig     *p2p.EligibilityChecker
	peers    *p2p.PeerBook
	host     *p2p.Host
	syncer   *p2p.Syncer
	snapMgr  *snapshot.Manager

	peerPub  ed25519.PublicKey
	peerPriv ed25519.PrivateKey
	blsPub   *bls.PublicKey
	blsPriv  *bls.SecretKey

	// coldStartFrom seeds the very first range request after a restart
	// that resumed from a snapshot while the local WAL was empty
	// (spec.md §4.7: "the caller must still request a range after
	// the returned anchor hash to catch up"). Cleared after first use.
	coldStartFrom string

	closing chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Node from cfg, loading (or generating) the local
// peer's Ed25519 and BLS keys from dataDir/keys, opening the event
// store, cold-starting derived state from the latest snapshot on disk
// (if any), and wiring the validation pipeline, finality tracker, sybil
// eligibility checker, P2P host, and sync engine over them.
func New(cfg config.Config, keyPassphrase string) (*Node, error) {
	logger := newLogger(cfg.Logging)

	peerPub, peerPriv, err := keys.LoadOrGenerate(filepath.Join(cfg.DataDir, "keys", "peer.key"), keyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("node: load peer key: %w", err)
	}
	blsPub, blsPriv, err := keys.LoadOrGenerateBLS(filepath.Join(cfg.DataDir, "keys", "snapshot.key"), keyPassphrase)
	if err != nil {
		return nil, fmt.Errorf("node: load snapshot key: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "events.log"), logger)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	derived, anchorHash, err := loadDerivedState(cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, err
	}
	coldStartFrom := ""
	if anchorHash != "" && st.LatestHash() == "" {
		coldStartFrom = anchorHash
	}

	peerID, err := p2p.PeerIDFromPublicKey(peerPub)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("node: derive peer id: %w", err)
	}

	tracker := finality.New(finality.SybilPolicy(cfg.SybilPolicy), finality.Tiers{
		Tier1Max: cfg.Finality.Tier1Max,
		Tier2Max: cfg.Finality.Tier2Max,
	}, cfg.FinalityTime(), time.Now)

	elig := p2p.NewEligibilityChecker(
		finality.SybilPolicy(cfg.SybilPolicy),
		cfg.Sybil.Allowlist,
		cfg.Sybil.PowDifficulty,
		cfg.Sybil.MinStake,
		cfg.MaxClockSkew(),
		time.Now,
	)

	pipeline := validate.New(validate.Config{
		NonceWindow:  cfg.NonceWindow,
		MaxClockSkew: cfg.MaxClockSkew(),
	}, st, derived, time.Now)

	host, err := p2p.NewHost(p2p.HostConfig{Listen: cfg.P2P.Listen, Bootstrap: cfg.P2P.Bootstrap})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("node: start p2p host: %w", err)
	}

	syncer := p2p.NewSyncer(pipeline, st, tracker, elig, host, logger)

	snapMgr := snapshot.NewManager(snapshot.Policy{
		MinEvents:   cfg.Snapshot.MinEvents,
		MinInterval: cfg.SnapshotMinInterval(),
	}, peerID, blsPriv, time.Now)

	return &Node{
		cfg:           cfg,
		log:           logger,
		store:         st,
		state:         derived,
		pipeline:      pipeline,
		tracker:       tracker,
		elig:          elig,
		peers:         p2p.NewPeerBook(nil),
		host:          host,
		syncer:        syncer,
		snapMgr:       snapMgr,
		peerPub:       peerPub,
		peerPriv:      peerPriv,
		blsPub:        blsPub,
		blsPriv:       blsPriv,
		coldStartFrom: coldStartFrom,
		closing:       make(chan struct{}),
	}, nil
}

// PeerID returns the local node's transport peer id.
func (n *Node) PeerID() (string, error) {
	return p2p.PeerIDFromPublicKey(n.peerPub)
}

// DID returns the local node's did:claw: identity, derived from the same
// Ed25519 key that signs its events.
func (n *Node) DID() (string, error) {
	return clawid.DIDFromPublicKey(n.peerPub)
}

// Submit signs and submits a new event authored by this node: validate
// locally, then on acceptance publish it to the events topic.
func (n *Node) Submit(eventType, issuerDID string, payload json.RawMessage, ts int64, nonce uint64, prev string) error {
	env := &codec.Envelope{V: validate.ProtocolVersion, Type: eventType, Issuer: issuerDID, Ts: ts, Nonce: nonce, Payload: payload, Prev: prev}
	if err := codec.Sign(env, n.peerPriv); err != nil {
		return fmt.Errorf("node: sign event: %w", err)
	}
	if err := n.pipeline.Submit(env); err != nil {
		return err
	}
	return n.syncer.PublishLocalEvent(env, n.peerPriv, ts)
}

// Start launches the background gossip-receive, range-poll, and
// snapshot-build loops, mirroring core/replication.go's Start/readLoop
// shape: one goroutine per subscription, all tracked by Node.wg and
// stopped through Node.closing.
func (n *Node) Start(ctx context.Context) error {
	eventsCh, err := n.host.Subscribe(p2p.TopicEvents)
	if err != nil {
		return fmt.Errorf("node: subscribe events: %w", err)
	}
	requestsCh, err := n.host.Subscribe(p2p.TopicRequests)
	if err != nil {
		return fmt.Errorf("node: subscribe requests: %w", err)
	}
	responsesCh, err := n.host.Subscribe(p2p.TopicResponses)
	if err != nil {
		return fmt.Errorf("node: subscribe responses: %w", err)
	}

	n.wg.Add(4)
	go n.eventLoop(eventsCh)
	go n.requestLoop(requestsCh)
	go n.responseLoop(responsesCh)
	go n.tickLoop(ctx)

	return nil
}

func (n *Node) eventLoop(ch <-chan []byte) {
	defer n.wg.Done()
	for {
		select {
		case <-n.closing:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			n.dispatchEvent(raw)
		}
	}
}

// dispatchEvent peeks at the P2P envelope's declared sender to resolve
// its public key from the peer book before handing off to the syncer,
// which never trusts a self-declared key (p2p.Verify's contract).
func (n *Node) dispatchEvent(raw []byte) {
	var peek struct {
		Sender string `json:"sender"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		n.log.WithError(err).Debug("node: malformed p2p envelope on events topic")
		return
	}
	pub, ok := n.peers.Resolve(peek.Sender)
	if !ok {
		n.log.WithField("sender", peek.Sender).Debug("node: event from unknown peer, dropping")
		return
	}
	if err := n.syncer.HandleEventEnvelope(raw, pub); err != nil {
		n.log.WithError(err).Debug("node: event rejected")
	}
}

func (n *Node) requestLoop(ch <-chan []byte) {
	defer n.wg.Done()
	for {
		select {
		case <-n.closing:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			n.handleRequest(raw)
		}
	}
}

func (n *Node) handleRequest(raw []byte) {
	var wrapped p2p.Envelope
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		n.log.WithError(err).Debug("node: malformed request envelope")
		return
	}
	pub, ok := n.peers.Resolve(wrapped.Sender)
	if !ok {
		return
	}
	if err := p2p.Verify(&wrapped, pub); err != nil {
		n.log.WithError(err).Debug("node: request envelope failed verification")
		return
	}
	var body p2p.Body
	if err := json.Unmarshal(wrapped.Payload, &body); err != nil || body.Validate() != nil {
		n.log.Debug("node: malformed request body")
		return
	}
	if body.RangeRequest != nil {
		resp, err := n.syncer.HandleRangeRequest(*body.RangeRequest)
		if err != nil {
			n.log.WithError(err).Debug("node: range request failed")
			return
		}
		n.replyOnResponses(p2p.Body{RangeResponse: &resp})
	}
	if body.SnapshotRequest != nil {
		snap := n.snapMgr.Latest()
		if snap == nil {
			return
		}
		chunks, err := p2p.SplitForResponse(snap, n.cfg.Snapshot.MaxChunkBytes)
		if err != nil {
			n.log.WithError(err).Debug("node: split snapshot failed")
			return
		}
		for _, c := range chunks {
			n.replyOnResponses(p2p.Body{SnapshotResponse: &c})
		}
	}
}

func (n *Node) replyOnResponses(body p2p.Body) {
	payload, err := json.Marshal(body)
	if err != nil {
		n.log.WithError(err).Warn("node: marshal response body")
		return
	}
	env, err := p2p.Seal(p2p.TopicResponses, n.peerPriv, time.Now().Unix(), payload)
	if err != nil {
		n.log.WithError(err).Warn("node: seal response")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		n.log.WithError(err).Warn("node: marshal response envelope")
		return
	}
	if err := n.host.Publish(p2p.TopicResponses, data); err != nil {
		n.log.WithError(err).Warn("node: publish response")
	}
}

func (n *Node) responseLoop(ch <-chan []byte) {
	defer n.wg.Done()
	for {
		select {
		case <-n.closing:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			n.handleResponse(raw)
		}
	}
}

func (n *Node) handleResponse(raw []byte) {
	var wrapped p2p.Envelope
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return
	}
	pub, ok := n.peers.Resolve(wrapped.Sender)
	if !ok {
		return
	}
	if err := p2p.Verify(&wrapped, pub); err != nil {
		n.log.WithError(err).Debug("node: response envelope failed verification")
		return
	}
	var body p2p.Body
	if err := json.Unmarshal(wrapped.Payload, &body); err != nil || body.Validate() != nil {
		return
	}
	if body.RangeResponse != nil {
		accepted, err := n.syncer.ApplyRangeResponse(*body.RangeResponse)
		if err != nil {
			n.log.WithError(err).Debug("node: apply range response")
		} else {
			n.log.WithField("accepted", accepted).Debug("node: backfill applied")
		}
	}
	// SnapshotResponse assembly belongs to an explicit cold-start/resync
	// flow driven by the CLI (it needs a target quorum of BLS pubkeys the
	// background loop does not carry); the background loop here only
	// keeps the live log current via range sync.
}

func (n *Node) tickLoop(ctx context.Context) {
	defer n.wg.Done()
	rangeTicker := time.NewTicker(rangePollInterval)
	defer rangeTicker.Stop()
	snapTicker := time.NewTicker(snapshotCheckInterval)
	defer snapTicker.Stop()
	settleTicker := time.NewTicker(resourceSettleInterval)
	defer settleTicker.Stop()

	for {
		select {
		case <-n.closing:
			return
		case <-ctx.Done():
			return
		case <-rangeTicker.C:
			n.pollRange()
		case <-snapTicker.C:
			n.maybeBuildSnapshot()
		case <-settleTicker.C:
			n.syncer.SettleResources()
		}
	}
}

func (n *Node) pollRange() {
	req := n.syncer.BuildRangeRequest(512)
	if n.coldStartFrom != "" {
		req.From = n.coldStartFrom
		n.coldStartFrom = ""
	}
	payload, err := json.Marshal(p2p.Body{RangeRequest: &req})
	if err != nil {
		return
	}
	env, err := p2p.Seal(p2p.TopicRequests, n.peerPriv, time.Now().Unix(), payload)
	if err != nil {
		n.log.WithError(err).Warn("node: seal range request")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := n.host.Publish(p2p.TopicRequests, data); err != nil {
		n.log.WithError(err).Debug("node: publish range request")
	}
}

func (n *Node) maybeBuildSnapshot() {
	if !n.snapMgr.ShouldTrigger(n.store.Len()) {
		return
	}
	snap, err := n.snapMgr.BuildAndSign(n.state, n.store)
	if err != nil {
		n.log.WithError(err).Warn("node: build snapshot")
		return
	}
	if err := persistSnapshot(n.cfg.DataDir, snap); err != nil {
		n.log.WithError(err).Warn("node: persist snapshot")
		return
	}
	n.log.WithField("at", snap.At).Info("node: snapshot built")
}

// AddPeer registers a remote peer's public key, typically resolved from
// static bootstrap/allowlist configuration at startup.
func (n *Node) AddPeer(peerID string, pub ed25519.PublicKey) {
	n.peers.Add(peerID, pub)
}

// Close shuts the node down in the reverse order spec.md §7 specifies for
// the full API stack ("API -> sync -> P2P -> storage"); this node has no
// API layer, so it stops its own background loops, then the P2P host,
// then the store.
func (n *Node) Close() error {
	close(n.closing)
	n.wg.Wait()

	if err := n.host.Close(); err != nil {
		n.log.WithError(err).Warn("node: close host")
	}
	return n.store.Close()
}

func newLogger(cfg config.LoggingConfig) *log.Logger {
	if err := telemetry.Configure(cfg.Level, cfg.File); err != nil {
		telemetry.Logger(telemetry.Node).WithError(err).Warn("node: logging config fell back to defaults")
	}
	return telemetry.Logger(telemetry.Node)
}

// snapshotPath is the fixed on-disk location for the node's most recently
// built (or received) snapshot, read back on cold start.
func snapshotPath(dataDir string) string {
	return filepath.Join(dataDir, "snapshot.json")
}

// loadDerivedState cold-starts derived state from dataDir's persisted
// snapshot if one exists (spec.md §4.7), falling back to genesis.
func loadDerivedState(dataDir string) (*state.State, string, error) {
	raw, err := os.ReadFile(snapshotPath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot.ColdStart(nil)
		}
		return nil, "", fmt.Errorf("node: read snapshot: %w", err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, "", fmt.Errorf("node: decode snapshot: %w", err)
	}
	return snapshot.ColdStart(&snap)
}

func persistSnapshot(dataDir string, snap *snapshot.Snapshot) error {
	out, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tmp := snapshotPath(dataDir) + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, snapshotPath(dataDir))
}
