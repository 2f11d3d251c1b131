package p2p

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/internal/finality"
	"github.com/clawnet/node/internal/store"
	"github.com/clawnet/node/internal/validate"
	log "github.com/sirupsen/logrus"
)

// Publisher is the one thing Syncer needs from the transport: a way to
// publish framed bytes on a topic. *Host satisfies it; tests substitute a
// stub so sync logic is exercised without a live libp2p network.
type Publisher interface {
	Publish(topic string, data []byte) error
}

// Syncer implements spec.md §4.6's gossip-delivery and range-request
// backfill rules over an already-validated Pipeline. It is transport
// agnostic: Host feeds it raw pubsub bytes and it feeds Host bytes to
// publish, but it never touches libp2p types directly.
type Syncer struct {
	mu          sync.Mutex
	pipeline    *validate.Pipeline
	store       *store.Store
	tracker     *finality.Tracker
	eligibility *EligibilityChecker
	pub         Publisher
	log         *log.Logger

	forwardedFrom map[string]map[string]struct{} // event hash -> peer ids already credited/rebroadcast-from
}

// NewSyncer wires a Syncer over an already-constructed pipeline/store/
// tracker/eligibility checker. pub may be nil, letting tests exercise
// HandleEventEnvelope and the range-request path without a network.
func NewSyncer(pipeline *validate.Pipeline, st *store.Store, tracker *finality.Tracker, elig *EligibilityChecker, pub Publisher, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Syncer{
		pipeline:      pipeline,
		store:         st,
		tracker:       tracker,
		eligibility:   elig,
		pub:           pub,
		log:           logger,
		forwardedFrom: make(map[string]map[string]struct{}),
	}
}

// PublishLocalEvent wraps a locally-accepted event envelope in a signed
// P2P envelope and publishes it on the events topic (spec.md §4.6's "on
// event acceptance locally, publish on events").
func (s *Syncer) PublishLocalEvent(env *codec.Envelope, peerKey ed25519.PrivateKey, ts int64) error {
	if s.pub == nil {
		return errors.New("p2p: syncer has no attached publisher")
	}
	full, err := env.EncodeFull()
	if err != nil {
		return err
	}
	wrapped, err := Seal(TopicEvents, peerKey, ts, full)
	if err != nil {
		return err
	}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return err
	}
	return s.pub.Publish(TopicEvents, data)
}

// HandleEventEnvelope processes one inbound message on the events topic
// (spec.md §4.6's numbered gossip-delivery steps): verify the P2P
// envelope, decode and run the event through the validation pipeline, and
// on acceptance record the sighting and selectively re-broadcast.
func (s *Syncer) HandleEventEnvelope(raw []byte, senderPub ed25519.PublicKey) error {
	var wrapped Envelope
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return fmt.Errorf("%w: decode p2p envelope: %v", ErrMalformed, err)
	}
	if err := Verify(&wrapped, senderPub); err != nil {
		return err
	}
	env, err := codec.DecodeEnvelope(wrapped.Payload)
	if err != nil {
		return fmt.Errorf("%w: decode event envelope: %v", ErrMalformed, err)
	}

	submitErr := s.pipeline.Submit(env)
	switch {
	case submitErr == nil, errors.Is(submitErr, validate.ErrBuffered), errors.Is(submitErr, validate.ErrResourcePending):
		// accepted, buffered awaiting a nonce gap, or windowed awaiting
		// resource-conflict settlement: count the sighting and forward
		// once per sender.
	case isRejection(submitErr, validate.KindQuarantine):
		s.log.WithField("hash", env.Hash).Debug("p2p: quarantined event, not forwarding")
		return submitErr
	default:
		s.recordConflict(submitErr)
		return submitErr
	}

	if s.eligibility.IsEligible(wrapped.Sender) {
		s.tracker.RecordSighting(env.Hash, wrapped.Sender)
	}
	s.maybeRebroadcast(env, wrapped.Sender, raw)
	return nil
}

func isRejection(err error, kind validate.Kind) bool {
	var rej *validate.Rejection
	if !errors.As(err, &rej) {
		return false
	}
	return rej.Kind == kind
}

// recordConflict flags a KindConflict rejection's conflicting hash with
// the finality tracker, so elapsed-time finality (spec.md §4.8) cannot
// apply to a hash that a real, later-arriving conflict was raised
// against.
func (s *Syncer) recordConflict(err error) {
	var rej *validate.Rejection
	if !errors.As(err, &rej) || rej.Kind != validate.KindConflict || rej.ConflictHash == "" {
		return
	}
	s.tracker.RecordConflict(rej.ConflictHash)
}

// SettleResources resolves resource-mutating updates that have finished
// waiting in the pipeline's contention window (spec.md §4.3's hash
// tie-break), flagging every contested hash with the finality tracker so
// a resource slot with a genuine conflict can never reach elapsed-time
// finality. Called periodically by the node's background tick loop.
func (s *Syncer) SettleResources() {
	for _, result := range s.pipeline.SettleResources() {
		if len(result.Rejected) == 0 {
			continue
		}
		if result.Winner != nil {
			s.tracker.RecordConflict(result.Winner.Hash)
		}
		for _, rejected := range result.Rejected {
			s.tracker.RecordConflict(rejected.Hash)
		}
	}
}

// maybeRebroadcast re-publishes raw on the events topic, but only once
// per (hash, sender) pair, per spec.md §4.6's "re-broadcast only if not
// previously seen from this peer".
func (s *Syncer) maybeRebroadcast(env *codec.Envelope, sender string, raw []byte) {
	s.mu.Lock()
	seen, ok := s.forwardedFrom[env.Hash]
	if !ok {
		seen = make(map[string]struct{})
		s.forwardedFrom[env.Hash] = seen
	}
	_, already := seen[sender]
	seen[sender] = struct{}{}
	s.mu.Unlock()
	if already || s.pub == nil {
		return
	}
	if err := s.pub.Publish(TopicEvents, raw); err != nil {
		s.log.WithError(err).Warn("p2p: rebroadcast failed")
	}
}

// BuildRangeRequest constructs the next backfill request, anchored at the
// local log's current head.
func (s *Syncer) BuildRangeRequest(limit int) RangeRequest {
	return RangeRequest{From: s.store.LatestHash(), Limit: limit}
}

// HandleRangeRequest answers a peer's RangeRequest from the local log
// (spec.md §4.6's responder side).
func (s *Syncer) HandleRangeRequest(req RangeRequest) (RangeResponse, error) {
	events, cursor, err := s.store.LogRange(req.From, req.Limit)
	if err != nil {
		return RangeResponse{}, err
	}
	return RangeResponse{Events: events, Cursor: cursor}, nil
}

// ApplyRangeResponse feeds every event in resp through the validation
// pipeline. A backfill batch commonly carries both sides of a resource
// race that already settled on the sending peer, so the batch is first
// resolved locally with validate.ResolveBatch (spec.md §4.3's hash
// tie-break applied batch-wide) before each survivor is submitted in
// order; this keeps an already-decided loser out of the pipeline's
// contention window entirely instead of making it wait out
// ResourceSettleWindow for no reason. Per spec.md §4.6, out-of-order
// arrival is absorbed by the pipeline's own replay buffer (up to
// NONCE_WINDOW); events beyond that silently fail here and are expected
// to be re-requested on the next backfill tick. Returns the count
// actually accepted (applied, buffered, or windowed), not erroring out on
// individual rejections.
func (s *Syncer) ApplyRangeResponse(resp RangeResponse) (accepted int, err error) {
	envs := make([]*codec.Envelope, 0, len(resp.Events))
	for _, raw := range resp.Events {
		env, decodeErr := codec.DecodeEnvelope(raw)
		if decodeErr != nil {
			s.log.WithError(decodeErr).Warn("p2p: dropping malformed backfill event")
			continue
		}
		envs = append(envs, env)
	}

	for _, env := range validate.ResolveBatch(envs) {
		submitErr := s.pipeline.Submit(env)
		switch {
		case submitErr == nil, errors.Is(submitErr, validate.ErrBuffered), errors.Is(submitErr, validate.ErrResourcePending):
			accepted++
			continue
		}
		s.recordConflict(submitErr)
		s.log.WithFields(log.Fields{"hash": env.Hash, "err": submitErr}).Debug("p2p: backfill event rejected")
	}
	return accepted, nil
}
