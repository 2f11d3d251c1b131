package p2p

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	log "github.com/sirupsen/logrus"
)

// HostConfig carries the subset of spec.md §6's config keys Host needs:
// p2p.listen and p2p.bootstrap multiaddresses.
type HostConfig struct {
	Listen    []string
	Bootstrap []string
}

// Host wraps a libp2p host plus gossipsub, joined to ClawNet's three
// protocol topics, mirroring the teacher's core/network.go Node: one
// libp2p.Host, one pubsub.PubSub, topic/subscription maps guarded by
// their own locks.
type Host struct {
	host   libp2phost.Host
	pubsub *pubsub.PubSub

	topicLock sync.Mutex
	topics    map[string]*pubsub.Topic

	subLock sync.Mutex
	subs    map[string]*pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHost creates a libp2p host bound to cfg.Listen, starts gossipsub on
// it, joins the three ClawNet topics, and dials cfg.Bootstrap.
func NewHost(cfg HostConfig) (*Host, error) {
	ctx, cancel := context.WithCancel(context.Background())

	opts := make([]libp2p.Option, 0, len(cfg.Listen))
	for _, addr := range cfg.Listen {
		opts = append(opts, libp2p.ListenAddrStrings(addr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: create gossipsub: %w", err)
	}

	host := &Host{
		host:   h,
		pubsub: ps,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, topic := range []string{TopicEvents, TopicRequests, TopicResponses} {
		if _, err := host.join(topic); err != nil {
			host.Close()
			return nil, fmt.Errorf("p2p: join topic %s: %w", topic, err)
		}
	}

	if err := host.dialBootstrap(cfg.Bootstrap); err != nil {
		log.Warnf("p2p: bootstrap dial warning: %v", err)
	}

	return host, nil
}

func (h *Host) join(topic string) (*pubsub.Topic, error) {
	h.topicLock.Lock()
	defer h.topicLock.Unlock()
	if t, ok := h.topics[topic]; ok {
		return t, nil
	}
	t, err := h.pubsub.Join(topic)
	if err != nil {
		return nil, err
	}
	h.topics[topic] = t
	return t, nil
}

func (h *Host) dialBootstrap(seeds []string) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := h.host.Connect(h.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Publish satisfies Syncer's Publisher interface.
func (h *Host) Publish(topic string, data []byte) error {
	t, err := h.join(topic)
	if err != nil {
		return fmt.Errorf("p2p: publish join %s: %w", topic, err)
	}
	if err := t.Publish(h.ctx, data); err != nil {
		return fmt.Errorf("p2p: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel of raw message bytes received on topic.
// The channel closes when the subscription's underlying context ends.
func (h *Host) Subscribe(topic string) (<-chan []byte, error) {
	t, err := h.join(topic)
	if err != nil {
		return nil, err
	}
	h.subLock.Lock()
	sub, ok := h.subs[topic]
	if !ok {
		sub, err = t.Subscribe()
		if err != nil {
			h.subLock.Unlock()
			return nil, fmt.Errorf("p2p: subscribe %s: %w", topic, err)
		}
		h.subs[topic] = sub
	}
	h.subLock.Unlock()

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(h.ctx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == h.host.ID() {
				continue
			}
			select {
			case out <- msg.Data:
			case <-h.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ID returns the local libp2p peer id (transport-level, distinct from the
// ClawNet peer id p2p.PeerIDFromPublicKey derives from the signing key).
func (h *Host) ID() peer.ID { return h.host.ID() }

// Close tears down pubsub subscriptions and the libp2p host, the first
// step of the node's reverse-order shutdown (spec.md §7: "API -> sync ->
// P2P -> storage close").
func (h *Host) Close() error {
	h.cancel()
	return h.host.Close()
}
