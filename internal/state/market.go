package state

import (
	"encoding/json"
	"fmt"

	"github.com/clawnet/node/internal/codec"
	"github.com/clawnet/node/pkg/clawid"
)

// MarketModuleAddress escrows buyer funds between order.place and
// order.complete/order.cancel, same pattern as EscrowModuleAddress.
const MarketModuleAddress clawid.Address = "claw1marketmoduleaccount0000000000000000"

const (
	ListingOpen   = "open"
	ListingFilled = "filled"
	ListingClosed = "closed"

	OrderPlaced    = "placed"
	OrderCompleted = "completed"
	OrderCancelled = "cancelled"

	BidOpen      = "open"
	BidAccepted  = "accepted"
	BidWithdrawn = "withdrawn"
	BidRejected  = "rejected"
)

func init() {
	Register("market.listing.create", reduceListingCreate)
	Register("market.listing.close", reduceListingClose)
	Register("market.order.place", reduceOrderPlace)
	Register("market.order.complete", reduceOrderComplete)
	Register("market.order.cancel", reduceOrderCancel)
	Register("market.bid.place", reduceBidPlace)
	Register("market.bid.accept", reduceBidAccept)
	Register("market.bid.withdraw", reduceBidWithdraw)
}

type listingCreatePayload struct {
	ResourceRef
	Seller      clawid.Address `json:"seller"`
	ExternalRef string         `json:"externalRef,omitempty"`
	Price       uint64         `json:"price"`
	Qty         uint64         `json:"qty"`
}

func reduceListingCreate(s *State, env *codec.Envelope) error {
	var p listingCreatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Qty == 0 {
		return fmt.Errorf("%w: qty must be positive", ErrInvalidPayload)
	}
	s.withLock(func() {
		s.Listings[p.ResourceID] = Listing{
			ID:          p.ResourceID,
			Seller:      string(p.Seller),
			ResourceRef: p.ExternalRef,
			Price:       p.Price,
			Qty:         p.Qty,
			Status:      ListingOpen,
		}
		s.recordResource(p.ResourceID, env.Hash)
	})
	return nil
}

type listingClosePayload struct {
	ResourceRef
}

func reduceListingClose(s *State, env *codec.Envelope) error {
	var p listingClosePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		l, ok := s.Listings[p.ResourceID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if l.Status != ListingOpen {
			err = ErrResourceBadState
			return
		}
		l.Status = ListingClosed
		s.Listings[p.ResourceID] = l
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type orderPlacePayload struct {
	ResourceRef
	ListingID string         `json:"listingId"`
	Buyer     clawid.Address `json:"buyer"`
	Qty       uint64         `json:"qty"`
}

// reduceOrderPlace escrows the buyer's total price against the market
// module account and decrements listing quantity, marking the listing
// filled once its quantity is used up (spec.md §3.7's supplemented
// marketplace flow).
func reduceOrderPlace(s *State, env *codec.Envelope) error {
	var p orderPlacePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		l, ok := s.Listings[p.ListingID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if l.Status != ListingOpen || p.Qty == 0 || p.Qty > l.Qty {
			err = ErrResourceBadState
			return
		}
		total := l.Price * p.Qty
		if s.Accounts[p.Buyer] < total {
			err = ErrInsufficientBalance
			return
		}
		s.Accounts[p.Buyer] -= total
		s.Accounts[MarketModuleAddress] += total

		l.Qty -= p.Qty
		if l.Qty == 0 {
			l.Status = ListingFilled
		}
		s.Listings[p.ListingID] = l

		s.Orders[p.ResourceID] = Order{
			ID:         p.ResourceID,
			ListingID:  p.ListingID,
			Buyer:      string(p.Buyer),
			Qty:        p.Qty,
			TotalPrice: total,
			Status:     OrderPlaced,
		}
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type orderCompletePayload struct {
	ResourceRef
}

// reduceOrderComplete releases escrowed funds to the listing's seller.
func reduceOrderComplete(s *State, env *codec.Envelope) error {
	var p orderCompletePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		o, ok := s.Orders[p.ResourceID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if o.Status != OrderPlaced {
			err = ErrResourceBadState
			return
		}
		l, ok := s.Listings[o.ListingID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		s.Accounts[MarketModuleAddress] -= o.TotalPrice
		s.Accounts[clawid.Address(l.Seller)] += o.TotalPrice
		o.Status = OrderCompleted
		s.Orders[p.ResourceID] = o
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type orderCancelPayload struct {
	ResourceRef
}

// reduceOrderCancel refunds escrowed funds to the buyer and restores
// listing quantity.
func reduceOrderCancel(s *State, env *codec.Envelope) error {
	var p orderCancelPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		o, ok := s.Orders[p.ResourceID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if o.Status != OrderPlaced {
			err = ErrResourceBadState
			return
		}
		s.Accounts[MarketModuleAddress] -= o.TotalPrice
		s.Accounts[clawid.Address(o.Buyer)] += o.TotalPrice
		o.Status = OrderCancelled
		s.Orders[p.ResourceID] = o

		if l, ok := s.Listings[o.ListingID]; ok {
			l.Qty += o.Qty
			if l.Status == ListingFilled {
				l.Status = ListingOpen
			}
			s.Listings[o.ListingID] = l
		}
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type bidPlacePayload struct {
	ResourceRef
	ListingID string         `json:"listingId"`
	Bidder    clawid.Address `json:"bidder"`
	Amount    uint64         `json:"amount"`
}

func reduceBidPlace(s *State, env *codec.Envelope) error {
	var p bidPlacePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		l, ok := s.Listings[p.ListingID]
		if !ok || l.Status != ListingOpen {
			err = ErrResourceNotFound
			return
		}
		s.Bids[p.ResourceID] = Bid{
			ID:        p.ResourceID,
			ListingID: p.ListingID,
			Bidder:    string(p.Bidder),
			Amount:    p.Amount,
			Status:    BidOpen,
		}
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type bidAcceptPayload struct {
	ResourceRef
}

func reduceBidAccept(s *State, env *codec.Envelope) error {
	var p bidAcceptPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		b, ok := s.Bids[p.ResourceID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if b.Status != BidOpen {
			err = ErrResourceBadState
			return
		}
		b.Status = BidAccepted
		s.Bids[p.ResourceID] = b
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}

type bidWithdrawPayload struct {
	ResourceRef
}

func reduceBidWithdraw(s *State, env *codec.Envelope) error {
	var p bidWithdrawPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var err error
	s.withLock(func() {
		b, ok := s.Bids[p.ResourceID]
		if !ok {
			err = ErrResourceNotFound
			return
		}
		if b.Status != BidOpen {
			err = ErrResourceBadState
			return
		}
		b.Status = BidWithdrawn
		s.Bids[p.ResourceID] = b
		s.recordResource(p.ResourceID, env.Hash)
	})
	return err
}
