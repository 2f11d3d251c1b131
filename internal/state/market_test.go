package state

import "testing"

func TestMarketListingOrderLifecycle(t *testing.T) {
	s := New()
	s.Accounts["claw1buyer"] = 1000

	if err := Apply(s, envWithPayload(t, "market.listing.create", "did:claw:seller", listingCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "listing-1"},
		Seller:      "claw1seller",
		Price:       50,
		Qty:         10,
	})); err != nil {
		t.Fatalf("listing create failed: %v", err)
	}

	if err := Apply(s, envWithPayload(t, "market.order.place", "did:claw:buyer", orderPlacePayload{
		ResourceRef: ResourceRef{ResourceID: "order-1"},
		ListingID:   "listing-1",
		Buyer:       "claw1buyer",
		Qty:         4,
	})); err != nil {
		t.Fatalf("order place failed: %v", err)
	}
	if got := s.Balance("claw1buyer"); got != 800 {
		t.Fatalf("buyer balance = %d, want 800", got)
	}
	if got := s.Listings["listing-1"].Qty; got != 6 {
		t.Fatalf("listing qty = %d, want 6", got)
	}

	if err := Apply(s, envWithPayload(t, "market.order.complete", "did:claw:buyer", orderCompletePayload{
		ResourceRef: ResourceRef{ResourceID: "order-1"},
	})); err != nil {
		t.Fatalf("order complete failed: %v", err)
	}
	if got := s.Balance("claw1seller"); got != 200 {
		t.Fatalf("seller balance = %d, want 200", got)
	}
	if got := s.Orders["order-1"].Status; got != OrderCompleted {
		t.Fatalf("order status = %s, want completed", got)
	}
}

func TestMarketOrderCancelRefundsBuyerAndRestocksListing(t *testing.T) {
	s := New()
	s.Accounts["claw1buyer"] = 500

	if err := Apply(s, envWithPayload(t, "market.listing.create", "did:claw:seller", listingCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "listing-2"},
		Seller:      "claw1seller",
		Price:       100,
		Qty:         2,
	})); err != nil {
		t.Fatalf("listing create failed: %v", err)
	}
	if err := Apply(s, envWithPayload(t, "market.order.place", "did:claw:buyer", orderPlacePayload{
		ResourceRef: ResourceRef{ResourceID: "order-2"},
		ListingID:   "listing-2",
		Buyer:       "claw1buyer",
		Qty:         2,
	})); err != nil {
		t.Fatalf("order place failed: %v", err)
	}
	if got := s.Listings["listing-2"].Status; got != ListingFilled {
		t.Fatalf("listing status = %s, want filled", got)
	}

	if err := Apply(s, envWithPayload(t, "market.order.cancel", "did:claw:buyer", orderCancelPayload{
		ResourceRef: ResourceRef{ResourceID: "order-2"},
	})); err != nil {
		t.Fatalf("order cancel failed: %v", err)
	}
	if got := s.Balance("claw1buyer"); got != 500 {
		t.Fatalf("buyer balance after cancel = %d, want 500", got)
	}
	if got := s.Listings["listing-2"].Status; got != ListingOpen {
		t.Fatalf("listing status after cancel = %s, want open", got)
	}
	if got := s.Listings["listing-2"].Qty; got != 2 {
		t.Fatalf("listing qty after cancel = %d, want 2", got)
	}
}

func TestMarketOrderPlaceRejectsOverQuantity(t *testing.T) {
	s := New()
	s.Accounts["claw1buyer"] = 1000
	if err := Apply(s, envWithPayload(t, "market.listing.create", "did:claw:seller", listingCreatePayload{
		ResourceRef: ResourceRef{ResourceID: "listing-3"},
		Seller:      "claw1seller",
		Price:       10,
		Qty:         1,
	})); err != nil {
		t.Fatalf("listing create failed: %v", err)
	}
	err := Apply(s, envWithPayload(t, "market.order.place", "did:claw:buyer", orderPlacePayload{
		ResourceRef: ResourceRef{ResourceID: "order-3"},
		ListingID:   "listing-3",
		Buyer:       "claw1buyer",
		Qty:         5,
	}))
	if err != ErrResourceBadState {
		t.Fatalf("got %v, want ErrResourceBadState", err)
	}
}
