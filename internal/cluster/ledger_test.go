package cluster

import (
	"testing"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name    string
		kind    model.Kind
		target  int64
		current int64
		want    int
	}{
		{name: "basket empty", kind: model.KindBasket, target: 50000, current: 0, want: 0},
		{name: "basket rounding", kind: model.KindBasket, target: 30000, current: 10000, want: 33},
		{name: "basket over target", kind: model.KindBasket, target: 30000, current: 45000, want: 100},
		{name: "ride one of four", kind: model.KindRide, target: 4, current: 3, want: 25},
		{name: "ride full", kind: model.KindRide, target: 4, current: 0, want: 100},
		{name: "zero target", kind: model.KindBasket, target: 0, current: 0, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &model.Cluster{Kind: tt.kind, Capacity: model.Capacity{Target: tt.target, Current: tt.current}}
			if got := ProgressPercent(c); got != tt.want {
				t.Fatalf("ProgressPercent = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSummarizeBasketSplitsDeliveryFee(t *testing.T) {
	c := newTestBasket(t, 50000, 5, 10000)
	mustJoin(t, c, 2, basketOrder(10000))
	mustJoin(t, c, 3, basketOrder(10000))

	// 3 км -> 3000 пайсов, делится на троих.
	l := Summarize(c)
	if c.DeliveryFee != 3000 {
		t.Fatalf("delivery fee = %d, want 3000", c.DeliveryFee)
	}
	if l.PerPersonDeliveryFee != 1000 {
		t.Fatalf("per person fee = %d, want 1000", l.PerPersonDeliveryFee)
	}
	if l.SeatsAvailable != 2 {
		t.Fatalf("slots available = %d, want 2", l.SeatsAvailable)
	}
}

func TestRideFareSplitAtCreation(t *testing.T) {
	c := newTestRide(t, 4)
	if c.FarePerPerson != 20000 {
		t.Fatalf("fare per person = %d, want 20000", c.FarePerPerson)
	}

	mustJoin(t, c, 2, ridePickup())
	if c.FarePerPerson != 20000 {
		t.Fatalf("fare per person must not change on join, got %d", c.FarePerPerson)
	}
}

func TestRideFareComputedWhenMissing(t *testing.T) {
	c, _, err := NewRide("ride-2", model.Actor{ID: creatorID}, model.RideClusterInput{
		Title:         "Office",
		Origin:        model.Point{Lat: 12.9756, Lng: 77.6050},
		Destination:   model.Point{Lat: 12.9352, Lng: 77.6245},
		SeatsRequired: 3,
		Pickup:        model.RidePayload{},
	}, t0)
	if err != nil {
		t.Fatalf("NewRide error: %v", err)
	}
	if c.TotalFare <= 5000 {
		t.Fatalf("total fare = %d, want base plus distance", c.TotalFare)
	}
	if c.FarePerPerson*3 < c.TotalFare {
		t.Fatalf("per person %d does not cover total %d", c.FarePerPerson, c.TotalFare)
	}
}

func TestNewClusterValidation(t *testing.T) {
	if _, _, err := NewBasket("b", model.Actor{ID: 1}, model.BasketClusterInput{
		Title: "x", MinimumBasket: 100, MaxMembers: 1, Order: model.BasketPayload{OrderAmount: 10},
	}, t0); err == nil {
		t.Fatalf("expected error for single-member basket")
	}
	if _, _, err := NewRide("r", model.Actor{ID: 1}, model.RideClusterInput{
		Title: "x", SeatsRequired: 3, Restricted: true,
	}, t0); err == nil {
		t.Fatalf("expected error for restricted ride without creator gender")
	}

	c, _, err := NewRide("r", model.Actor{ID: 1, Gender: " Female "}, model.RideClusterInput{
		Title: "x", SeatsRequired: 3, Restricted: true, TotalFare: 100,
	}, t0)
	if err != nil {
		t.Fatalf("NewRide error: %v", err)
	}
	if c.RestrictedTo != "female" {
		t.Fatalf("restricted to = %q, want female", c.RestrictedTo)
	}
	if c.Members[0].UserID != 1 || SeatsAvailable(c) != 2 {
		t.Fatalf("creator must occupy the first seat: %+v", c.Members)
	}
}
