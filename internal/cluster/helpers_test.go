package cluster

import (
	"reflect"
	"testing"
	"time"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const creatorID int64 = 1

func newTestBasket(t *testing.T, target model.Money, maxMembers int, creatorAmount model.Money) *model.Cluster {
	t.Helper()

	c, events, err := NewBasket("basket-1", model.Actor{ID: creatorID}, model.BasketClusterInput{
		Title:              "Lunch at Koramangala",
		Location:           model.Point{Lat: 12.9352, Lng: 77.6245},
		MinimumBasket:      target,
		MaxMembers:         maxMembers,
		DeliveryDistanceKm: 3,
		ScheduledAt:        t0.Add(time.Hour),
		Order:              model.BasketPayload{OrderAmount: creatorAmount, Items: "thali"},
	}, t0)
	if err != nil {
		t.Fatalf("NewBasket error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != model.EventClusterCreated {
		t.Fatalf("expected cluster_created event, got %+v", events)
	}
	return c
}

func newTestRide(t *testing.T, seats int) *model.Cluster {
	t.Helper()

	c, _, err := NewRide("ride-1", model.Actor{ID: creatorID, Gender: "female"}, model.RideClusterInput{
		Title:         "Airport run",
		Origin:        model.Point{Lat: 12.9756, Lng: 77.6050},
		Destination:   model.Point{Lat: 13.1986, Lng: 77.7066},
		SeatsRequired: seats,
		TotalFare:     80000,
		DepartureAt:   t0.Add(2 * time.Hour),
		Pickup:        model.RidePayload{Pickup: model.Point{Lat: 12.9756, Lng: 77.6050}, Address: "MG Road"},
	}, t0)
	if err != nil {
		t.Fatalf("NewRide error: %v", err)
	}
	return c
}

func basketOrder(amount model.Money) model.Payload {
	return model.BasketPayload{OrderAmount: amount}
}

func ridePickup() model.Payload {
	return model.RidePayload{Pickup: model.Point{Lat: 12.97, Lng: 77.6}}
}

func mustJoin(t *testing.T, c *model.Cluster, userID int64, payload model.Payload) []model.Event {
	t.Helper()

	events, err := Join(c, model.Actor{ID: userID}, payload, nil, t0)
	if err != nil {
		t.Fatalf("Join(%d) error: %v", userID, err)
	}
	return events
}

// sequenceCodes выдаёт коды из списка по кругу.
type sequenceCodes struct {
	codes []string
	next  int
}

func (s *sequenceCodes) Generate() (string, error) {
	code := s.codes[s.next%len(s.codes)]
	s.next++
	return code, nil
}

func assertInvariants(t *testing.T, c *model.Cluster) {
	t.Helper()

	if len(c.Members) > c.MaxMembers {
		t.Fatalf("members %d exceed max %d", len(c.Members), c.MaxMembers)
	}
	if len(c.Members) == 0 || c.Members[0].UserID != c.CreatorID {
		t.Fatalf("creator must stay the first member, got %v", c.MemberIDs())
	}
	if got := Recompute(c); got != c.Capacity.Current {
		t.Fatalf("capacity current = %d, recomputed %d", c.Capacity.Current, got)
	}
}

func assertUnchanged(t *testing.T, before, after *model.Cluster) {
	t.Helper()

	if !reflect.DeepEqual(before, after) {
		t.Fatalf("failed operation changed the cluster:\nbefore %+v\nafter  %+v", before, after)
	}
}
