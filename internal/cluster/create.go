package cluster

import (
	"fmt"
	"strings"
	"time"

	"github.com/rajpalom13/move-meal-sub000/internal/fare"
	"github.com/rajpalom13/move-meal-sub000/internal/geo"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// NewBasket создаёт кластер-корзину; создатель вступает первым участником.
func NewBasket(id string, creator model.Actor, in model.BasketClusterInput, now time.Time) (*model.Cluster, []model.Event, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, nil, fmt.Errorf("%w: title is required", ErrInvalidPayload)
	}
	if in.MinimumBasket <= 0 {
		return nil, nil, fmt.Errorf("%w: minimum basket must be positive", ErrInvalidPayload)
	}
	if in.MaxMembers < 2 {
		return nil, nil, fmt.Errorf("%w: cluster needs room for at least two members", ErrInvalidPayload)
	}
	if err := validatePayload(model.KindBasket, in.Order); err != nil {
		return nil, nil, err
	}

	now = now.UTC()
	c := &model.Cluster{
		ID:                 id,
		Kind:               model.KindBasket,
		Title:              title,
		CreatorID:          creator.ID,
		Capacity:           model.Capacity{Target: int64(in.MinimumBasket)},
		Status:             model.StatusOpen,
		MaxMembers:         in.MaxMembers,
		Location:           in.Location,
		DeliveryDistanceKm: in.DeliveryDistanceKm,
		DeliveryFee:        fare.DeliveryFee(in.DeliveryDistanceKm),
		ScheduledAt:        in.ScheduledAt.UTC(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	first := model.Membership{UserID: creator.ID, JoinedAt: now, Payload: in.Order}
	c.Members = []model.Membership{first}
	credit(c, first)

	return c, []model.Event{newEvent(c, model.EventClusterCreated, creator.ID, now)}, nil
}

// NewRide создаёт кластер-поездку; создатель занимает первое место.
// Доля каждого участника вычисляется один раз при создании.
func NewRide(id string, creator model.Actor, in model.RideClusterInput, now time.Time) (*model.Cluster, []model.Event, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, nil, fmt.Errorf("%w: title is required", ErrInvalidPayload)
	}
	if in.SeatsRequired < 2 {
		return nil, nil, fmt.Errorf("%w: ride needs at least two seats", ErrInvalidPayload)
	}
	if in.TotalFare < 0 {
		return nil, nil, fmt.Errorf("%w: fare must not be negative", ErrInvalidPayload)
	}
	gender := strings.ToLower(strings.TrimSpace(creator.Gender))
	if in.Restricted && gender == "" {
		return nil, nil, fmt.Errorf("%w: restricted ride requires creator gender", ErrInvalidPayload)
	}
	if err := validatePayload(model.KindRide, in.Pickup); err != nil {
		return nil, nil, err
	}

	total := in.TotalFare
	if total == 0 {
		total = fare.RideFare(geo.Haversine(in.Origin, in.Destination))
	}

	now = now.UTC()
	dest := in.Destination
	c := &model.Cluster{
		ID:            id,
		Kind:          model.KindRide,
		Title:         title,
		CreatorID:     creator.ID,
		Capacity:      model.Capacity{Target: int64(in.SeatsRequired), Current: int64(in.SeatsRequired)},
		Status:        model.StatusOpen,
		MaxMembers:    in.SeatsRequired,
		Restricted:    in.Restricted,
		Location:      in.Origin,
		Destination:   &dest,
		TotalFare:     total,
		FarePerPerson: fare.FarePerPerson(total, in.SeatsRequired),
		ScheduledAt:   in.DepartureAt.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.Restricted {
		c.RestrictedTo = gender
	}
	first := model.Membership{UserID: creator.ID, JoinedAt: now, Payload: in.Pickup}
	c.Members = []model.Membership{first}
	credit(c, first)

	return c, []model.Event{newEvent(c, model.EventClusterCreated, creator.ID, now)}, nil
}

func newEvent(c *model.Cluster, kind model.EventKind, actorID int64, now time.Time) model.Event {
	return model.Event{
		Kind:        kind,
		ClusterID:   c.ID,
		ClusterKind: c.Kind,
		ActorID:     actorID,
		Recipients:  c.MemberIDs(),
		OccurredAt:  now,
	}
}

func statusEvent(c *model.Cluster, from model.Status, actorID int64, now time.Time) model.Event {
	ev := newEvent(c, model.EventStatusChanged, actorID, now)
	ev.From = from
	ev.To = c.Status
	return ev
}
