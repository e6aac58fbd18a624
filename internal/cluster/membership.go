package cluster

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// Join добавляет участника в кластер. Для поездки исчерпание мест
// автоматически переводит кластер в filled; корзина по сумме статус не меняет.
func Join(c *model.Cluster, actor model.Actor, payload model.Payload, eligible EligibilityFunc, now time.Time) ([]model.Event, error) {
	// Заполненная поездка отвечает ErrCapacityExceeded, а не ErrNotAccepting.
	seatsGone := c.Kind == model.KindRide && c.Status == model.StatusFilled
	if !Accepting(c.Kind, c.Status) && !seatsGone {
		return nil, fmt.Errorf("%w: join in status %s", ErrNotAccepting, c.Status)
	}
	if _, ok := c.Member(actor.ID); ok {
		return nil, ErrAlreadyMember
	}
	if len(c.Members) >= c.MaxMembers {
		return nil, fmt.Errorf("%w: %d of %d", ErrCapacityExceeded, len(c.Members), c.MaxMembers)
	}
	if !Accepting(c.Kind, c.Status) {
		return nil, fmt.Errorf("%w: join in status %s", ErrNotAccepting, c.Status)
	}
	if err := validatePayload(c.Kind, payload); err != nil {
		return nil, err
	}
	if c.Restricted {
		if eligible == nil {
			eligible = GenderMatch
		}
		if !eligible(actor, c) {
			return nil, fmt.Errorf("%w: ride is restricted", ErrForbidden)
		}
	}

	now = now.UTC()
	m := model.Membership{UserID: actor.ID, JoinedAt: now, Payload: payload}
	c.Members = append(c.Members, m)
	credit(c, m)
	c.UpdatedAt = now

	ev := newEvent(c, model.EventMemberJoined, actor.ID, now)
	ev.UserID = actor.ID
	events := []model.Event{ev}

	if c.Kind == model.KindRide && c.Status == model.StatusOpen && c.Capacity.Current <= 0 {
		from := c.Status
		c.Status = model.StatusFilled
		events = append(events, statusEvent(c, from, 0, now))
	}
	return events, nil
}

// Leave удаляет участника из кластера. Создатель покинуть кластер не может,
// ему доступна только отмена.
func Leave(c *model.Cluster, userID int64, now time.Time) ([]model.Event, error) {
	if userID == c.CreatorID {
		return nil, fmt.Errorf("%w: creator cannot leave, cancel instead", ErrForbidden)
	}
	idx, ok := c.Member(userID)
	if !ok {
		return nil, ErrNotAMember
	}
	if !Leavable(c.Kind, c.Status) {
		return nil, fmt.Errorf("%w: leave in status %s", ErrNotAccepting, c.Status)
	}

	now = now.UTC()
	recipients := c.MemberIDs()
	m := c.Members[idx]
	c.Members = slices.Delete(c.Members, idx, idx+1)
	debit(c, m)
	c.UpdatedAt = now

	ev := newEvent(c, model.EventMemberLeft, userID, now)
	ev.UserID = userID
	ev.Recipients = recipients
	events := []model.Event{ev}
	if sev, ok := reopenIfShort(c, now); ok {
		events = append(events, sev)
	}
	return events, nil
}

// UpdatePayload заменяет данные участника и пересчитывает агрегат.
func UpdatePayload(c *model.Cluster, userID int64, payload model.Payload, now time.Time) ([]model.Event, error) {
	idx, ok := c.Member(userID)
	if !ok {
		return nil, ErrNotAMember
	}
	if !Accepting(c.Kind, c.Status) {
		return nil, fmt.Errorf("%w: update in status %s", ErrNotAccepting, c.Status)
	}
	if err := validatePayload(c.Kind, payload); err != nil {
		return nil, err
	}

	now = now.UTC()
	debit(c, c.Members[idx])
	c.Members[idx].Payload = payload
	credit(c, c.Members[idx])
	c.UpdatedAt = now

	ev := newEvent(c, model.EventPayloadUpdated, userID, now)
	ev.UserID = userID
	events := []model.Event{ev}
	if sev, ok := reopenIfShort(c, now); ok {
		events = append(events, sev)
	}
	return events, nil
}

// reopenIfShort возвращает заполненную корзину в open, если сумма опустилась ниже цели.
func reopenIfShort(c *model.Cluster, now time.Time) (model.Event, bool) {
	if c.Kind != model.KindBasket || c.Status != model.StatusFilled {
		return model.Event{}, false
	}
	if c.Capacity.Current >= c.Capacity.Target {
		return model.Event{}, false
	}
	c.Status = model.StatusOpen
	return statusEvent(c, model.StatusFilled, 0, now), true
}

func validatePayload(kind model.Kind, payload model.Payload) error {
	if payload == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if payload.Kind() != kind {
		return fmt.Errorf("%w: %s payload for %s cluster", ErrInvalidPayload, payload.Kind(), kind)
	}
	switch p := payload.(type) {
	case model.BasketPayload:
		if p.OrderAmount <= 0 {
			return fmt.Errorf("%w: order amount must be positive", ErrInvalidPayload)
		}
	case model.RidePayload:
		if math.Abs(p.Pickup.Lat) > 90 || math.Abs(p.Pickup.Lng) > 180 {
			return fmt.Errorf("%w: pickup point out of range", ErrInvalidPayload)
		}
	}
	return nil
}
