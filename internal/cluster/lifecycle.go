package cluster

import (
	"fmt"
	"time"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// UpdateStatus переводит кластер в статус to по запросу участника actorID.
//
// Менять статус может только создатель. Переход, отсутствующий в таблице,
// отклоняется с ErrInvalidTransition. Вход в ready выдаёт коды получения
// всем участникам, кроме создателя, а сам создатель отмечается получившим
// заказ. Завершение корзины возможно только после получения всех заказов.
func UpdateStatus(c *model.Cluster, actorID int64, to model.Status, gen CodeGenerator, now time.Time) ([]model.Event, error) {
	if actorID != c.CreatorID {
		return nil, fmt.Errorf("%w: only the creator can change status", ErrForbidden)
	}
	from := c.Status
	if !CanTransition(c.Kind, from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if c.Kind == model.KindBasket && to == model.StatusCompleted {
		if pending := Uncollected(c); pending > 0 {
			return nil, fmt.Errorf("%w: %d members have not collected", ErrInvalidTransition, pending)
		}
	}

	now = now.UTC()
	var codes map[int64]string
	if c.Kind == model.KindBasket && to == model.StatusReady {
		issued, err := IssueAll(c, gen, now)
		if err != nil {
			return nil, err
		}
		codes = issued
	}

	c.Status = to
	c.UpdatedAt = now

	events := []model.Event{statusEvent(c, from, actorID, now)}
	if codes != nil {
		ev := newEvent(c, model.EventCodesIssued, actorID, now)
		ev.Codes = codes
		events = append(events, ev)
	}
	return events, nil
}

// Uncollected возвращает число участников, ещё не получивших заказ.
func Uncollected(c *model.Cluster) int {
	n := 0
	for _, m := range c.Members {
		if !m.Collected {
			n++
		}
	}
	return n
}
