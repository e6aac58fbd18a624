package cluster

import (
	"math"

	"github.com/rajpalom13/move-meal-sub000/internal/fare"
	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// Ledger содержит производные показатели ёмкости для чтения.
type Ledger struct {
	Target               int64
	Current              int64
	AmountNeeded         model.Money
	SeatsAvailable       int
	ProgressPercent      int
	Ready                bool
	PerPersonDeliveryFee model.Money
}

// contribution возвращает вклад участника в агрегат: сумму заказа для
// корзины и одно место для поездки.
func contribution(m model.Membership) int64 {
	switch p := m.Payload.(type) {
	case model.BasketPayload:
		return int64(p.OrderAmount)
	case model.RidePayload:
		return 1
	}
	return 0
}

// Recompute вычисляет текущий агрегат кластера по списку участников.
func Recompute(c *model.Cluster) int64 {
	if c.Kind == model.KindRide {
		return c.Capacity.Target - int64(len(c.Members))
	}
	var sum int64
	for _, m := range c.Members {
		sum += contribution(m)
	}
	return sum
}

func credit(c *model.Cluster, m model.Membership) {
	if c.Kind == model.KindRide {
		c.Capacity.Current -= contribution(m)
		return
	}
	c.Capacity.Current += contribution(m)
}

func debit(c *model.Cluster, m model.Membership) {
	if c.Kind == model.KindRide {
		c.Capacity.Current += contribution(m)
		return
	}
	c.Capacity.Current -= contribution(m)
}

// AmountNeeded возвращает сумму, которой не хватает до минимальной корзины.
func AmountNeeded(c *model.Cluster) model.Money {
	if c.Kind != model.KindBasket {
		return 0
	}
	return model.Money(max(0, c.Capacity.Target-c.Capacity.Current))
}

// SeatsAvailable возвращает число свободных мест поездки.
func SeatsAvailable(c *model.Cluster) int {
	if c.Kind != model.KindRide {
		return max(0, c.MaxMembers-len(c.Members))
	}
	return int(max(0, c.Capacity.Current))
}

// ProgressPercent возвращает степень заполнения кластера в процентах, не более 100.
func ProgressPercent(c *model.Cluster) int {
	target := c.Capacity.Target
	if target <= 0 {
		return 100
	}
	filled := c.Capacity.Current
	if c.Kind == model.KindRide {
		filled = target - c.Capacity.Current
	}
	p := int(math.Round(float64(filled) * 100 / float64(target)))
	return min(100, max(0, p))
}

// Summarize собирает производные показатели кластера.
// Готовность только сообщается и никогда не меняет статус корзины.
func Summarize(c *model.Cluster) Ledger {
	l := Ledger{
		Target:          c.Capacity.Target,
		Current:         c.Capacity.Current,
		AmountNeeded:    AmountNeeded(c),
		SeatsAvailable:  SeatsAvailable(c),
		ProgressPercent: ProgressPercent(c),
	}
	if c.Kind == model.KindBasket {
		l.Ready = l.AmountNeeded == 0
		l.PerPersonDeliveryFee = fare.PerPersonDeliveryFee(c.DeliveryFee, len(c.Members))
	} else {
		l.Ready = l.SeatsAvailable == 0
	}
	return l
}
