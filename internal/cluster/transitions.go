package cluster

import (
	"slices"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// basketTransitions перечисляет переходы корзины, доступные создателю.
var basketTransitions = map[model.Status][]model.Status{
	model.StatusOpen:       {model.StatusFilled, model.StatusOrdered, model.StatusCancelled},
	model.StatusFilled:     {model.StatusOpen, model.StatusOrdered, model.StatusCancelled},
	model.StatusOrdered:    {model.StatusReady, model.StatusCancelled},
	model.StatusReady:      {model.StatusCollecting, model.StatusCancelled},
	model.StatusCollecting: {model.StatusCompleted, model.StatusCancelled},
}

// rideTransitions перечисляет переходы поездки, доступные создателю.
// open -> filled выполняется только автоматически при исчерпании мест.
var rideTransitions = map[model.Status][]model.Status{
	model.StatusOpen:       {model.StatusInProgress, model.StatusCancelled},
	model.StatusFilled:     {model.StatusInProgress, model.StatusCancelled},
	model.StatusInProgress: {model.StatusCompleted, model.StatusCancelled},
}

var transitionSets = map[model.Kind]map[model.Status]map[model.Status]struct{}{
	model.KindBasket: buildTransitionSet(basketTransitions),
	model.KindRide:   buildTransitionSet(rideTransitions),
}

func buildTransitionSet(transitions map[model.Status][]model.Status) map[model.Status]map[model.Status]struct{} {
	set := make(map[model.Status]map[model.Status]struct{}, len(transitions))
	for from, tos := range transitions {
		next := make(map[model.Status]struct{}, len(tos))
		for _, to := range tos {
			next[to] = struct{}{}
		}
		set[from] = next
	}
	return set
}

// CanTransition сообщает, может ли создатель перевести кластер из from в to.
func CanTransition(kind model.Kind, from, to model.Status) bool {
	next, ok := transitionSets[kind][from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// AllowedTransitions возвращает статусы, доступные создателю из from.
func AllowedTransitions(kind model.Kind, from model.Status) []model.Status {
	switch kind {
	case model.KindBasket:
		return slices.Clone(basketTransitions[from])
	case model.KindRide:
		return slices.Clone(rideTransitions[from])
	}
	return nil
}

// Statuses возвращает все статусы, которые может принимать кластер данного вида.
func Statuses(kind model.Kind) []model.Status {
	if kind == model.KindRide {
		return []model.Status{
			model.StatusOpen, model.StatusFilled, model.StatusInProgress,
			model.StatusCompleted, model.StatusCancelled,
		}
	}
	return []model.Status{
		model.StatusOpen, model.StatusFilled, model.StatusOrdered, model.StatusReady,
		model.StatusCollecting, model.StatusCompleted, model.StatusCancelled,
	}
}

// Accepting сообщает, принимает ли кластер новых участников и изменения заказов.
func Accepting(kind model.Kind, status model.Status) bool {
	if kind == model.KindRide {
		return status == model.StatusOpen
	}
	return status == model.StatusOpen || status == model.StatusFilled
}

// Leavable сообщает, может ли участник покинуть кластер в данном статусе.
// Корзина фиксирует состав после заказа, поездка после выхода из open.
func Leavable(kind model.Kind, status model.Status) bool {
	return Accepting(kind, status)
}
