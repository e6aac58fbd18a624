package cluster

import (
	"strings"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

// EligibilityFunc решает, может ли участник вступить в поездку с ограничением.
type EligibilityFunc func(actor model.Actor, c *model.Cluster) bool

// GenderMatch допускает участника, если его пол совпадает с ограничением поездки.
func GenderMatch(actor model.Actor, c *model.Cluster) bool {
	if c.RestrictedTo == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(actor.Gender), c.RestrictedTo)
}
