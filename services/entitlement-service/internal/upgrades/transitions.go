package upgrades

import (
	"slices"

	"github.com/md-rashed-zaman/pharmagate/services/entitlement-service/internal/model"
)

type Transition struct {
	From model.UpgradeStatus
	To   model.UpgradeStatus
}

// Every transition moves forward; terminal states have no outgoing edges.
var validTransitions = map[Transition]bool{
	{model.UpgradeInitiated, model.UpgradePaymentPending}:        true, // transaction attached
	{model.UpgradeInitiated, model.UpgradePaymentFailed}:         true, // gateway refused or request abandoned
	{model.UpgradePaymentPending, model.UpgradePaymentConfirmed}: true, // paid, or pending accepted
	{model.UpgradePaymentPending, model.UpgradePaymentFailed}:    true, // declined, timed out, or abandoned
	{model.UpgradePaymentConfirmed, model.UpgradeAdminPending}:   true, // queued for review
	{model.UpgradeAdminPending, model.UpgradeApproved}:           true,
	{model.UpgradeAdminPending, model.UpgradeRejected}:           true,
}

func CanTransition(from, to model.UpgradeStatus) bool {
	return validTransitions[Transition{from, to}]
}

func ValidTransitionsFrom(from model.UpgradeStatus) []model.UpgradeStatus {
	targets := make([]model.UpgradeStatus, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}
