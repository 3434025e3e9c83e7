// Package guardrail classifies proposed autonomous actions against the
// tenant's policy sets. The checker is pure: no I/O, no mutation, and a
// deterministic verdict for a given action.
package guardrail

import (
	"sort"

	"github.com/diamondhholdings-hub/agent-army-sub001/internal/config"
	"github.com/diamondhholdings-hub/agent-army-sub001/internal/domain"
)

// Checker holds immutable policy sets copied at construction. Two
// checkers built from different configs never share state.
type Checker struct {
	hardStops        map[string]struct{}
	approvalRequired map[string]struct{}
	autonomous       map[string]struct{}
	restrictedStages map[string]struct{}
}

// New builds a Checker from a guardrail policy. The policy slices are
// copied; later mutation of the config does not affect the checker.
func New(p config.GuardrailPolicy) *Checker {
	return &Checker{
		hardStops:        toSet(p.HardStops),
		approvalRequired: toSet(p.ApprovalRequired),
		autonomous:       toSet(p.Autonomous),
		restrictedStages: toSet(p.RestrictedStages),
	}
}

func toSet(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}

// Check classifies one proposed action. First match wins: hard stop,
// approval required, autonomous (with stage gate), then the fail-safe
// default for unrecognized types. The default is never "allow".
func (c *Checker) Check(action domain.AutonomyAction) domain.GuardrailResult {
	if _, ok := c.hardStops[action.ActionType]; ok {
		return domain.GuardrailResult{Allowed: false, Reason: domain.ReasonHardStop, RequiresHuman: true}
	}
	if _, ok := c.approvalRequired[action.ActionType]; ok {
		return domain.GuardrailResult{Allowed: false, Reason: domain.ReasonApprovalRequired, RequiresHuman: true}
	}
	if _, ok := c.autonomous[action.ActionType]; ok {
		if action.DealStage != "" {
			if _, restricted := c.restrictedStages[action.DealStage]; restricted {
				return domain.GuardrailResult{Allowed: false, Reason: domain.ReasonStageGate, RequiresHuman: true}
			}
		}
		return domain.GuardrailResult{Allowed: true, Reason: domain.ReasonAutonomous, RequiresHuman: false}
	}
	return domain.GuardrailResult{Allowed: false, Reason: domain.ReasonUnknownActionType, RequiresHuman: true}
}

// ClassifyAction returns the tier an action type belongs to, without
// action-instance context. Unknown types default to approval required.
func (c *Checker) ClassifyAction(actionType string) domain.ActionCategory {
	if _, ok := c.hardStops[actionType]; ok {
		return domain.CategoryHardStop
	}
	if _, ok := c.approvalRequired[actionType]; ok {
		return domain.CategoryApprovalRequired
	}
	if _, ok := c.autonomous[actionType]; ok {
		return domain.CategoryAutonomous
	}
	return domain.CategoryApprovalRequired
}

// AllowedActions lists the action types eligible to run autonomously.
func (c *Checker) AllowedActions() []string {
	return sortedKeys(c.autonomous)
}

// RestrictedAction pairs a restricted type with the reason it is gated.
type RestrictedAction struct {
	ActionType string                 `json:"action_type"`
	Reason     domain.GuardrailReason `json:"reason"`
}

// RestrictedActions lists hard stops and approval-required types with
// their reasons.
func (c *Checker) RestrictedActions() []RestrictedAction {
	res := make([]RestrictedAction, 0, len(c.hardStops)+len(c.approvalRequired))
	for _, t := range sortedKeys(c.hardStops) {
		res = append(res, RestrictedAction{ActionType: t, Reason: domain.ReasonHardStop})
	}
	for _, t := range sortedKeys(c.approvalRequired) {
		res = append(res, RestrictedAction{ActionType: t, Reason: domain.ReasonApprovalRequired})
	}
	return res
}

// RestrictedStages lists the deal stages that gate autonomous actions.
func (c *Checker) RestrictedStages() []string {
	return sortedKeys(c.restrictedStages)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
