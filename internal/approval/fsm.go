package approval

import (
	"time"

	"github.com/procuredata/console/internal/models"
	"github.com/procuredata/console/pkg/utils"
)

type Role string

const (
	RoleConsumer Role = "consumer"
	RoleProvider Role = "provider"
	RoleHolder   Role = "holder"
	// RoleAny matches every caller, including organizations with no role.
	RoleAny Role = "any"
)

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Actor is the caller of a transition.
type Actor struct {
	UserID         string
	OrganizationID string
}

// Effect records the side effects of a transition on the copy being advanced.
type Effect func(tx *models.Transaction, actor Actor, at time.Time)

// Transition is one row of the state machine: from state, required role and
// action lead to the next state.
type Transition struct {
	From   models.TransactionStatus
	Role   Role
	Action Action
	To     models.TransactionStatus
	Effect Effect
}

func markSubjectApproved(tx *models.Transaction, actor Actor, at time.Time) {
	tx.SubjectApprovedAt = &at
	tx.SubjectApprovedBy = actor.UserID
}

func markHolderApproved(tx *models.Transaction, actor Actor, at time.Time) {
	tx.HolderApprovedAt = &at
	tx.HolderApprovedBy = actor.UserID
	completed := at
	tx.CompletedAt = &completed
}

// DefaultTransitions is the approval workflow: the consumer submits, the
// provider approves first, the holder approves second, and any non-terminal
// transaction may be rejected.
func DefaultTransitions() []Transition {
	return []Transition{
		{From: models.StatusInitiated, Role: RoleConsumer, Action: ActionSubmit, To: models.StatusPendingSubject},
		{From: models.StatusPendingSubject, Role: RoleProvider, Action: ActionApprove, To: models.StatusPendingHolder, Effect: markSubjectApproved},
		{From: models.StatusPendingHolder, Role: RoleHolder, Action: ActionApprove, To: models.StatusCompleted, Effect: markHolderApproved},
		{From: models.StatusInitiated, Role: RoleAny, Action: ActionReject, To: models.StatusRejected},
		{From: models.StatusPendingSubject, Role: RoleAny, Action: ActionReject, To: models.StatusRejected},
		{From: models.StatusPendingHolder, Role: RoleAny, Action: ActionReject, To: models.StatusRejected},
	}
}

type Machine struct {
	transitions []Transition
	now         func() time.Time
}

type MachineOption func(*Machine)

func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithTransitions(transitions []Transition) MachineOption {
	return func(m *Machine) {
		m.transitions = append([]Transition(nil), transitions...)
	}
}

func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{
		transitions: DefaultTransitions(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Table returns a copy of the transition rows.
func (m *Machine) Table() []Transition {
	return append([]Transition(nil), m.transitions...)
}

// RolesOf lists the roles org plays in tx. One organization may hold several.
func RolesOf(tx *models.Transaction, org string) []Role {
	if tx == nil || org == "" {
		return nil
	}
	var roles []Role
	if tx.ConsumerOrgID == org {
		roles = append(roles, RoleConsumer)
	}
	if tx.ProviderOrgID == org {
		roles = append(roles, RoleProvider)
	}
	if tx.HolderOrgID == org {
		roles = append(roles, RoleHolder)
	}
	return roles
}

func hasRole(tx *models.Transaction, org string, role Role) bool {
	if role == RoleAny {
		return true
	}
	for _, r := range RolesOf(tx, org) {
		if r == role {
			return true
		}
	}
	return false
}

// Lookup finds the row that lets org perform action on tx in its current state.
func (m *Machine) Lookup(tx *models.Transaction, org string, action Action) (Transition, bool) {
	if tx == nil {
		return Transition{}, false
	}
	for _, t := range m.transitions {
		if t.From == tx.Status && t.Action == action && hasRole(tx, org, t.Role) {
			return t, true
		}
	}
	return Transition{}, false
}

func (m *Machine) Can(tx *models.Transaction, org string, action Action) bool {
	_, ok := m.Lookup(tx, org, action)
	return ok
}

// CanApprove drives the UI approve affordance. It is the same lookup Apply uses.
func (m *Machine) CanApprove(tx *models.Transaction, org string) bool {
	return m.Can(tx, org, ActionApprove)
}

// AvailableActions lists what org may do next, in table order.
func (m *Machine) AvailableActions(tx *models.Transaction, org string) []Action {
	var actions []Action
	seen := make(map[Action]bool)
	for _, t := range m.transitions {
		if seen[t.Action] {
			continue
		}
		if tx != nil && t.From == tx.Status && hasRole(tx, org, t.Role) {
			actions = append(actions, t.Action)
			seen[t.Action] = true
		}
	}
	return actions
}

// Apply returns an advanced copy of tx. tx itself is never modified; on a
// refused action the error is FORBIDDEN and nothing changes.
func (m *Machine) Apply(tx *models.Transaction, actor Actor, action Action) (*models.Transaction, error) {
	t, ok := m.Lookup(tx, actor.OrganizationID, action)
	if !ok {
		return nil, permissionError(tx, actor, action)
	}

	next := tx.Clone()
	at := m.now()
	next.Status = t.To
	next.UpdatedAt = at
	next.Version++
	if t.Effect != nil {
		t.Effect(next, actor, at)
	}
	return next, nil
}

func permissionError(tx *models.Transaction, actor Actor, action Action) error {
	appErr := utils.NewAppError(utils.CodeForbidden, "insufficient permission", nil).
		WithDetail("action", string(action)).
		WithDetail("organization_id", actor.OrganizationID)
	if tx != nil {
		appErr = appErr.WithDetail("status", string(tx.Status)).
			WithDetail("transaction_id", tx.ID.String())
	}
	return appErr
}
