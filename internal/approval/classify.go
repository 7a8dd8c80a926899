package approval

import "github.com/procuredata/console/internal/models"

// Buckets groups transactions by the viewer's role. A transaction appears
// in every bucket whose role the viewer plays.
type Buckets struct {
	Requested []*models.Transaction `json:"requested"`
	Provider  []*models.Transaction `json:"provider"`
	Holder    []*models.Transaction `json:"holder"`
}

func Classify(txs []*models.Transaction, org string) Buckets {
	b := Buckets{
		Requested: []*models.Transaction{},
		Provider:  []*models.Transaction{},
		Holder:    []*models.Transaction{},
	}
	for _, tx := range txs {
		for _, role := range RolesOf(tx, org) {
			switch role {
			case RoleConsumer:
				b.Requested = append(b.Requested, tx)
			case RoleProvider:
				b.Provider = append(b.Provider, tx)
			case RoleHolder:
				b.Holder = append(b.Holder, tx)
			}
		}
	}
	return b
}

type Stats struct {
	PendingApprovals      int `json:"pending_approvals"`
	ActiveTransactions    int `json:"active_transactions"`
	CompletedTransactions int `json:"completed_transactions"`
}

// Stats counts the dashboard figures for org. Pending approvals are the
// transactions org could approve right now.
func (m *Machine) Stats(txs []*models.Transaction, org string) Stats {
	var s Stats
	for _, tx := range txs {
		if m.CanApprove(tx, org) {
			s.PendingApprovals++
		}
		switch {
		case tx.Status == models.StatusCompleted:
			s.CompletedTransactions++
		case !tx.Status.IsTerminal():
			s.ActiveTransactions++
		}
	}
	return s
}
