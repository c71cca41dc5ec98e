package waitlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/Martian-dev/mail-gateway/internal/model"
)

// Decision is the outcome of a waitlist check.
type Decision int

const (
	Approved Decision = iota
	NotFound
	PendingApproval
	Rejected
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case NotFound:
		return "not_found"
	case PendingApproval:
		return "pending_approval"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Gate authorizes federated logins against the waitlist. It never writes.
type Gate struct {
	entries model.WaitlistStore
}

func NewGate(entries model.WaitlistStore) *Gate {
	return &Gate{entries: entries}
}

// Authorize returns the entry and Approved, or a non-approved decision with
// an *model.AuthorizationDenied carrying the reason to show the user.
func (g *Gate) Authorize(ctx context.Context, email string) (*model.WaitlistEntry, Decision, error) {
	email = model.NormalizeEmail(email)

	entry, err := g.entries.GetWaitlistEntry(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, NotFound, &model.AuthorizationDenied{
				Email:  email,
				Reason: fmt.Sprintf("%s not found in our waiting list. Please join the waiting list first.", email),
			}
		}
		return nil, NotFound, fmt.Errorf("failed to check waiting list: %w", err)
	}

	switch entry.Status {
	case model.WaitlistApproved:
		return entry, Approved, nil
	case model.WaitlistRejected:
		return entry, Rejected, &model.AuthorizationDenied{
			Email:  email,
			Reason: fmt.Sprintf("%s was not approved for access.", email),
		}
	default:
		return entry, PendingApproval, &model.AuthorizationDenied{
			Email:  email,
			Reason: fmt.Sprintf("%s is on our waiting list but has not been approved yet.", email),
		}
	}
}
