// Package billing resolves subscription state for an email address.
package billing

import (
	"context"
	"time"
)

// Status is the subscription snapshot for one email. It is looked up fresh
// per request and never cached across requests.
type Status struct {
	Active     bool       `json:"isActive"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	PlanID     string     `json:"planId,omitempty"`
	CustomerID string     `json:"-"`
}

// StatusProvider looks up (and lazily provisions) a billing customer record
// for an email.
type StatusProvider interface {
	Status(ctx context.Context, email string) (Status, error)
}
