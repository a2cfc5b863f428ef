// Package quota maps a caller identity onto a numeric monthly limit and the
// ledger key that accounts for it.
package quota

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pixlens/pixlens-gateway/internal/billing"
	"github.com/pixlens/pixlens-gateway/internal/identity"
)

// Dimension is the unit being metered. Each dimension has independent
// Free/Pro ceilings.
type Dimension string

const (
	DimensionRequests Dimension = "requests"
	DimensionScans    Dimension = "scans"
	DimensionTokens   Dimension = "tokens"
)

// Tier is the caller's access level, derived from billing state.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// Pair holds the Free/Pro ceilings for one dimension.
type Pair struct {
	Free int64
	Pro  int64
}

// AnonymousPair holds the ceilings for unauthenticated callers, keyed by
// whether a best-effort email accompanied the IP.
type AnonymousPair struct {
	IPOnly    int64
	WithEmail int64
}

// Limits is the static limit table. Pro strictly exceeds Free for every
// dimension.
type Limits struct {
	Tiered    map[Dimension]Pair
	Anonymous map[Dimension]AnonymousPair
}

// DefaultLimits returns the production limit table.
func DefaultLimits() Limits {
	return Limits{
		Tiered: map[Dimension]Pair{
			DimensionRequests: {Free: 30, Pro: 300},
			DimensionScans:    {Free: 5, Pro: 300},
			DimensionTokens:   {Free: 100_000, Pro: 1_000_000},
		},
		Anonymous: map[Dimension]AnonymousPair{
			DimensionRequests: {IPOnly: 10, WithEmail: 30},
			DimensionScans:    {IPOnly: 3, WithEmail: 5},
			DimensionTokens:   {IPOnly: 20_000, WithEmail: 50_000},
		},
	}
}

// Validate checks tier monotonicity across the table.
func (l Limits) Validate() error {
	for dim, pair := range l.Tiered {
		if pair.Pro <= pair.Free {
			return fmt.Errorf("quota: dimension %s: pro limit %d must exceed free limit %d", dim, pair.Pro, pair.Free)
		}
		if pair.Free <= 0 {
			return fmt.Errorf("quota: dimension %s: free limit must be positive", dim)
		}
	}
	for dim, pair := range l.Anonymous {
		if pair.IPOnly <= 0 || pair.WithEmail < pair.IPOnly {
			return fmt.Errorf("quota: dimension %s: anonymous limits %d/%d invalid", dim, pair.IPOnly, pair.WithEmail)
		}
	}
	return nil
}

// Resolution is the output of a policy lookup.
type Resolution struct {
	Limit     int64
	LedgerKey string
	Tier      Tier
	Status    billing.Status
}

// Policy resolves limits and ledger keys. A billing lookup failure degrades
// to Free tier and is logged, never surfaced to the caller.
type Policy struct {
	limits  Limits
	billing billing.StatusProvider
	logger  *log.Logger
}

// NewPolicy builds a Policy. billing may be nil, in which case every caller
// is Free tier.
func NewPolicy(limits Limits, b billing.StatusProvider) (*Policy, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Policy{limits: limits, billing: b}, nil
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (p *Policy) SetLogger(logger *log.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

func (p *Policy) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Lookup fetches fresh billing status for the identity's email. No email
// means Free tier with no remote call.
func (p *Policy) Lookup(ctx context.Context, id identity.Identity) billing.Status {
	if id.Email == "" || p.billing == nil {
		return billing.Status{}
	}
	status, err := p.billing.Status(ctx, id.Email)
	if err != nil {
		// Billing unavailability must not fail the request.
		p.logf("billing_lookup_failed email=%s err=%v", id.Email, err)
		return billing.Status{}
	}
	return status
}

// Resolve yields the limit and ledger key for one identity and dimension,
// performing a fresh billing lookup.
func (p *Policy) Resolve(ctx context.Context, id identity.Identity, dim Dimension) (Resolution, error) {
	return p.ResolveWith(id, dim, p.Lookup(ctx, id))
}

// ResolveWith resolves against an already-fetched billing status, so one
// request meters several dimensions on a single lookup.
func (p *Policy) ResolveWith(id identity.Identity, dim Dimension, status billing.Status) (Resolution, error) {
	pair, ok := p.limits.Tiered[dim]
	if !ok {
		return Resolution{}, fmt.Errorf("quota: unknown dimension %q", dim)
	}

	tier := TierFree
	if status.Active {
		tier = TierPro
	}

	res := Resolution{Tier: tier, Status: status}
	switch id.Kind {
	case identity.KindUser:
		res.LedgerKey = userKey(id.UserID, dim)
		res.Limit = pair.Free
		if tier == TierPro {
			res.Limit = pair.Pro
		}
	case identity.KindAnonymous:
		anon, ok := p.limits.Anonymous[dim]
		if !ok {
			return Resolution{}, fmt.Errorf("quota: dimension %q has no anonymous limits", dim)
		}
		res.LedgerKey = anonymousKey(id.IP, id.Email, dim)
		if id.Email != "" {
			res.Limit = anon.WithEmail
			if tier == TierPro {
				res.Limit = pair.Pro
			}
		} else {
			res.Limit = anon.IPOnly
		}
	default:
		return Resolution{}, fmt.Errorf("quota: unknown identity kind %q", id.Kind)
	}
	return res, nil
}

// userKey addresses an authenticated caller's counter. Scans live directly
// at users/{id} (the historical bucket); other dimensions get their own
// sub-bucket so counters never collide.
func userKey(userID string, dim Dimension) string {
	base := "users/" + Sanitize(userID)
	if dim == DimensionScans {
		return base
	}
	return base + "/" + string(dim)
}

// anonymousKey addresses an unauthenticated caller's counter. The requests
// dimension lives directly at requests/{ip}[_{email}]; other dimensions
// get a sub-bucket. The IP passes through Sanitize, so 1.2.3.4 is stored
// at requests/1_2_3_4 rather than the raw dotted form.
func anonymousKey(ip, email string, dim Dimension) string {
	base := "requests/" + Sanitize(ip)
	if email != "" {
		base += "_" + Sanitize(email)
	}
	if dim == DimensionRequests {
		return base
	}
	return base + "/" + string(dim)
}

// forbiddenKeyChars are characters illegal in ledger path segments.
const forbiddenKeyChars = ".#$[]:@/"

// Sanitize replaces characters illegal in ledger path segments with
// underscores. It is idempotent and never emits a forbidden character.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(forbiddenKeyChars, r) {
			return '_'
		}
		return r
	}, s)
}

// FirstOfNextMonth returns UTC midnight on the first day of the month after
// now. This is the quota reset instant reported in 429 envelopes.
func FirstOfNextMonth(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
