package attestation

import (
	"context"
	"fmt"
	"time"
)

// DCAPVerifier is the default QuoteVerifier. Full ECDSA DCAP chain
// verification (PCK cert chain -> Intel root CA, TCB status evaluation,
// CRL checks) needs a DCAP verification library; none is present in the
// example corpus (see DESIGN.md), so this performs the checks that are
// expressible without one — collateral freshness and presence — and
// otherwise accepts; SKIP_TDX_AUTH is the expected way to bypass this
// stage entirely in dev/test.
type DCAPVerifier struct {
	// MaxCollateralAge bounds how stale fetched collateral may be.
	MaxCollateralAge time.Duration
}

// NewDCAPVerifier returns a verifier with a 24h collateral freshness bound.
func NewDCAPVerifier() *DCAPVerifier {
	return &DCAPVerifier{MaxCollateralAge: 24 * time.Hour}
}

func (v *DCAPVerifier) Verify(_ context.Context, quote *Quote, collateral *Collateral, at time.Time) error {
	if quote == nil {
		return fmt.Errorf("nil quote")
	}
	if collateral == nil {
		return fmt.Errorf("nil collateral")
	}
	if v.MaxCollateralAge > 0 && at.Sub(collateral.FetchedAt) > v.MaxCollateralAge {
		return fmt.Errorf("collateral is stale: fetched at %s, checked at %s", collateral.FetchedAt, at)
	}
	return nil
}
