package registry

import (
	"context"
	"time"

	"github.com/alexhulbert/tdx-identity/pkg/attestation"
	"github.com/alexhulbert/tdx-identity/pkg/types"
)

// validateRequestShape enforces that an owner binding may
// only accompany an already-present operator binding.
func validateRequestShape(req *types.RegisterRequest) error {
	if req.Owner != nil && req.Operator == nil {
		return InvalidRequest("owner requires operator to be set")
	}
	return nil
}

// verifyIdentitySignatures checks both directions
// of the mutual binding for each identity present on the request.
func verifyIdentitySignatures(req *types.RegisterRequest) error {
	if req.Operator != nil {
		if err := attestation.VerifyMutualBinding(req.InstancePubkey, req.Operator, types.RoleOperator); err != nil {
			return Unauthorized(err.Error())
		}
	}
	if req.Owner != nil {
		if err := attestation.VerifyMutualBinding(req.InstancePubkey, req.Owner, types.RoleOwner); err != nil {
			return Unauthorized(err.Error())
		}
	}
	return nil
}

// VerifierDeps bundles the collaborators needed to check a request's
// attestation quote, so they can be swapped for SKIP_TDX_AUTH/test doubles.
type VerifierDeps struct {
	CollateralFetcher attestation.CollateralFetcher
	QuoteVerifier     attestation.QuoteVerifier
	SkipTDXAuth       bool
}

// verifyAttestation checks that the quote's report-data
// equals the freshly computed attestation hash; unless SKIP_TDX_AUTH,
// the quote's PPID must match the request's claimed PPID and the quote
// must pass DCAP verification against freshly fetched collateral.
func verifyAttestation(ctx context.Context, deps VerifierDeps, req *types.RegisterRequest) error {
	expectedHash := attestation.BuildAttestationHash(req.InstancePubkey, req.PPID, req.Operator, req.Owner)

	quote, err := attestation.ParseQuote(req.AttestationQuote)
	if err != nil {
		return Unauthorized("malformed attestation quote")
	}
	if !quote.ReportInputDataMatches(expectedHash) {
		return Unauthorized("attestation quote report-data does not match expected hash")
	}

	if deps.SkipTDXAuth {
		return nil
	}

	ppid, err := attestation.PPIDFromCertificationTree(nil, quote.CertificationTop)
	if err != nil {
		return Unauthorized("failed to extract PPID from attestation quote")
	}
	if string(ppid) != string(req.PPID) {
		return Unauthorized("attestation quote PPID does not match request PPID")
	}

	collateralCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	collateral, err := deps.CollateralFetcher.FetchCollateral(collateralCtx, quote)
	if err != nil {
		return Unauthorized("failed to fetch attestation collateral")
	}
	if err := deps.QuoteVerifier.Verify(collateralCtx, quote, collateral, time.Now()); err != nil {
		return Unauthorized("attestation quote failed verification")
	}
	return nil
}

// validateExistingInstance enforces the grow-only monotonicity
// invariants against an existing entry, if any.
func validateExistingInstance(existing *types.RegistryEntry, req *types.RegisterRequest) error {
	if existing == nil {
		return nil
	}

	if string(existing.PPID) != string(req.PPID) {
		return Forbidden("ppid is immutable and does not match existing entry")
	}
	if err := matchesExistingIdentity(existing.Operator, req.Operator, "operator"); err != nil {
		return err
	}
	if err := matchesExistingIdentity(existing.Owner, req.Owner, "owner"); err != nil {
		return err
	}
	return nil
}

// matchesExistingIdentity implements the per-field monotonicity rule: None
// may be replaced by anything; Some must be replaced by an identical value;
// Some may never be replaced by None.
func matchesExistingIdentity(existing, incoming *types.IdentityInfo, field string) error {
	if existing == nil {
		return nil
	}
	if incoming == nil {
		return Forbidden(field + " is already bound and cannot be removed")
	}
	if string(existing.PublicKey) != string(incoming.PublicKey) ||
		string(existing.InstanceSignature) != string(incoming.InstanceSignature) ||
		string(existing.IdentitySignature) != string(incoming.IdentitySignature) {
		return Forbidden(field + " is already bound and cannot be replaced with a different binding")
	}
	return nil
}
