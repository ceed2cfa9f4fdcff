package entitlement

import "errors"

var (
	// ErrNotEligible is returned when a reactivation is requested for a
	// reseller whose window or traffic quota is still invalid.
	ErrNotEligible = errors.New("entitlement: reseller not eligible for reactivation")

	// ErrWalletBilled is returned when the traffic enforcer is pointed at a
	// wallet-billed reseller; those transitions belong to the biller.
	ErrWalletBilled = errors.New("entitlement: reseller is wallet billed")
)
