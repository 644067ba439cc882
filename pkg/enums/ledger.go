package enums

import "fmt"

// LedgerDirection is the sign of a ledger entry.
type LedgerDirection string

const (
	LedgerCredit LedgerDirection = "credit"
	LedgerDebit  LedgerDirection = "debit"
)

func (d LedgerDirection) String() string {
	return string(d)
}

func (d LedgerDirection) IsValid() bool {
	return d == LedgerCredit || d == LedgerDebit
}

// LedgerReason maps to the ledger_reason enum in Postgres.
type LedgerReason string

const (
	LedgerReasonWalletPurchase       LedgerReason = "wallet_purchase"
	LedgerReasonSellerEarningRelease LedgerReason = "seller_earning_release"
	LedgerReasonReferralCommission   LedgerReason = "referral_commission"
	LedgerReasonPlatformFee          LedgerReason = "platform_fee"
	LedgerReasonRefund               LedgerReason = "refund"
	LedgerReasonEarningClawback      LedgerReason = "earning_clawback"
	LedgerReasonTopUp                LedgerReason = "top_up"
	LedgerReasonAdjustment           LedgerReason = "adjustment"
)

var validLedgerReasons = []LedgerReason{
	LedgerReasonWalletPurchase,
	LedgerReasonSellerEarningRelease,
	LedgerReasonReferralCommission,
	LedgerReasonPlatformFee,
	LedgerReasonRefund,
	LedgerReasonEarningClawback,
	LedgerReasonTopUp,
	LedgerReasonAdjustment,
}

func (r LedgerReason) String() string {
	return string(r)
}

// IsValid reports whether the value matches the canonical ledger_reason enum.
func (r LedgerReason) IsValid() bool {
	for _, candidate := range validLedgerReasons {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseLedgerReason converts raw input into a LedgerReason.
func ParseLedgerReason(value string) (LedgerReason, error) {
	for _, candidate := range validLedgerReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger reason %q", value)
}
