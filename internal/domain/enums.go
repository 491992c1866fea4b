package domain

type Role string

const (
	RoleOwner             Role = "owner"
	RoleProductionManager Role = "production_manager"
	RoleDistributor       Role = "distributor"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleProductionManager, RoleDistributor:
		return true
	}
	return false
}

type CustomerKind string

const (
	CustomerRetail     CustomerKind = "retail"
	CustomerShopkeeper CustomerKind = "shopkeeper"
)

func (k CustomerKind) Valid() bool {
	return k == CustomerRetail || k == CustomerShopkeeper
}

type Location string

const (
	LocationManufacturing Location = "manufacturing"
	LocationWholesale     Location = "wholesale"
	LocationTransit       Location = "transit"
)

func (l Location) Valid() bool {
	switch l {
	case LocationManufacturing, LocationWholesale, LocationTransit:
		return true
	}
	return false
}

type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchCutting   BatchStatus = "cutting"
	BatchStitching BatchStatus = "stitching"
	BatchIroning   BatchStatus = "ironing"
	BatchPackaging BatchStatus = "packaging"
	BatchCompleted BatchStatus = "completed"
)

func (s BatchStatus) Valid() bool {
	_, _, ok := s.step()
	return ok
}

// Next returns the only status a batch may move to without an owner override.
func (s BatchStatus) Next() (BatchStatus, bool) {
	next, _, ok := s.step()
	if !ok || next == "" {
		return "", false
	}
	return next, true
}

func (s BatchStatus) CanAdvanceTo(target BatchStatus) bool {
	next, ok := s.Next()
	return ok && next == target
}

func (s BatchStatus) Terminal() bool {
	_, terminal, _ := s.step()
	return terminal
}

func (s BatchStatus) step() (next BatchStatus, terminal bool, ok bool) {
	switch s {
	case BatchPending:
		return BatchCutting, false, true
	case BatchCutting:
		return BatchStitching, false, true
	case BatchStitching:
		return BatchIroning, false, true
	case BatchIroning:
		return BatchPackaging, false, true
	case BatchPackaging:
		return BatchCompleted, false, true
	case BatchCompleted:
		return "", true, true
	}
	return "", false, false
}

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferConfirmed TransferStatus = "confirmed"
)

type FundType string

const (
	FundInvestment FundType = "investment"
	FundReturn     FundType = "return"
)

type FundStatus string

const (
	FundActive   FundStatus = "active"
	FundDepleted FundStatus = "depleted"
	FundReturned FundStatus = "returned"
)

type FundUsageType string

const (
	UsagePurchase          FundUsageType = "purchase"
	UsageManufacturingCost FundUsageType = "manufacturing_cost"
	UsageOther             FundUsageType = "other"
)

func (t FundUsageType) Valid() bool {
	switch t {
	case UsagePurchase, UsageManufacturingCost, UsageOther:
		return true
	}
	return false
}

type ReturnApproval string

const (
	ReturnPending  ReturnApproval = "pending"
	ReturnApproved ReturnApproval = "approved"
)

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)
