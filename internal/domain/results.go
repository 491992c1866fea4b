package domain

import "github.com/shopspring/decimal"

// Replay is embedded in every mutating result. Duplicate is set when the
// result was served from a stored idempotency record.
type Replay struct {
	Duplicate bool `json:"duplicate,omitempty"`
}

func (r *Replay) MarkDuplicate() { r.Duplicate = true }

type BatchDetail struct {
	Replay
	Batch         ManufacturingBatch  `json:"batch"`
	Usages        []MaterialUsage     `json:"material_usages"`
	Costs         []ManufacturingCost `json:"costs"`
	QualityChecks []QualityCheck      `json:"quality_checks"`
	Adjustments   []ProductAdjustment `json:"adjustments"`
	Transfer      *InventoryTransfer  `json:"transfer,omitempty"`
	MaterialCost  decimal.Decimal     `json:"material_cost"`
	TotalCost     decimal.Decimal     `json:"total_cost"`
}

type TransferResult struct {
	Replay
	Transfer InventoryTransfer   `json:"transfer"`
	Source   *FinishedGoodsEntry `json:"source,omitempty"`
	Dest     *FinishedGoodsEntry `json:"destination,omitempty"`
}

type FundDetail struct {
	Replay
	Fund   Fund        `json:"fund"`
	Usages []FundUsage `json:"usages"`
}

type FundUsageResult struct {
	Replay
	Fund  Fund      `json:"fund"`
	Usage FundUsage `json:"usage"`
}

type SaleDetail struct {
	Replay
	Sale       Sale            `json:"sale"`
	Items      []SaleItem      `json:"items"`
	Payments   []Payment       `json:"payments"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Balance    decimal.Decimal `json:"balance_due"`
}

type PaymentResult struct {
	Replay
	Sale    Sale    `json:"sale"`
	Payment Payment `json:"payment"`
}

type PurchaseResult struct {
	Replay
	Purchase Purchase    `json:"purchase"`
	Material RawMaterial `json:"material"`
	Fund     *Fund       `json:"fund,omitempty"`
}

// DeletionResult lists the compensations applied before the entity was
// removed.
type DeletionResult struct {
	Replay
	EntityType string   `json:"entity_type"`
	EntityID   string   `json:"entity_id"`
	Reversals  []string `json:"reversals"`
}

type UserResult struct {
	Replay
	User User `json:"user"`
}

type ProductResult struct {
	Replay
	Product Product `json:"product"`
}

type CustomerResult struct {
	Replay
	Customer Customer `json:"customer"`
}

type MaterialResult struct {
	Replay
	Material RawMaterial `json:"material"`
}
