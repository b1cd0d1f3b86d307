package model

// Holding is derived from the transaction ledger of a single ETF.
// CostBasis is 0 whenever Quantity <= 0.
type Holding struct {
	Quantity  float64
	CostBasis float64
	TotalCost float64
}

type ProfitLoss struct {
	ProfitLoss        float64
	ProfitLossPercent float64
}

type HoldingDetail struct {
	Ticker            string
	Name              string
	Quantity          float64
	CurrentPrice      float64
	CurrentValue      float64
	CostBasis         float64
	TotalCost         float64
	ProfitLoss        float64
	ProfitLossPercent float64
	HasPrice          bool
}

type PortfolioMetrics struct {
	TotalValue             float64
	TotalCost              float64
	TotalProfitLoss        float64
	TotalProfitLossPercent float64
	Allocation             map[string]float64
	Holdings               []HoldingDetail
}
