package model

type RebalanceStatus string

const (
	StatusInBalance RebalanceStatus = "in-balance"
	StatusMonitor   RebalanceStatus = "monitor"
	StatusRebalance RebalanceStatus = "rebalance"
)

// CategoryDrift.Drift is Current - Target in percentage points.
type CategoryDrift struct {
	Category string
	Current  float64
	Target   float64
	Drift    float64
	AbsDrift float64
}

type RebalancingStatus struct {
	Status    RebalanceStatus
	MaxDrift  float64
	Threshold float64
	Drifts    []CategoryDrift
}
