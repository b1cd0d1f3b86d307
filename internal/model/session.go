package model

type Session struct {
	Portfolio *Portfolio `json:"portfolio,omitempty"`
	Threshold float64    `json:"threshold,omitempty"`
}
