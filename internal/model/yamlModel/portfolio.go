package yamlModel

// Portfolio mirrors the uploaded YAML file.
type Portfolio struct {
	Name             string             `yaml:"name"`
	TargetAllocation map[string]float64 `yaml:"targetAllocation"`
	Etfs             map[string]ETF     `yaml:"etfs"`
}

type ETF struct {
	Ticker       string        `yaml:"ticker"`
	Name         string        `yaml:"name"`
	AssetClasses []AssetClass  `yaml:"assetClasses"`
	Transactions []Transaction `yaml:"transactions"`
}

type AssetClass struct {
	Name       string  `yaml:"name"`
	Category   string  `yaml:"category"`
	Percentage float64 `yaml:"percentage"`
}

type Transaction struct {
	Date     string  `yaml:"date"`
	Quantity float64 `yaml:"quantity"`
	Price    float64 `yaml:"price"`
}
