package twelveDataModel

// RawTimeSeries is the body of GET /time_series. On failure the provider
// answers 200 with Status "error" and fills Code and Message.
type RawTimeSeries struct {
	Meta    Meta    `json:"meta"`
	Values  []Value `json:"values"`
	Status  string  `json:"status"`
	Code    int     `json:"code"`
	Message string  `json:"message"`
}

type Meta struct {
	Symbol           string `json:"symbol"`
	Interval         string `json:"interval"`
	Currency         string `json:"currency"`
	ExchangeTimezone string `json:"exchange_timezone"`
	Exchange         string `json:"exchange"`
	Type             string `json:"type"`
}

// Value is a single candle, numbers are sent as strings.
type Value struct {
	Datetime string `json:"datetime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
}
