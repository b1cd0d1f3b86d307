package twelveDataApi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/config"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/externalApi"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model/twelveDataModel"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const (
	timeSeriesUrl   = "/time_series"
	statusError     = "error"
	defaultCurrency = "USD"
)

var datetimeLayouts = []string{"2006-01-02 15:04:05", "2006-01-02"}

// TwelveDataApi fetches the latest intraday close of a ticker. One call is
// one attempt, retries are up to the caller.
type TwelveDataApi struct {
	client  *resty.Client
	apiKey  string
	timeout time.Duration
	now     func() time.Time
}

func New(cfg *config.Config) *TwelveDataApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.TwelveData.Url)
	return &TwelveDataApi{client: client, apiKey: cfg.API.TwelveData.ApiKey, timeout: cfg.API.Timeout, now: time.Now}
}

func (a *TwelveDataApi) GetPrice(ctx context.Context, ticker string) (model.PriceData, error) {
	rqId := utils.GetRequestIDFromCtx(ctx)
	op := "TwelveDataApi.GetPrice"
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	if ticker == "" || strings.ContainsAny(ticker, " \t\n") {
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: externalApi.CodeInvalidTicker, Message: "ticker is empty or malformed"}
	}

	if a.apiKey == "" {
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: externalApi.CodeMissingApiKey, Message: "api key is not configured"}
	}

	slog.Debug("start TwelveDataApi.GetPrice request", slog.String("rqID", rqId), slog.String("op", op), slog.String("ticker", ticker))

	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.R().
		SetContext(reqCtx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"symbol":     ticker,
			"interval":   "1min",
			"outputsize": "1",
			"apikey":     a.apiKey,
		}).
		Get(timeSeriesUrl)

	if err != nil {
		fetchErr := a.classifyTransportError(ctx, ticker, err)
		slog.Error("error while dialing TwelveDataApi", slog.String("rqID", rqId), slog.String("op", op), slog.String("code", string(fetchErr.Code)), slog.String("err", err.Error()))
		return model.PriceData{}, fetchErr
	}

	if resp.IsError() {
		code := externalApi.CodeHTTPError
		if resp.StatusCode() == http.StatusTooManyRequests {
			code = externalApi.CodeRateLimited
		}
		slog.Error("TwelveDataApi responded with error status", slog.String("rqID", rqId), slog.String("op", op), slog.Int("status", resp.StatusCode()))
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: code, Message: resp.Status(), HTTPStatus: resp.StatusCode()}
	}

	raw := twelveDataModel.RawTimeSeries{}
	err = json.Unmarshal(resp.Body(), &raw)
	if err != nil {
		slog.Error("can't unmarshall response into twelveDataModel.RawTimeSeries", slog.String("rqID", rqId), slog.String("op", op), slog.String("err", err.Error()))
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: externalApi.CodeInvalidResponse, Message: "malformed json", HTTPStatus: resp.StatusCode(), Err: err}
	}

	price, err := a.parseRawTimeSeries(ticker, raw)
	if err != nil {
		slog.Warn("can't get price from time series", slog.String("rqID", rqId), slog.String("op", op), slog.String("err", err.Error()))
		return model.PriceData{}, err
	}

	slog.Debug("TwelveDataApi.GetPrice request complete", slog.String("rqID", rqId), slog.String("op", op), slog.Float64("price", price.Price))

	return price, nil
}

func (a *TwelveDataApi) parseRawTimeSeries(ticker string, raw twelveDataModel.RawTimeSeries) (model.PriceData, error) {
	if raw.Status == statusError {
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: bodyErrorCode(raw.Code), Message: raw.Message, HTTPStatus: raw.Code}
	}

	if len(raw.Values) == 0 {
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: externalApi.CodeNoData, Message: "empty time series"}
	}

	latest := raw.Values[0]
	for _, v := range raw.Values[1:] {
		// формат datetime сортируется лексикографически
		if v.Datetime > latest.Datetime {
			latest = v
		}
	}

	closePrice, err := decimal.NewFromString(latest.Close)
	if err != nil {
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: externalApi.CodeInvalidResponse, Message: "close is not a number: " + latest.Close, Err: err}
	}
	if !closePrice.IsPositive() {
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: externalApi.CodeInvalidResponse, Message: "close is not positive: " + latest.Close}
	}

	currency := strings.ToUpper(raw.Meta.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	return model.PriceData{
		Ticker:    ticker,
		Price:     closePrice.InexactFloat64(),
		Timestamp: a.parseDatetime(latest.Datetime, raw.Meta.ExchangeTimezone),
		Currency:  currency,
		Source:    model.PriceSourceAPI,
	}, nil
}

// parseDatetime falls back to the current time when the provider sends an
// unknown layout.
func (a *TwelveDataApi) parseDatetime(value, timezone string) time.Time {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}

	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t
		}
	}

	return a.now()
}

func (a *TwelveDataApi) classifyTransportError(ctx context.Context, ticker string, err error) *externalApi.FetchError {
	fetchErr := &externalApi.FetchError{Ticker: ticker, Err: err}

	var netErr net.Error
	var urlErr *url.Error

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		fetchErr.Code = externalApi.CodeCancelled
		fetchErr.Message = "request cancelled"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		fetchErr.Code = externalApi.CodeTimeout
		fetchErr.Message = "request timed out after " + a.timeout.String()
	case errors.As(err, &urlErr), errors.As(err, &netErr):
		fetchErr.Code = externalApi.CodeNetworkError
		fetchErr.Message = "network failure"
	default:
		fetchErr.Code = externalApi.CodeUnknown
		fetchErr.Message = "unexpected error"
	}

	return fetchErr
}

func bodyErrorCode(code int) externalApi.ErrorCode {
	switch code {
	case http.StatusBadRequest, http.StatusNotFound:
		return externalApi.CodeInvalidSymbol
	case http.StatusTooManyRequests:
		return externalApi.CodeRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return externalApi.CodeMissingApiKey
	default:
		return externalApi.CodeApiError
	}
}
