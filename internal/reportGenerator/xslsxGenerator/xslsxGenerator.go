package xslsxGenerator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet      = "Сводка"
	rebalancingSheet  = "Ребалансировка"
	transactionsSheet = "Операции"

	colorBlue   = "#cfe2f3"
	colorGreen  = "#d9ead3"
	colorOrange = "#f9cb9c"
	colorPink   = "#f4cccc"
	colorGrey   = "#cccccc"
)

type XSLSXGenerator struct{}

func New() *XSLSXGenerator {
	return &XSLSXGenerator{}
}

func (g *XSLSXGenerator) Generate(ctx context.Context, report model.PortfolioReport) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XSLSXGenerator.Generate"

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	fillers := []struct {
		sheet string
		fill  func(f *excelize.File, sheet string, report model.PortfolioReport) error
	}{
		{sheet: summarySheet, fill: g.fillSummary},
		{sheet: rebalancingSheet, fill: g.fillRebalancing},
		{sheet: transactionsSheet, fill: g.fillTransactions},
	}

	for _, filler := range fillers {
		if _, err := f.NewSheet(filler.sheet); err != nil {
			slog.Error("got error while creating NewSheet", slog.String("rqID", rqID), slog.String("op", op), slog.String("sheet", filler.sheet), slog.String("err", err.Error()))
			return nil, "", err
		}
		if err := filler.fill(f, filler.sheet, report); err != nil {
			slog.Error("got error while filling sheet", slog.String("rqID", rqID), slog.String("op", op), slog.String("sheet", filler.sheet), slog.String("err", err.Error()))
			return nil, "", err
		}
	}

	// Удаляем лист по умолчанию "Sheet1"
	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("got error while Saving file to bytes buffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate completed", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XSLSXGenerator) fillSummary(f *excelize.File, sheet string, report model.PortfolioReport) error {
	title := report.Name
	if title == "" {
		title = "Портфель"
	}
	if err := g.sectionHeader(f, sheet, "A1", "J1", fmt.Sprintf("%s на %s", title, report.GeneratedAt.Format("02.01.2006 15:04")), colorBlue); err != nil {
		return err
	}

	g.setRow(f, sheet, 2, "тикер", "название", "кол-во", "цена", "стоимость", "средняя цена", "вложено", "P&L", "P&L %", "источник цены")

	row := 3
	for _, h := range report.Metrics.Holdings {
		g.setRow(f, sheet, row, h.Ticker, h.Name, h.Quantity)
		if h.HasPrice {
			g.setRowFrom(f, sheet, row, "D", round(h.CurrentPrice), round(h.CurrentValue))
		} else {
			g.setRowFrom(f, sheet, row, "D", "нет данных", "нет данных")
		}
		g.setRowFrom(f, sheet, row, "F", round(h.CostBasis), round(h.TotalCost), round(h.ProfitLoss), round(h.ProfitLossPercent))
		g.setRowFrom(f, sheet, row, "J", priceSource(h.Ticker, report.Errors))
		row++
	}

	row++
	if err := g.sectionHeader(f, sheet, cell("A", row), cell("B", row), "Итого", colorGreen); err != nil {
		return err
	}
	row++
	m := report.Metrics
	for _, kv := range [][2]any{
		{"стоимость", round(m.TotalValue)},
		{"вложено", round(m.TotalCost)},
		{"P&L", round(m.TotalProfitLoss)},
		{"P&L %", round(m.TotalProfitLossPercent)},
	} {
		g.setRow(f, sheet, row, kv[0], kv[1])
		row++
	}

	if len(report.Errors) == 0 {
		return nil
	}

	row++
	if err := g.sectionHeader(f, sheet, cell("A", row), cell("C", row), "Проблемы с ценами", colorPink); err != nil {
		return err
	}
	row++
	g.setRow(f, sheet, row, "тикер", "код", "сообщение")
	for _, e := range report.Errors {
		row++
		g.setRow(f, sheet, row, e.Ticker, e.Code, e.Message)
	}

	return nil
}

func (g *XSLSXGenerator) fillRebalancing(f *excelize.File, sheet string, report model.PortfolioReport) error {
	status := report.Rebalancing
	header := fmt.Sprintf("Статус: %s, макс. отклонение %s п.п., порог %s п.п.",
		status.Status, decimal.NewFromFloat(status.MaxDrift).StringFixed(2), decimal.NewFromFloat(status.Threshold).StringFixed(2))
	if err := g.sectionHeader(f, sheet, "A1", "F1", header, colorOrange); err != nil {
		return err
	}

	g.setRow(f, sheet, 2, "категория", "текущий %", "целевой %", "отклонение", "абс. отклонение", "докупить (+) / продать (-)")

	for i, d := range status.Drifts {
		g.setRow(f, sheet, i+3, d.Category, round(d.Current), round(d.Target), round(d.Drift), round(d.AbsDrift), round(report.ValueGaps[d.Category]))
	}

	return nil
}

func (g *XSLSXGenerator) fillTransactions(f *excelize.File, sheet string, report model.PortfolioReport) error {
	if err := g.sectionHeader(f, sheet, "A1", "E1", "История операций", colorGrey); err != nil {
		return err
	}

	g.setRow(f, sheet, 2, "дата", "тикер", "кол-во", "цена", "сумма")

	tickers := make([]string, 0, len(report.Portfolio.Etfs))
	for ticker := range report.Portfolio.Etfs {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	type txRow struct {
		ticker string
		tx     model.Transaction
	}
	rows := make([]txRow, 0)
	for _, ticker := range tickers {
		for _, tx := range report.Portfolio.Etfs[ticker].Transactions {
			rows = append(rows, txRow{ticker: ticker, tx: tx})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].tx.Date.Before(rows[j].tx.Date) })

	for i, r := range rows {
		total := decimal.NewFromFloat(r.tx.Quantity).Mul(decimal.NewFromFloat(r.tx.Price))
		g.setRow(f, sheet, i+3, r.tx.Date.Format("2006-01-02"), r.ticker, r.tx.Quantity, r.tx.Price, total.Round(2).InexactFloat64())
	}

	return nil
}

func (g *XSLSXGenerator) sectionHeader(f *excelize.File, sheet, from, to, title string, color string) error {
	if from != to {
		if err := f.MergeCell(sheet, from, to); err != nil {
			return err
		}
	}

	if err := f.SetCellStr(sheet, from, title); err != nil {
		return err
	}

	styleID, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Font: &excelize.Font{
			Bold: true,
			Size: 11,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{color},
		},
	})
	if err != nil {
		return err
	}

	if err := f.SetCellStyle(sheet, from, from, styleID); err != nil {
		return fmt.Errorf("ошибка применения стиля: %w", err)
	}

	return nil
}

func (g *XSLSXGenerator) setRow(f *excelize.File, sheet string, row int, values ...any) {
	g.setRowFrom(f, sheet, row, "A", values...)
}

func (g *XSLSXGenerator) setRowFrom(f *excelize.File, sheet string, row int, fromCol string, values ...any) {
	_ = f.SetSheetRow(sheet, cell(fromCol, row), &values)
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func priceSource(ticker string, errs []model.PriceError) string {
	for _, e := range errs {
		if e.Ticker != ticker {
			continue
		}
		if e.Severity == model.SeverityWarning {
			return "кэш"
		}
		return "нет данных"
	}
	return "API"
}
