package telebotConverter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model/tg/tgCallback"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"
)

const timeLayout = "02.01.2006 15:04"

func HelpResponse() string {
	var sb strings.Builder
	sb.WriteString("👋 Трекер ETF портфеля\n\n")
	sb.WriteString("Пришлите YAML файл с портфелем, затем:\n")
	sb.WriteString("/metrics - стоимость, P&L и распределение\n")
	sb.WriteString("/rebalance - отклонения от целевых весов\n")
	sb.WriteString("/threshold N - порог ребалансировки в п.п.\n")
	sb.WriteString("/refresh - обновить цены в обход кэша\n")
	sb.WriteString("/cancel - отменить запросы в очереди\n")
	sb.WriteString("/cache - состояние кэша цен\n")
	sb.WriteString("/report - выгрузить отчет в xlsx\n")
	return sb.String()
}

func ValidationErrorResponse(issues []string) string {
	var sb strings.Builder
	sb.WriteString("❌ Портфель не загружен, ошибки в файле:\n")
	for _, issue := range issues {
		sb.WriteString(fmt.Sprintf(" - %s\n", issue))
	}
	return sb.String()
}

func LoadedResponse(portfolio model.Portfolio, res model.FetchResult) string {
	var sb strings.Builder
	name := portfolio.Name
	if name == "" {
		name = "без названия"
	}
	sb.WriteString(fmt.Sprintf("✅ Портфель «%s» загружен: %d ETF\n", name, len(portfolio.Etfs)))
	sb.WriteString(fmt.Sprintf("Цены получены: %d из %d\n", len(res.Prices), len(portfolio.Etfs)))
	sb.WriteString(errorsBlock(sortedErrors(res.Errors)))
	return sb.String()
}

func RefreshResponse(res model.FetchResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🔄 Обновлено цен: %d\n", len(res.Prices)))
	sb.WriteString(errorsBlock(sortedErrors(res.Errors)))
	return sb.String()
}

func OverviewResponse(overview model.PortfolioOverview) string {
	m := overview.Metrics
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("📊 Портфель: %s\n", overview.Name))
	sb.WriteString(fmt.Sprintf("💰 Стоимость: %s\n", money(m.TotalValue)))
	sb.WriteString(fmt.Sprintf("💵 Вложено: %s\n", money(m.TotalCost)))
	sb.WriteString(fmt.Sprintf("📈 P&L: %s (%s%%)\n\n", signed(m.TotalProfitLoss), signed(m.TotalProfitLossPercent)))

	sb.WriteString("📋 Позиции:\n")
	for _, h := range m.Holdings {
		sb.WriteString(fmt.Sprintf("▸ %s (%s)\n", h.Ticker, h.Name))
		sb.WriteString(fmt.Sprintf("   Кол-во: %s\n", decimal.NewFromFloat(h.Quantity).String()))
		if h.HasPrice {
			sb.WriteString(fmt.Sprintf("   Цена: %s, стоимость: %s\n", money(h.CurrentPrice), money(h.CurrentValue)))
		} else {
			sb.WriteString("   Цена: нет данных\n")
		}
		sb.WriteString(fmt.Sprintf("   P&L: %s (%s%%)\n", signed(h.ProfitLoss), signed(h.ProfitLossPercent)))
	}

	if len(m.Allocation) > 0 {
		sb.WriteString("\n🧩 Распределение:\n")
		for _, category := range sortedKeys(m.Allocation) {
			sb.WriteString(fmt.Sprintf(" - %s: %s%%\n", category, money(m.Allocation[category])))
		}
	}

	if overview.State.Loading {
		p := overview.State.Progress
		sb.WriteString(fmt.Sprintf("\n⏳ Цены обновляются: %d/%d\n", p.Processed, p.Total))
	}

	sb.WriteString(errorsBlock(overview.Errors))

	return sb.String()
}

func RebalancingResponse(status model.RebalancingStatus) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s Статус: %s\n", statusEmoji(status.Status), statusText(status.Status)))
	sb.WriteString(fmt.Sprintf("Макс. отклонение: %s п.п., порог: %s п.п.\n\n", money(status.MaxDrift), money(status.Threshold)))

	for _, d := range status.Drifts {
		sb.WriteString(fmt.Sprintf("▸ %s: %s%% / цель %s%% (%s п.п.)\n", d.Category, money(d.Current), money(d.Target), signed(d.Drift)))
	}

	return sb.String()
}

func ThresholdResponse(threshold float64) string {
	return fmt.Sprintf("Порог ребалансировки: %s п.п.", money(threshold))
}

func ProgressResponse(p model.QueueProgress) string {
	if p.Total == 0 {
		return "⏳ Очередь запросов пуста"
	}
	text := fmt.Sprintf("⏳ Загрузка цен: %d/%d", p.Processed, p.Total)
	if p.CurrentLabel != "" {
		text += fmt.Sprintf(", сейчас %s", p.CurrentLabel)
	}
	if p.QueueLength > 0 {
		text += fmt.Sprintf(", в очереди %d", p.QueueLength)
	}
	return text
}

func CacheStatsResponse(stats model.CacheStats, tickers []string) (text string, markup *tele.ReplyMarkup) {
	markup = &tele.ReplyMarkup{}
	var sb strings.Builder

	sb.WriteString("🗄 Кэш цен\n")
	sb.WriteString(fmt.Sprintf("Всего: %d, свежих: %d, просроченных: %d\n", stats.Total, stats.Fresh, stats.Expired))
	if stats.Oldest != nil && stats.Newest != nil {
		sb.WriteString(fmt.Sprintf("Самая старая: %s\n", stats.Oldest.Local().Format(timeLayout)))
		sb.WriteString(fmt.Sprintf("Самая новая: %s\n", stats.Newest.Local().Format(timeLayout)))
	}
	if len(tickers) > 0 {
		sorted := append([]string(nil), tickers...)
		sort.Strings(sorted)
		sb.WriteString(fmt.Sprintf("Тикеры: %s\n", strings.Join(sorted, ", ")))
	}

	markup.Inline(
		markup.Row(
			markup.Data("🧹 Просроченные", tgCallback.CachePrune),
			markup.Data("🗑 Очистить", tgCallback.CacheClear),
		),
		markup.Row(markup.Data("🔄 Обновить", tgCallback.CacheRefresh)),
	)

	return sb.String(), markup
}

func CancelMarkup() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data("⛔ Отменить", tgCallback.CancelFetch)))
	return markup
}

func ReportCaption(downloadLink string) string {
	if downloadLink == "" {
		return "📎 Отчет по портфелю"
	}
	return fmt.Sprintf("📎 Отчет по портфелю\nСсылка: %s", downloadLink)
}

func errorsBlock(errs []model.PriceError) string {
	if len(errs) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n⚠️ Проблемы с ценами:\n")
	for _, e := range errs {
		icon := "❌"
		if e.Severity == model.SeverityWarning {
			icon = "🕓"
		}
		sb.WriteString(fmt.Sprintf("%s %s: %s\n", icon, e.Ticker, e.Message))
	}
	return sb.String()
}

func sortedErrors(errs map[string]model.PriceError) []model.PriceError {
	res := make([]model.PriceError, 0, len(errs))
	for _, e := range errs {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Ticker < res[j].Ticker })
	return res
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func statusEmoji(status model.RebalanceStatus) string {
	switch status {
	case model.StatusInBalance:
		return "✅"
	case model.StatusMonitor:
		return "⚠️"
	default:
		return "🔴"
	}
}

func statusText(status model.RebalanceStatus) string {
	switch status {
	case model.StatusInBalance:
		return "в балансе"
	case model.StatusMonitor:
		return "под наблюдением"
	default:
		return "нужна ребалансировка"
	}
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func signed(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
