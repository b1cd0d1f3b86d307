package tgCallback

// Callbacks buttons uniques
const (
	CacheClear   string = "cache_clear"   // удалить все цены из кэша
	CachePrune   string = "cache_prune"   // удалить только просроченные
	CacheRefresh string = "cache_refresh" // перечитать статистику
	CancelFetch  string = "cancel_fetch"
)
