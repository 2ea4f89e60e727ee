package scanner

import (
	"sort"

	"github.com/betbot/hodbot/internal/domain"
)

// watchlist 按 HODProximity 升序排列、symbol 唯一的观察列表。
// 接近度相同时按 symbol 字典序排列，保证结果确定。
type watchlist struct {
	items []domain.WatchItem
}

// upsert 删除旧条目后插入新条目并重新排序
func (w *watchlist) upsert(item domain.WatchItem) {
	w.remove(item.Symbol)
	w.items = append(w.items, item)
	sort.SliceStable(w.items, func(i, j int) bool {
		a, b := w.items[i], w.items[j]
		if a.HODProximity != b.HODProximity {
			return a.HODProximity < b.HODProximity
		}
		return a.Symbol < b.Symbol
	})
}

// remove 不存在时是 no-op，返回是否删除
func (w *watchlist) remove(symbol string) bool {
	for i, it := range w.items {
		if it.Symbol == symbol {
			w.items = append(w.items[:i], w.items[i+1:]...)
			return true
		}
	}
	return false
}

func (w *watchlist) top() (domain.WatchItem, bool) {
	if len(w.items) == 0 {
		return domain.WatchItem{}, false
	}
	return w.items[0], true
}

func (w *watchlist) snapshot() []domain.WatchItem {
	return append([]domain.WatchItem(nil), w.items...)
}

func (w *watchlist) len() int {
	return len(w.items)
}
