package refdata

import (
	"sort"

	"github.com/betbot/hodbot/internal/domain"
)

// Store 参考数据（盘前一次性构建，之后只读，可并发读取）
type Store struct {
	assets  map[string]domain.AssetInfo
	symbols []string
}

// NewStore 构建只读 Store，同一 symbol 以最后一条为准
func NewStore(infos []domain.AssetInfo) *Store {
	s := &Store{assets: make(map[string]domain.AssetInfo, len(infos))}
	for _, info := range infos {
		s.assets[info.Symbol] = info
	}
	s.symbols = make([]string, 0, len(s.assets))
	for sym := range s.assets {
		s.symbols = append(s.symbols, sym)
	}
	sort.Strings(s.symbols)
	return s
}

// Get 查询单个标的
func (s *Store) Get(symbol string) (domain.AssetInfo, bool) {
	info, ok := s.assets[symbol]
	return info, ok
}

// Symbols 所有标的（排序后的副本）
func (s *Store) Symbols() []string {
	return append([]string(nil), s.symbols...)
}

func (s *Store) Len() int {
	return len(s.assets)
}
