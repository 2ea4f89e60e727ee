package refdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/betbot/hodbot/internal/domain"
)

// BadgerCache 按交易日缓存盘前参考数据，同一天重启时跳过日线下载
type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
}

// OpenBadgerCache 打开（或创建）缓存目录
func OpenBadgerCache(path string) (*BadgerCache, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("refdata: cache path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("打开参考数据缓存失败: %w", err)
	}
	return &BadgerCache{db: db, ttl: 24 * time.Hour}, nil
}

func (c *BadgerCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func cacheKey(session, symbol string) []byte {
	return []byte("asset:" + session + ":" + symbol)
}

// Get 读取缓存；不存在时 ok=false
func (c *BadgerCache) Get(session, symbol string) (domain.AssetInfo, bool, error) {
	var info domain.AssetInfo
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(session, symbol))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &info)
		})
	})
	if err != nil {
		return domain.AssetInfo{}, false, err
	}
	return info, found, nil
}

// Put 写入缓存（带 TTL）
func (c *BadgerCache) Put(session string, info domain.AssetInfo) error {
	v, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(cacheKey(session, info.Symbol), v).WithTTL(c.ttl))
	})
}
