package trader

import (
	"errors"

	"github.com/betbot/hodbot/pkg/persistence"
)

// sessionState 当日风控基准
type sessionState struct {
	Date        string  `json:"date"`
	StartEquity float64 `json:"start_equity"`
}

// SessionStore 持久化当日起始权益，同一交易日重启后沿用原基准
type SessionStore struct {
	store persistence.Store
}

// NewSessionStore 状态文件放在 dir 下，account 用于区分不同账户（例如 paper / live）
func NewSessionStore(dir, account string) *SessionStore {
	return &SessionStore{store: persistence.NewJSONFileService(dir).NewStore("session", account)}
}

// Load 读取 date 当天的起始权益；不是同一天或不存在时 ok=false
func (s *SessionStore) Load(date string) (float64, bool, error) {
	var st sessionState
	if err := s.store.Load(&st); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if st.Date != date || st.StartEquity <= 0 {
		return 0, false, nil
	}
	return st.StartEquity, true, nil
}

// Save 保存当天的起始权益
func (s *SessionStore) Save(date string, startEquity float64) error {
	return s.store.Save(sessionState{Date: date, StartEquity: startEquity})
}
