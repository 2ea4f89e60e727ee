package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/betbot/hodbot/pkg/logger"
)

// Store 存储接口
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

// JSONFileService 基于 JSON 文件的持久化服务
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService 创建 JSON 文件持久化服务
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

// NewStore 创建新的存储，key = prefix:id
func (s *JSONFileService) NewStore(prefix, id string) *JSONFileStore {
	return &JSONFileStore{
		service: s,
		key:     fmt.Sprintf("%s:%s", prefix, id),
	}
}

// JSONFileStore JSON 文件存储实现
type JSONFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *JSONFileStore) filePath() string {
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

// Save 原子保存（先写临时文件再 rename）
func (s *JSONFileStore) Save(data interface{}) error {
	logger.Debugf("[persistence] Save: key=%s", s.key)
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load 加载数据，文件不存在或为空时返回 ErrNotExists
func (s *JSONFileStore) Load(data interface{}) error {
	logger.Debugf("[persistence] Load: key=%s", s.key)
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}
