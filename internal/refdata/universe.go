package refdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadUniverse 读取低流通股列表 CSV（需要 symbol 列），返回去重、大写后的代码，保持文件顺序
func LoadUniverse(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开标的列表失败: %w", err)
	}
	defer f.Close()
	return parseUniverse(f)
}

func parseUniverse(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("读取 CSV 表头失败: %w", err)
	}
	col := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), "symbol") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("CSV 缺少 symbol 列: %v", header)
	}

	seen := make(map[string]struct{})
	var out []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("读取 CSV 失败: %w", err)
		}
		if col >= len(rec) {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(rec[col]))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out, nil
}
