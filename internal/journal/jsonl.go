package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"montrix/internal/logger"
	"montrix/internal/types"
)

// JSONLWriter appends fills to a line-delimited JSON file. One line per
// fill, flushed on every append so a crash loses at most the line being
// written.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLWriter{path: path, f: f}, nil
}

func (w *JSONLWriter) Append(fill types.Fill) error {
	data, err := json.Marshal(fill)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return fmt.Errorf("journal writer closed")
	}
	if _, err := w.f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// ReadAll 读取整个 JSONL 文件并返回全部 fill。坏行（半写入、非 JSON）
// 跳过并告警，不中断恢复流程。
func ReadAll(path string) ([]types.Fill, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var fills []types.Fill
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			logger.Warnf("journal: skipping corrupt line %d in %s", lineNo, path)
			continue
		}
		var fill types.Fill
		if err := json.Unmarshal(line, &fill); err != nil {
			logger.Warnf("journal: skipping undecodable line %d in %s: %v", lineNo, path, err)
			continue
		}
		if fill.Symbol == "" {
			continue
		}
		if fill.Timestamp.IsZero() {
			// 容忍旧格式：ts 字段缺失时用数字时间戳兜底。
			if ms := gjson.GetBytes(line, "ts_ms"); ms.Exists() {
				fill.Timestamp = time.UnixMilli(ms.Int()).UTC()
			}
		}
		fills = append(fills, fill)
	}
	if err := sc.Err(); err != nil {
		return fills, err
	}
	return fills, nil
}
