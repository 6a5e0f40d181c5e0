package journal

import (
	"montrix/internal/logger"
	"montrix/internal/types"
)

// Sink 是成交日志的写入口。模拟引擎和 trailing 控制器都往这里写 fill。
type Sink interface {
	Append(fill types.Fill) error
}

// MultiSink fans one fill out to several sinks. A failing sink is
// logged and skipped so persistence problems never stall the tick.
type MultiSink []Sink

func (m MultiSink) Append(fill types.Fill) error {
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(fill); err != nil {
			logger.Warnf("journal: sink append failed for %s %s: %v", fill.Side, fill.Symbol, err)
		}
	}
	return nil
}

// Discard 丢弃所有 fill，用于测试或关闭日志的场景。
type Discard struct{}

func (Discard) Append(types.Fill) error { return nil }
