package position

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"montrix/internal/logger"
	"montrix/internal/store"
	"montrix/internal/types"
)

const stateKey = "positions"

// Manager 是模拟引擎与 trailing 控制循环共享的线程安全持仓表。
// 所有读写都串行化在一把互斥锁后面；持久化委托给注入的 KV 后端
// （读时加载、每次变更立即写回）。
type Manager struct {
	mu sync.Mutex
	kv store.KV
}

func NewManager(kv store.KV) *Manager {
	if kv == nil {
		kv = store.NewMemoryKV()
	}
	return &Manager{kv: kv}
}

// load reads the live position map from the backend. Backend failures
// degrade to an empty map: one bad read must not halt the engines.
func (m *Manager) load(ctx context.Context) map[string]types.Position {
	raw, err := m.kv.Read(ctx, stateKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warnf("position: read state failed: %v", err)
		}
		return map[string]types.Position{}
	}
	out := map[string]types.Position{}
	if err := json.Unmarshal(raw, &out); err != nil {
		logger.Errorf("position: broken state document, starting empty: %v", err)
		return map[string]types.Position{}
	}
	return out
}

func (m *Manager) save(ctx context.Context, data map[string]types.Position) {
	raw, err := json.Marshal(data)
	if err != nil {
		logger.Errorf("position: marshal state failed: %v", err)
		return
	}
	if err := m.kv.Write(ctx, stateKey, raw); err != nil {
		logger.Warnf("position: write state failed: %v", err)
	}
}

// Get returns the position for symbol, if any.
func (m *Manager) Get(ctx context.Context, symbol string) (types.Position, bool) {
	symbol = types.NormalizeSymbol(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.load(ctx)[symbol]
	return pos, ok
}

// List returns all open positions ordered by symbol.
func (m *Manager) List(ctx context.Context) []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	out := make([]types.Position, 0, len(data))
	for _, pos := range data {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Upsert inserts or replaces the position record for its symbol.
func (m *Manager) Upsert(ctx context.Context, pos types.Position) {
	pos.Symbol = types.NormalizeSymbol(pos.Symbol)
	if pos.Symbol == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	data[pos.Symbol] = pos
	m.save(ctx, data)
}

// Remove deletes the position without emitting any close record.
func (m *Manager) Remove(ctx context.Context, symbol string) {
	symbol = types.NormalizeSymbol(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	if _, ok := data[symbol]; !ok {
		return
	}
	delete(data, symbol)
	m.save(ctx, data)
}

// MarkClosing flips the cooperative closing guard for symbol.
func (m *Manager) MarkClosing(ctx context.Context, symbol string, flag bool) {
	symbol = types.NormalizeSymbol(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	pos, ok := data[symbol]
	if !ok {
		return
	}
	pos.Closing = flag
	data[symbol] = pos
	m.save(ctx, data)
}

func (m *Manager) IsClosing(ctx context.Context, symbol string) bool {
	symbol = types.NormalizeSymbol(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.load(ctx)[symbol]
	return ok && pos.Closing
}

// SetTakeProfit 更新止盈位。持仓处于 closing 状态时静默跳过（只留日志），
// 调用方不会收到任何确认。
func (m *Manager) SetTakeProfit(ctx context.Context, symbol string, tp float64) {
	symbol = types.NormalizeSymbol(symbol)
	if tp <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	pos, ok := data[symbol]
	if !ok {
		return
	}
	if pos.Closing {
		logger.Debugf("position: %s closing, skip TP update", symbol)
		return
	}
	pos.TakeProfit = tp
	data[symbol] = pos
	m.save(ctx, data)
	logger.Infof("position: %s TP -> %.6f", symbol, tp)
}

// SetStopLoss 更新止损位，规则同 SetTakeProfit。
func (m *Manager) SetStopLoss(ctx context.Context, symbol string, sl float64) {
	symbol = types.NormalizeSymbol(symbol)
	if sl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	pos, ok := data[symbol]
	if !ok {
		return
	}
	if pos.Closing {
		logger.Debugf("position: %s closing, skip SL update", symbol)
		return
	}
	pos.StopLoss = sl
	data[symbol] = pos
	m.save(ctx, data)
	logger.Infof("position: %s SL -> %.6f", symbol, sl)
}

// Sync 把引擎侧的行情快照合并进共享持仓表：止损和最高价各取双方
// 较高者，整个读改写在一次加锁内完成，避免两个写方互相覆盖。
// 持仓不存在时不插入（可能刚被平掉），closing 中只读不写。
// 返回合并后的记录。
func (m *Manager) Sync(ctx context.Context, pos types.Position) (types.Position, bool) {
	pos.Symbol = types.NormalizeSymbol(pos.Symbol)
	if pos.Symbol == "" {
		return types.Position{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	existing, ok := data[pos.Symbol]
	if !ok {
		return types.Position{}, false
	}
	if existing.Closing {
		logger.Debugf("position: %s closing, skip sync", pos.Symbol)
		return existing, true
	}
	if existing.StopLoss > pos.StopLoss {
		pos.StopLoss = existing.StopLoss
	}
	if existing.MaxPrice > pos.MaxPrice {
		pos.MaxPrice = existing.MaxPrice
	}
	data[pos.Symbol] = pos
	m.save(ctx, data)
	return pos, true
}

// UpdateMaxPrice raises the stored high-water mark; it never lowers it.
func (m *Manager) UpdateMaxPrice(ctx context.Context, symbol string, price float64) {
	symbol = types.NormalizeSymbol(symbol)
	if price <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	pos, ok := data[symbol]
	if !ok || price <= pos.MaxPrice {
		return
	}
	pos.MaxPrice = price
	data[symbol] = pos
	m.save(ctx, data)
	logger.Debugf("position: %s max_price -> %.6f", symbol, price)
}

// Close 移除持仓并返回被移除的记录。先置 closing 再删除，
// 保证删除窗口内没有并发的 TP/SL 更新混入。
func (m *Manager) Close(ctx context.Context, symbol string, reason types.CloseReason) (types.Position, bool) {
	symbol = types.NormalizeSymbol(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	data := m.load(ctx)
	pos, ok := data[symbol]
	if !ok {
		return types.Position{}, false
	}
	pos.Closing = true
	data[symbol] = pos
	m.save(ctx, data)

	delete(data, symbol)
	m.save(ctx, data)
	logger.Infof("position: %s closed (reason=%s)", symbol, reason)
	return pos, true
}
