package apihttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"montrix/internal/journal"
	"montrix/internal/logger"
	"montrix/internal/market"
	"montrix/internal/position"
	"montrix/internal/sim"
	"montrix/internal/tpsl"
	"montrix/internal/types"
)

// Deps 描述 router 的依赖。Fills/Settings/Prices 为可选，
// 缺失时对应接口返回 404/503。
type Deps struct {
	Snapshot func() sim.Snapshot
	Book     *position.Manager
	Prices   market.PriceSource
	Fills    *journal.FillStore
	Settings *tpsl.SettingsLoader
	Sink     journal.Sink
	Advice   func(symbol string, adv sim.Advice)
}

type Router struct {
	deps Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Sink == nil {
		deps.Sink = journal.Discard{}
	}
	return &Router{deps: deps}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/positions", r.handlePositions)
	group.POST("/positions/:symbol/tpsl", r.handleSetTpSl)
	group.POST("/positions/:symbol/close", r.handleManualClose)
	group.POST("/advice", r.handleAdvice)
	group.GET("/trades", r.handleTrades)
	group.GET("/trailing/settings", r.handleGetTrailingSettings)
	group.PUT("/trailing/settings", r.handlePutTrailingSettings)
}

func (r *Router) handlePortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, r.deps.Snapshot())
}

func (r *Router) handlePositions(c *gin.Context) {
	now := time.Now().UTC()
	positions := r.deps.Book.List(c.Request.Context())
	views := make([]types.PositionView, 0, len(positions))
	for _, pos := range positions {
		views = append(views, pos.View(now))
	}
	c.JSON(http.StatusOK, gin.H{"positions": views})
}

type tpslRequest struct {
	TakeProfit float64 `json:"take_profit"`
	StopLoss   float64 `json:"stop_loss"`
}

// handleSetTpSl 手动调整 TP/SL。closing 中的仓位会被静默跳过，
// 以返回的最终持仓为准。
func (r *Router) handleSetTpSl(c *gin.Context) {
	symbol := types.NormalizeSymbol(c.Param("symbol"))
	var req tpslRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if _, ok := r.deps.Book.Get(ctx, symbol); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	if req.TakeProfit > 0 {
		r.deps.Book.SetTakeProfit(ctx, symbol, req.TakeProfit)
	}
	if req.StopLoss > 0 {
		r.deps.Book.SetStopLoss(ctx, symbol, req.StopLoss)
	}
	pos, ok := r.deps.Book.Get(ctx, symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos.View(time.Now().UTC())})
}

// handleManualClose 按市价手动平仓，生成 MANUAL 的 SELL fill。
func (r *Router) handleManualClose(c *gin.Context) {
	symbol := types.NormalizeSymbol(c.Param("symbol"))
	ctx := c.Request.Context()
	pos, ok := r.deps.Book.Get(ctx, symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}

	price := pos.CurrentPrice
	if r.deps.Prices != nil {
		if p, ok := r.deps.Prices.LastPrice(ctx, symbol); ok && p > 0 {
			price = p
		}
	}
	closed, ok := r.deps.Book.Close(ctx, symbol, types.CloseReasonManual)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "position already closing"})
		return
	}

	now := time.Now().UTC()
	realized := (price - closed.EntryPrice) * closed.Quantity
	realizedPct := 0.0
	if closed.EntryPrice > 0 {
		realizedPct = (price - closed.EntryPrice) / closed.EntryPrice * 100
	}
	fill := types.Fill{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        "SELL",
		Quantity:    closed.Quantity,
		Price:       price,
		Status:      types.FillStatusFilled,
		Timestamp:   now,
		PnLCash:     realized,
		PnLPct:      realizedPct,
		Reason:      types.CloseReasonManual,
		HoldSeconds: closed.HoldDuration(now).Seconds(),
	}
	if err := r.deps.Sink.Append(fill); err != nil {
		logger.Warnf("http: journal append for manual close failed: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"fill": fill})
}

type adviceRequest struct {
	Symbol         string `json:"symbol" binding:"required"`
	Signal         string `json:"signal"`
	Recommendation string `json:"recommendation"`
}

// handleAdvice 接收外部信号源对某个 symbol 的方向建议，
// 下一次行情 tick 时由模拟引擎消费。
func (r *Router) handleAdvice(c *gin.Context) {
	if r.deps.Advice == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advice intake not configured"})
		return
	}
	var req adviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.deps.Advice(req.Symbol, sim.Advice{Signal: req.Signal, Recommendation: req.Recommendation})
	c.JSON(http.StatusAccepted, gin.H{"symbol": types.NormalizeSymbol(req.Symbol)})
}

func (r *Router) handleTrades(c *gin.Context) {
	if r.deps.Fills == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fill store not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	fills, err := r.deps.Fills.Query(journal.FillQuery{
		Symbol: c.Query("symbol"),
		Side:   c.Query("side"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": fills})
}

func (r *Router) handleGetTrailingSettings(c *gin.Context) {
	if r.deps.Settings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trailing settings not configured"})
		return
	}
	c.JSON(http.StatusOK, r.deps.Settings.Snapshot())
}

func (r *Router) handlePutTrailingSettings(c *gin.Context) {
	if r.deps.Settings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trailing settings not configured"})
		return
	}
	var s tpsl.Settings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.deps.Settings.Update(s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r.deps.Settings.Snapshot())
}
