package controlplane

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/internal/journal"
)

var log = logrus.WithField("component", "controlplane")

// WatchlistSource 扫描器只读视图
type WatchlistSource interface {
	Watchlist() []domain.WatchItem
	LastSignal() string
	Running() bool
}

// PositionManager 持仓管理（Trader）
type PositionManager interface {
	Positions() []domain.PositionInfo
	RemovePosition(symbol string) bool
	ClearPositions() int
}

// OrderHistory 下单记录（SQLite 日志）
type OrderHistory interface {
	RecentOrders(ctx context.Context, limit int) ([]journal.OrderRecord, error)
}

// Deps 控制面依赖；Orders / Metrics 可以为空
type Deps struct {
	Scanner   WatchlistSource
	Positions PositionManager
	Orders    OrderHistory
	Metrics   http.Handler
}

// Server 本地 HTTP 控制面
type Server struct {
	addr string
	deps Deps

	mu   sync.Mutex
	srv  *http.Server
	done chan error
}

func New(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	debug := r.Group("/debug/pprof")
	debug.GET("/", gin.WrapF(pprof.Index))
	debug.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	debug.GET("/profile", gin.WrapF(pprof.Profile))
	debug.GET("/symbol", gin.WrapF(pprof.Symbol))
	debug.GET("/trace", gin.WrapF(pprof.Trace))
	debug.GET("/:name", func(c *gin.Context) {
		pprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request)
	})

	api := r.Group("/api")
	api.GET("/watchlist", s.handleWatchlist)
	api.GET("/positions", s.handlePositions)
	api.DELETE("/positions/:symbol", s.handleRemovePosition)
	api.POST("/positions/clear", s.handleClearPositions)
	api.GET("/orders", s.handleOrders)

	return r
}

// Start 监听并在后台提供服务；地址为空时不启动
func (s *Server) Start() error {
	if s.addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.srv = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	s.done = make(chan error, 1)
	srv, done := s.srv, s.done
	s.mu.Unlock()

	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()
	log.Infof("🌐 控制面已启动: http://%s", ln.Addr())
	return nil
}

// Shutdown 优雅关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-done
}

func (s *Server) handleHealth(c *gin.Context) {
	scanning := false
	if s.deps.Scanner != nil {
		scanning = s.deps.Scanner.Running()
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "scanning": scanning})
}

type watchItemView struct {
	Rank         int     `json:"rank"`
	Symbol       string  `json:"symbol"`
	HODProximity float64 `json:"hod_proximity"`
	HighOfDay    float64 `json:"high_of_day"`
	LastPrice    float64 `json:"last_price"`
}

func (s *Server) handleWatchlist(c *gin.Context) {
	if s.deps.Scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scanner not running"})
		return
	}
	items := s.deps.Scanner.Watchlist()
	out := make([]watchItemView, 0, len(items))
	for i, it := range items {
		out = append(out, watchItemView{
			Rank:         i + 1,
			Symbol:       it.Symbol,
			HODProximity: it.HODProximity,
			HighOfDay:    it.HighOfDay,
			LastPrice:    it.LastPrice,
		})
	}
	c.JSON(http.StatusOK, gin.H{"watchlist": out, "last_signal": s.deps.Scanner.LastSignal()})
}

type positionView struct {
	Symbol     string    `json:"symbol"`
	Qty        int64     `json:"qty"`
	EntryPrice float64   `json:"entry_price"`
	OrderID    string    `json:"order_id"`
	OpenedAt   time.Time `json:"opened_at"`
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.deps.Positions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trader not running"})
		return
	}
	pos := s.deps.Positions.Positions()
	out := make([]positionView, 0, len(pos))
	for _, p := range pos {
		out = append(out, positionView{
			Symbol:     p.Symbol,
			Qty:        p.Qty,
			EntryPrice: p.EntryPrice,
			OrderID:    p.OrderID,
			OpenedAt:   p.OpenedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (s *Server) handleRemovePosition(c *gin.Context) {
	if s.deps.Positions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trader not running"})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	removed := s.deps.Positions.RemovePosition(symbol)
	log.Infof("控制面请求移除持仓 %s (removed=%v)", symbol, removed)
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "removed": removed})
}

func (s *Server) handleClearPositions(c *gin.Context) {
	if s.deps.Positions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trader not running"})
		return
	}
	n := s.deps.Positions.ClearPositions()
	log.Infof("控制面请求清空持仓，共 %d 个", n)
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (s *Server) handleOrders(c *gin.Context) {
	if s.deps.Orders == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	orders, err := s.deps.Orders.RecentOrders(c.Request.Context(), limit)
	if err != nil {
		log.Errorf("查询下单记录失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderView{
			Symbol:          o.Symbol,
			Qty:             o.Qty,
			ReferencePrice:  o.ReferencePrice,
			TakeProfitPrice: o.TakeProfitPrice,
			StopLossPrice:   o.StopLossPrice,
			OrderID:         o.OrderID,
			Status:          o.Status,
			Attempts:        o.Attempts,
			Error:           o.Error,
			At:              o.At,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

type orderView struct {
	Symbol          string    `json:"symbol"`
	Qty             int64     `json:"qty"`
	ReferencePrice  float64   `json:"reference_price"`
	TakeProfitPrice string    `json:"take_profit_price,omitempty"`
	StopLossPrice   string    `json:"stop_loss_price,omitempty"`
	OrderID         string    `json:"order_id,omitempty"`
	Status          string    `json:"status"`
	Attempts        int       `json:"attempts"`
	Error           string    `json:"error,omitempty"`
	At              time.Time `json:"at"`
}
