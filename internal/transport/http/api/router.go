package apihttp

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"fleet/internal/agent"
	"fleet/internal/logger"
	"fleet/internal/market"
	"fleet/internal/order"
	"fleet/internal/store/journal"
)

// Router exposes the portfolio and strategy query/control endpoints. All
// collaborators except the agent manager are optional; missing ones
// degrade to 503 on their routes.
type Router struct {
	Agents  *agent.Manager
	Orders  *order.Manager
	Journal *journal.Store
	Source  market.TickSource
}

func NewRouter(agents *agent.Manager, orders *order.Manager, j *journal.Store, source market.TickSource) *Router {
	return &Router{Agents: agents, Orders: orders, Journal: j, Source: source}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/strategies", r.handleStrategies)
	group.GET("/strategies/:id", r.handleStrategyDetail)
	group.GET("/strategies/:id/trades", r.handleStrategyTrades)
	group.GET("/strategies/:id/decisions", r.handleStrategyDecisions)
	group.GET("/strategies/:id/executions", r.handleStrategyExecutions)
	group.GET("/strategies/:id/orders", r.handleStrategyOrders)
	group.POST("/strategies/:id/start", r.handleStrategyStart)
	group.POST("/strategies/:id/stop", r.handleStrategyStop)
	group.POST("/strategies/:id/pause", r.handleStrategyPause)
	group.POST("/strategies/:id/resume", r.handleStrategyResume)
	group.GET("/risk/events", r.handleRiskEvents)
	group.POST("/emergency-stop", r.handleEmergencyStop)
	group.GET("/market/stats", r.handleMarketStats)
}

func (r *Router) handleStatus(c *gin.Context) {
	if r.Agents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent manager unavailable"})
		return
	}
	include := strings.TrimSpace(c.DefaultQuery("strategies", "0")) == "1"
	c.JSON(http.StatusOK, r.Agents.Snapshot(include))
}

func (r *Router) handleStrategies(c *gin.Context) {
	if r.Agents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent manager unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": r.Agents.Statuses()})
}

func (r *Router) handleStrategyDetail(c *gin.Context) {
	if r.Agents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent manager unavailable"})
		return
	}
	id := c.Param("id")
	for _, s := range r.Agents.Statuses() {
		if s.ID == id {
			c.JSON(http.StatusOK, gin.H{"strategy": s})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown strategy " + id})
}

func (r *Router) handleStrategyTrades(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade journal unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := r.Journal.RecentTrades(c.Param("id"), limit)
	if err != nil {
		logger.Errorf("[api] strategy trades failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleStrategyDecisions(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade journal unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	decisions, err := r.Journal.RecentDecisions(c.Param("id"), limit)
	if err != nil {
		logger.Errorf("[api] strategy decisions failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (r *Router) handleStrategyExecutions(c *gin.Context) {
	if r.Agents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent manager unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	c.JSON(http.StatusOK, gin.H{"executions": r.Agents.Executions(c.Param("id"), limit)})
}

func (r *Router) handleStrategyOrders(c *gin.Context) {
	if r.Orders == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order manager unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": r.Orders.Orders(c.Param("id"))})
}

func (r *Router) handleStrategyStart(c *gin.Context) {
	r.lifecycleOp(c, "start", func(id string) error { return r.Agents.StartStrategy(id) })
}

func (r *Router) handleStrategyStop(c *gin.Context) {
	r.lifecycleOp(c, "stop", func(id string) error { return r.Agents.StopStrategy(id) })
}

func (r *Router) handleStrategyPause(c *gin.Context) {
	r.lifecycleOp(c, "pause", func(id string) error {
		return r.Agents.PauseStrategy(id, strings.TrimSpace(c.DefaultQuery("reason", "operator request")))
	})
}

func (r *Router) handleStrategyResume(c *gin.Context) {
	r.lifecycleOp(c, "resume", func(id string) error { return r.Agents.ResumeStrategy(id) })
}

func (r *Router) lifecycleOp(c *gin.Context, op string, fn func(id string) error) {
	if r.Agents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent manager unavailable"})
		return
	}
	id := c.Param("id")
	if err := fn(id); err != nil {
		logger.Warnf("[api] strategy %s %s failed ip=%s err=%v", id, op, c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] strategy %s %s ip=%s", id, op, c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleRiskEvents(c *gin.Context) {
	if r.Agents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent manager unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{"events": r.Agents.RiskEvents(limit)})
}

func (r *Router) handleEmergencyStop(c *gin.Context) {
	if r.Agents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent manager unavailable"})
		return
	}
	reason := strings.TrimSpace(c.DefaultQuery("reason", "operator request"))
	logger.Warnf("[api] emergency stop requested ip=%s reason=%s", c.ClientIP(), reason)
	r.Agents.EmergencyStopAll(reason)
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (r *Router) handleMarketStats(c *gin.Context) {
	if r.Source == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "market source unavailable"})
		return
	}
	c.JSON(http.StatusOK, r.Source.Stats())
}
