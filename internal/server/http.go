package server

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"GridLedger/internal/core"
	"GridLedger/internal/event"
	"GridLedger/internal/observability"
	"GridLedger/internal/projection"
	"GridLedger/internal/query"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server is the HTTP/JSON API surface. Admin mutations go through the
// single-writer handle into the deterministic core; read endpoints serve
// either live core state (balances, pool) or projection tables (history,
// integrity).
type Server struct {
	handle  *core.Handle
	queries *query.QueryService
	db      *sql.DB
	health  *observability.HealthChecker
	metrics *observability.Metrics
	secret  []byte
	log     zerolog.Logger

	httpServer *http.Server
}

func NewServer(
	handle *core.Handle,
	queries *query.QueryService,
	db *sql.DB,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	jwtSecret []byte,
) *Server {
	return &Server{
		handle:  handle,
		queries: queries,
		db:      db,
		health:  health,
		metrics: metrics,
		secret:  jwtSecret,
		log:     observability.NewLogger("http"),
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.instrument())

	r.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))

	v1 := r.Group("/v1")
	{
		v1.GET("/members/:address", s.getMember)
		v1.GET("/members/:address/journal", s.getJournalHistory)
		v1.GET("/pool", s.getPool)
		v1.GET("/battery", s.getBattery)
		v1.GET("/grid-accounts", s.getGridAccounts)
	}

	admin := v1.Group("/admin", RequireAdmin(s.secret, s.metrics))
	{
		admin.POST("/members", s.addMember)
		admin.DELETE("/members/:address", s.removeMember)
		admin.POST("/battery", s.configureBattery)
		admin.POST("/export-meter", s.assignExportMeter)
		admin.POST("/import-sources", s.tagImportSource)
		admin.POST("/distribute", s.distribute)
		admin.POST("/consume", s.consume)
		admin.POST("/settle-debt", s.settleDebt)
		admin.GET("/integrity", s.verifyIntegrity)
		admin.POST("/rebuild-projections", s.rebuildProjections)
	}

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	s.log.Info().Str("addr", addr).Msg("http server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.metrics == nil {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// --- Read endpoints ---
//
// Reads default to live core state under the writer lock. Passing
// ?source=projection serves the Postgres projections instead: answers may
// trail the core (the response's as_of_sequence is the projection
// watermark), but they do not contend with command processing.

// wantsProjection reports whether the caller asked for the projection-backed
// read path, and rejects it when no query service is attached.
func (s *Server) wantsProjection(c *gin.Context) bool {
	if c.Query("source") != "projection" {
		return false
	}
	if s.queries == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "projections unavailable"})
		c.Abort()
		return false
	}
	return true
}

func (s *Server) getMember(c *gin.Context) {
	address := c.Param("address")
	if s.wantsProjection(c) {
		resp, err := s.queries.GetMemberBalance(c.Request.Context(), address)
		if err != nil {
			s.log.Error().Err(err).Str("member", address).Msg("projected balance query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	if c.IsAborted() {
		return
	}

	info, ok := s.handle.Member(address)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":         info.Address,
		"meters":          info.Meters,
		"ownership_bps":   info.OwnershipBps,
		"balance_cents":   info.BalanceCents,
		"debt_cents":      s.handle.Debt(address),
		"allocated_units": s.handle.AllocatedUnits(address),
		"as_of_sequence":  s.handle.Sequence(),
	})
}

func (s *Server) getPool(c *gin.Context) {
	if s.wantsProjection(c) {
		resp, err := s.queries.GetPool(c.Request.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("projected pool query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	if c.IsAborted() {
		return
	}

	lots := s.handle.PoolSnapshot()
	out := make([]gin.H, 0, len(lots))
	for _, lot := range lots {
		out = append(out, gin.H{
			"source_id":  lot.SourceID,
			"owner_kind": int32(lot.Owner.Kind),
			"owner_addr": lot.Owner.Member,
			"price":      lot.Price,
			"quantity":   lot.Quantity,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"lots":           out,
		"total_units":    s.handle.PoolUnits(),
		"as_of_sequence": s.handle.Sequence(),
	})
}

func (s *Server) getBattery(c *gin.Context) {
	if s.wantsProjection(c) {
		resp, err := s.queries.GetBattery(c.Request.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("projected battery query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	if c.IsAborted() {
		return
	}

	info := s.handle.BatteryInfo()
	c.JSON(http.StatusOK, gin.H{
		"price":          info.Price,
		"capacity":       info.Capacity,
		"charge_state":   info.State,
		"configured":     info.Configured,
		"as_of_sequence": s.handle.Sequence(),
	})
}

func (s *Server) getGridAccounts(c *gin.Context) {
	if s.wantsProjection(c) {
		resp, err := s.queries.GetGridAccounts(c.Request.Context())
		if err != nil {
			s.log.Error().Err(err).Msg("projected grid accounts query failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}
	if c.IsAborted() {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"export_cents":   s.handle.ExportBalance(),
		"import_cents":   s.handle.ImportBalance(),
		"settled_cents":  s.handle.SettledBalance(),
		"as_of_sequence": s.handle.Sequence(),
	})
}

// --- Read endpoints (projections) ---

func (s *Server) getJournalHistory(c *gin.Context) {
	member := c.Param("address")
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var after *int64
	if raw := c.Query("after"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			after = &n
		}
	}

	entries, err := s.queries.GetJournalHistory(c.Request.Context(), member, limit, after)
	if err != nil {
		s.log.Error().Err(err).Str("member", member).Msg("journal history query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) verifyIntegrity(c *gin.Context) {
	report, err := s.queries.VerifyIntegrity(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "integrity check failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// rebuildProjections drops and rebuilds the balance projection from the
// journal. Slow; meant for recovery after projection drift or drops.
func (s *Server) rebuildProjections(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "projections unavailable"})
		return
	}
	if err := projection.RebuildProjections(c.Request.Context(), s.db); err != nil {
		s.log.Error().Err(err).Msg("projection rebuild failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rebuild failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rebuilt"})
}

// --- Admin mutations ---

type addMemberRequest struct {
	Address      string   `json:"address" binding:"required"`
	Meters       []uint64 `json:"meters" binding:"required"`
	OwnershipBps int64    `json:"ownership_bps" binding:"required"`
}

func (s *Server) addMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.process(c, &event.MemberAdded{
		CommandID:    uuid.New(),
		Address:      req.Address,
		Meters:       req.Meters,
		OwnershipBps: req.OwnershipBps,
		Timestamp:    time.Now(),
	})
}

func (s *Server) removeMember(c *gin.Context) {
	s.process(c, &event.MemberRemoved{
		CommandID: uuid.New(),
		Address:   c.Param("address"),
		Timestamp: time.Now(),
	})
}

type configureBatteryRequest struct {
	Price    int64 `json:"price" binding:"required"`
	Capacity int64 `json:"capacity" binding:"required"`
}

func (s *Server) configureBattery(c *gin.Context) {
	var req configureBatteryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.process(c, &event.BatteryConfigured{
		CommandID: uuid.New(),
		Price:     req.Price,
		Capacity:  req.Capacity,
		Timestamp: time.Now(),
	})
}

type assignExportMeterRequest struct {
	MeterID uint64 `json:"meter_id" binding:"required"`
}

func (s *Server) assignExportMeter(c *gin.Context) {
	var req assignExportMeterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.process(c, &event.ExportMeterAssigned{
		CommandID: uuid.New(),
		MeterID:   req.MeterID,
		Timestamp: time.Now(),
	})
}

type tagImportSourceRequest struct {
	SourceID uint64 `json:"source_id" binding:"required"`
}

func (s *Server) tagImportSource(c *gin.Context) {
	var req tagImportSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.process(c, &event.ImportSourceTagged{
		CommandID: uuid.New(),
		SourceID:  req.SourceID,
		Timestamp: time.Now(),
	})
}

type distributeRequest struct {
	Sources []struct {
		SourceID uint64 `json:"source_id" binding:"required"`
		Price    int64  `json:"price"`
		Quantity int64  `json:"quantity" binding:"required"`
		IsImport bool   `json:"is_import"`
	} `json:"sources" binding:"required"`
	BatteryTarget int64 `json:"battery_target"`
}

func (s *Server) distribute(c *gin.Context) {
	var req distributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sources := make([]event.EnergySource, len(req.Sources))
	for i, src := range req.Sources {
		sources[i] = event.EnergySource{
			SourceID: src.SourceID,
			Price:    src.Price,
			Quantity: src.Quantity,
			IsImport: src.IsImport,
		}
	}

	s.process(c, &event.EnergyDistribution{
		DistributionID: uuid.New(),
		Sources:        sources,
		BatteryTarget:  req.BatteryTarget,
		Timestamp:      time.Now(),
	})
}

type consumeRequest struct {
	Requests []struct {
		MeterID  uint64 `json:"meter_id" binding:"required"`
		Quantity int64  `json:"quantity"`
	} `json:"requests" binding:"required"`
}

func (s *Server) consume(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	requests := make([]event.ConsumptionRequest, len(req.Requests))
	for i, r := range req.Requests {
		requests[i] = event.ConsumptionRequest{MeterID: r.MeterID, Quantity: r.Quantity}
	}

	s.process(c, &event.EnergyConsumption{
		ConsumptionID: uuid.New(),
		Requests:      requests,
		Timestamp:     time.Now(),
	})
}

type settleDebtRequest struct {
	Member      string `json:"member" binding:"required"`
	AmountCents int64  `json:"amount_cents" binding:"required"`
}

func (s *Server) settleDebt(c *gin.Context) {
	var req settleDebtRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.process(c, &event.DebtSettlement{
		SettlementID: uuid.New(),
		Member:       req.Member,
		AmountCents:  req.AmountCents,
		Timestamp:    time.Now(),
	})
}

// process submits a command to the core and maps the outcome to HTTP:
// precondition rejections are the caller's fault (422), anything else is
// an internal failure.
func (s *Server) process(c *gin.Context, evt event.Event) {
	if err := s.handle.Process(evt); err != nil {
		if core.IsPrecondition(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		s.log.Error().Err(err).Stringer("event_type", evt.EventType()).Msg("command failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "applied",
		"sequence": s.handle.Sequence() - 1,
	})
}
