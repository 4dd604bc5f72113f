// Package api exposes the ledger, reset and report services over HTTP.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"latecomers/internal/auth"
	"latecomers/internal/httpmiddleware"
	"latecomers/internal/ledger"
	"latecomers/internal/metrics"
	"latecomers/internal/report"
	"latecomers/internal/reset"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) bool

// Options wire the router's cross-cutting collaborators.
type Options struct {
	Verifier    auth.Verifier
	Limiter     httpmiddleware.Limiter
	CronSecret  string
	CORSOrigins []string
	Checks      map[string]Check
}

// Handler serves the HTTP API.
type Handler struct {
	ledger  *ledger.Service
	reset   *reset.Service
	reports *report.Service
	opts    Options
}

// New creates a handler.
func New(l *ledger.Service, r *reset.Service, rep *report.Service, opts Options) *Handler {
	registerValidators()
	return &Handler{ledger: l, reset: r, reports: rep, opts: opts}
}

// Router builds the gin engine with every route.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(requestID())
	r.Use(corsMiddleware(h.opts.CORSOrigins))
	r.Use(securityHeaders())
	r.NoRoute(notFound)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.healthz)
	r.POST("/api/clear-monthly", h.clearMonthly)

	v1 := r.Group("/v1", auth.ScannerAuth(h.opts.Verifier))
	if h.opts.Limiter != nil {
		v1.Use(httpmiddleware.RateLimit(h.opts.Limiter, httpmiddleware.ByAccount(auth.AccountID)))
	}
	v1.GET("/account", h.account)
	v1.POST("/ledger/marks", h.markLate)
	v1.GET("/ledger/fined", h.fined)
	v1.POST("/ledger/:roll/settle", h.settle)
	v1.GET("/reports/archive", h.archive)
	v1.GET("/reports/archive/export", h.exportArchive)
	return r
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.opts.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) account(c *gin.Context) {
	acc, err := h.ledger.Account(c.Request.Context(), auth.AccountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": acc.ID, "dept": acc.Dept, "entries": len(acc.Entries)})
}

func (h *Handler) markLate(c *gin.Context) {
	var req struct {
		RollNumber string `json:"roll_number" binding:"required,rollnumber"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.RejectedMarks.Inc()
		if verr := ledger.ValidateRollNumber(req.RollNumber); verr != nil {
			writeError(c, verr)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	res, err := h.ledger.MarkLate(c.Request.Context(), auth.AccountID(c), req.RollNumber)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) fined(c *gin.Context) {
	view, err := h.ledger.Fined(c.Request.Context(), auth.AccountID(c), c.Query("q"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dept":          view.Dept,
		"count":         len(view.Entries),
		"total_pending": view.TotalPending,
		"entries":       view.Entries,
	})
}

func (h *Handler) settle(c *gin.Context) {
	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	rec, err := h.ledger.Settle(c.Request.Context(), auth.AccountID(c), c.Param("roll"), req.Confirm)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"record":  rec,
		"amount":  rec.TotalAmount,
		"message": fmt.Sprintf("Payment of ₹%d recorded successfully for Roll No. %s", rec.TotalAmount, rec.RollNumber),
	})
}

func (h *Handler) clearMonthly(c *gin.Context) {
	if !auth.SharedSecret(h.opts.CronSecret, c.Query("token")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	n, err := h.reset.ClearFields(c.Request.Context())
	if err != nil {
		log.Printf("[API] clear fields: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear fields", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        fmt.Sprintf("Successfully cleared fields in %d documents", n),
		"processedCount": n,
	})
}

func (h *Handler) archive(c *gin.Context) {
	p, err := report.ParsePeriod(c.Query("month"), c.Query("year"))
	if err != nil {
		writeError(c, err)
		return
	}
	recs, err := h.reports.Records(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{"period": p.Tag(), "count": len(recs), "records": recs}
	if len(recs) == 0 {
		body["notice"] = fmt.Sprintf("No records found for %s.", p.Tag())
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) exportArchive(c *gin.Context) {
	p, err := report.ParsePeriod(c.Query("month"), c.Query("year"))
	if err != nil {
		writeError(c, err)
		return
	}
	out, err := h.reports.Export(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, strings.ReplaceAll(out.Filename, `"`, "")))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", out.Data)
}
