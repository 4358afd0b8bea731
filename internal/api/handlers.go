package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/api/middleware"
	"github.com/example/farm-ledger/internal/command"
	"github.com/example/farm-ledger/internal/domain/inventory"
	"github.com/example/farm-ledger/internal/export"
	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/model"
	"github.com/example/farm-ledger/internal/query"
)

const defaultExpiryWindowDays = 30

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	logger       *zap.Logger
	now          func() time.Time
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		logger:       logger,
		now:          time.Now,
	}
}

// pathID parses the named path parameter, answering 400 on failure.
func pathID(c *gin.Context, name string) (model.ID, bool) {
	id, err := model.ParseID(c.Param(name))
	if err != nil {
		badRequest(c, err.Error())
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, name+" must be an integer")
		return 0, false
	}
	return v, true
}

// parseDateTime accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseDateTime(s string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// Item Handlers

func (h *Handlers) CreateItem(c *gin.Context) {
	var cmd command.CreateItem
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}

	item, err := h.cmdHandler.CreateItem(c.Request.Context(), cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handlers) ListItems(c *gin.Context) {
	page, ok := queryInt(c, "page", 0)
	if !ok {
		return
	}
	pageSize, ok := queryInt(c, "page_size", 0)
	if !ok {
		return
	}

	items, err := h.queryHandler.ListItems(c.Request.Context(), store.ItemFilter{
		ActiveOnly:   c.Query("active_only") == "true",
		BelowReorder: c.Query("below_reorder") == "true",
		Page:         page,
		PageSize:     pageSize,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handlers) GetItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	h.getItem(c, inventory.ByID(id))
}

func (h *Handlers) GetItemBySKU(c *gin.Context) {
	h.getItem(c, inventory.BySKU(c.Param("sku")))
}

func (h *Handlers) getItem(c *gin.Context, ref inventory.ItemRef) {
	item, err := h.queryHandler.GetItem(c.Request.Context(), ref)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handlers) UpdateItemPolicy(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var cmd command.UpdateItemPolicy
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}
	cmd.ItemID = id

	item, err := h.cmdHandler.UpdateItemPolicy(c.Request.Context(), cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handlers) DeactivateItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	item, err := h.cmdHandler.DeactivateItem(c.Request.Context(), command.DeactivateItem{ItemID: id})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handlers) RecomputeBalance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	balance, err := h.cmdHandler.RecomputeBalance(c.Request.Context(), command.RecomputeBalance{ItemID: id})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item_id": id, "current_quantity": balance})
}

// Batch Handlers

func (h *Handlers) ReceiveBatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var cmd command.ReceiveBatch
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}
	cmd.ItemID = id
	cmd.Actor = middleware.Actor(c)

	res, err := h.cmdHandler.ReceiveBatch(c.Request.Context(), cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handlers) ListBatches(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	batches, err := h.queryHandler.ListBatches(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (h *Handlers) Availability(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	av, err := h.queryHandler.Availability(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, av)
}

func (h *Handlers) PlanAllocation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	qty, err := decimal.NewFromString(c.Query("quantity"))
	if err != nil {
		badRequest(c, "quantity must be a decimal")
		return
	}

	plan, err := h.queryHandler.PlanAllocation(c.Request.Context(), id, qty)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// Deduction Handlers

func (h *Handlers) BatchDeduct(c *gin.Context) {
	var cmd command.BatchDeduct
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}
	cmd.Actor = middleware.Actor(c)

	res, err := h.cmdHandler.BatchDeduct(c.Request.Context(), cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Reservation Handlers

func (h *Handlers) Reserve(c *gin.Context) {
	var cmd command.Reserve
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}
	cmd.Actor = middleware.Actor(c)

	res, err := h.cmdHandler.Reserve(c.Request.Context(), cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handlers) GetReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := h.queryHandler.GetReservation(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) ConfirmReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := h.cmdHandler.ConfirmReservation(c.Request.Context(), command.ConfirmReservation{
		ReservationID: id,
		Actor:         middleware.Actor(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) CancelReservation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	res, err := h.cmdHandler.CancelReservation(c.Request.Context(), command.CancelReservation{ReservationID: id})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Adjustment Handlers

func (h *Handlers) Adjust(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var cmd command.Adjust
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err.Error())
		return
	}
	cmd.ItemID = id
	cmd.Actor = middleware.Actor(c)

	res, err := h.cmdHandler.Adjust(c.Request.Context(), cmd)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handlers) ListAdjustments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	rows, err := h.queryHandler.ListAdjustments(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// View Handlers

func (h *Handlers) LowStock(c *gin.Context) {
	rows, err := h.queryHandler.LowStock(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handlers) ExpiringBatches(c *gin.Context) {
	days, ok := queryInt(c, "within_days", defaultExpiryWindowDays)
	if !ok {
		return
	}

	rows, err := h.queryHandler.ExpiringBatches(c.Request.Context(), days)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// Journal Handlers

// transactionFilter reads item_id, type, from and to shared by the list and
// export endpoints.
func transactionFilter(c *gin.Context) (model.TransactionFilter, bool) {
	var f model.TransactionFilter
	if raw := c.Query("item_id"); raw != "" {
		id, err := model.ParseID(raw)
		if err != nil {
			badRequest(c, err.Error())
			return f, false
		}
		f.ItemID = &id
	}
	f.Type = model.TransactionType(c.Query("type"))
	if raw := c.Query("from"); raw != "" {
		t, err := parseDateTime(raw, false)
		if err != nil {
			badRequest(c, "from must be RFC3339 or YYYY-MM-DD")
			return f, false
		}
		f.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseDateTime(raw, true)
		if err != nil {
			badRequest(c, "to must be RFC3339 or YYYY-MM-DD")
			return f, false
		}
		f.To = &t
	}
	return f, true
}

func (h *Handlers) ListTransactions(c *gin.Context) {
	f, ok := transactionFilter(c)
	if !ok {
		return
	}
	if f.Page, ok = queryInt(c, "page", 1); !ok {
		return
	}
	if f.PageSize, ok = queryInt(c, "page_size", 0); !ok {
		return
	}

	rows, err := h.queryHandler.ListTransactions(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ExportTransactions streams the filtered history as an xlsx workbook.
// The workbook is assembled before any byte is sent, so errors still map
// to a normal status.
func (h *Handlers) ExportTransactions(c *gin.Context) {
	f, ok := transactionFilter(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	n, err := export.WriteTransactions(&buf, h.queryHandler.History(c.Request.Context(), f))
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("transactions exported", zap.Int("rows", n), zap.String("actor", middleware.Actor(c)))
	c.Header("Content-Disposition", `attachment; filename="`+export.Filename(h.now())+`"`)
	c.Data(http.StatusOK, export.ContentTypeXLSX, buf.Bytes())
}
