package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/minibet/payment-gateway/internal/gateways"
	"github.com/minibet/payment-gateway/internal/model"
	"github.com/minibet/payment-gateway/internal/services"
	xhttp "github.com/minibet/payment-gateway/pkg/http"
	"github.com/shopspring/decimal"
)

type TransactionService interface {
	Create(ctx context.Context, p model.TransactionCreateRequest) (*model.Transaction, error)
	ProcessDeposit(ctx context.Context, transactionID string) (*model.Transaction, error)
	CreateWithdrawal(ctx context.Context, p model.TransactionCreateRequest) (*model.Transaction, error)
	ProcessWithdrawal(ctx context.Context, transactionID string) (*model.Transaction, error)
	Get(ctx context.Context, transactionID string) (*model.Transaction, error)
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
}

type TransactionHandler struct {
	svc TransactionService
}

func RegisterTransactionRoutes(e *router.Group, h *TransactionHandler) {
	e.POST("/transactions/deposit", h.CreateDeposit)
	e.POST("/transactions/deposit/{transactionId}/process", h.ProcessDeposit)
	e.POST("/transactions/withdrawal", h.CreateWithdrawal)
	e.POST("/transactions/withdrawal/{transactionId}/process", h.ProcessWithdrawal)
	e.GET("/transactions", h.ListTransactions)
	e.GET("/transactions/{transactionId}", h.GetTransaction)
}

func NewTransactionHandler(svc TransactionService) *TransactionHandler {
	return &TransactionHandler{
		svc: svc,
	}
}

type createTransactionRequest struct {
	UserID      int64           `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	MSISDN      string          `json:"msisdn"`
	Description string          `json:"description"`
}

type listTransactionsResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *TransactionHandler) CreateDeposit(ctx *xhttp.RequestCtx) {
	var req createTransactionRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	p := model.TransactionCreateRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        model.TransactionTypeDeposit,
		MSISDN:      req.MSISDN,
		Description: req.Description,
	}
	txn, err := h.svc.Create(ctx, p)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	processed, err := h.svc.ProcessDeposit(ctx, txn.TransactionID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, processed)
}

// ProcessDeposit re-drives a deposit that was created but never pushed to the
// provider.
func (h *TransactionHandler) ProcessDeposit(ctx *xhttp.RequestCtx) {
	transactionID, ok := ctx.UserValue("transactionId").(string)
	if !ok || transactionID == "" {
		writeError(ctx, 400, "transaction id required")
		return
	}
	txn, err := h.svc.ProcessDeposit(ctx, transactionID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, txn)
}

func (h *TransactionHandler) CreateWithdrawal(ctx *xhttp.RequestCtx) {
	var req createTransactionRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	p := model.TransactionCreateRequest{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        model.TransactionTypeWithdrawal,
		MSISDN:      req.MSISDN,
		Description: req.Description,
	}
	txn, err := h.svc.CreateWithdrawal(ctx, p)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, txn)
}

func (h *TransactionHandler) ProcessWithdrawal(ctx *xhttp.RequestCtx) {
	transactionID, ok := ctx.UserValue("transactionId").(string)
	if !ok || transactionID == "" {
		writeError(ctx, 400, "transaction id required")
		return
	}
	txn, err := h.svc.ProcessWithdrawal(ctx, transactionID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, txn)
}

func (h *TransactionHandler) GetTransaction(ctx *xhttp.RequestCtx) {
	transactionID, ok := ctx.UserValue("transactionId").(string)
	if !ok || transactionID == "" {
		writeError(ctx, 400, "transaction id required")
		return
	}
	txn, err := h.svc.Get(ctx, transactionID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, txn)
}

func (h *TransactionHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	var f model.TransactionFilter

	if v := query(ctx, "user_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.UserID = &id
		}
	}
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.TransactionStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "type"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Types = append(f.Types, model.TransactionType(parts[i]))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listTransactionsResponse{Items: items, Total: total})
}

/* -------------------------------- Helpers ----------------------------------- */

// writeServiceError maps service and gateway errors onto HTTP status codes.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrTransactionNotFound),
		errors.Is(err, services.ErrUserNotFound):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, gateway.ErrAuthentication),
		errors.Is(err, gateway.ErrGateway):
		writeError(ctx, 502, err.Error())
	default:
		writeError(ctx, 400, err.Error())
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
