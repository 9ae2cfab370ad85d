package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/minibet/payment-gateway/internal/gateways"
	xhttp "github.com/minibet/payment-gateway/pkg/http"
	"github.com/minibet/payment-gateway/pkg/logger"
)

type CallbackService interface {
	HandleCallback(ctx context.Context, payload []byte) error
	RequestPayment(ctx context.Context, req *gateway.PaymentRequest) (*gateway.ProviderResponse, error)
}

type AirtelHandler struct {
	svc CallbackService
}

func RegisterAirtelRoutes(e *router.Group, h *AirtelHandler) {
	e.POST("/airtel/callback", h.Callback)
	e.POST("/airtel/collect", h.Collect)
}

func NewAirtelHandler(svc CallbackService) *AirtelHandler {
	return &AirtelHandler{
		svc: svc,
	}
}

// Callback receives asynchronous settlement notifications. The provider
// retries on anything but 200, so the acknowledgment is unconditional;
// failures are logged and resolved out of band.
func (h *AirtelHandler) Callback(ctx *xhttp.RequestCtx) {
	if err := h.svc.HandleCallback(ctx, ctx.PostBody()); err != nil {
		logger.Error("callback processing failed", "error", err)
	}
	writeJSON(ctx, 200, map[string]string{"status": "received"})
}

// Collect forwards a raw collect request to the provider for internal
// tooling. It bypasses the transaction lifecycle on purpose.
func (h *AirtelHandler) Collect(ctx *xhttp.RequestCtx) {
	var req gateway.PaymentRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	resp, err := h.svc.RequestPayment(ctx, &req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, resp)
}
