package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/commercekit/orderflow/internal/order/application"
	"github.com/commercekit/orderflow/internal/order/domain"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
	}
}

type createOrderReq struct {
	CustomerID       string                 `json:"customerId"`
	ShippingAddress  domain.ShippingAddress `json:"shippingAddress"`
	PaymentReference string                 `json:"paymentReference"`
	Items            []domain.OrderItem     `json:"items"`
}

func (req createOrderReq) validate() error {
	var missing []string
	if req.CustomerID == "" {
		missing = append(missing, "customerId")
	}
	if req.PaymentReference == "" {
		missing = append(missing, "paymentReference")
	}
	if req.ShippingAddress.Country == "" || req.ShippingAddress.City == "" ||
		req.ShippingAddress.Street == "" || req.ShippingAddress.PostalCode == "" {
		missing = append(missing, "shippingAddress")
	}
	if len(missing) > 0 {
		return errors.New("missing required fields: " + strings.Join(missing, ", "))
	}
	if len(req.Items) == 0 {
		return domain.ErrNoItems
	}
	for _, it := range req.Items {
		if it.ProductID == "" {
			return errors.New("item productId is required")
		}
		if it.Quantity <= 0 {
			return domain.ErrInvalidQuantity
		}
	}
	return nil
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{orderId}", h.getOrder)
	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	o, err := h.service.CreateOrder(ctx, application.CreateOrderInput{
		CustomerID:       req.CustomerID,
		ShippingAddress:  req.ShippingAddress,
		PaymentReference: req.PaymentReference,
		Items:            req.Items,
	})
	if err != nil {
		// The order row may already exist in PENDING if only the
		// publish failed; the client sees the failure either way.
		h.log.Error("create order failed", "err", err)
		http.Error(w, "order could not be submitted", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	o, err := h.service.GetOrder(r.Context(), orderID)
	if errors.Is(err, application.ErrOrderNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get order failed", "order_id", orderID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
