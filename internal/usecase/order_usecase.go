package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

type OrderUsecase struct {
	orders     repo.OrderRepository
	orderItems repo.OrderItemRepository
	payments   repo.PaymentRepository
}

func NewOrderUsecase(orders repo.OrderRepository, orderItems repo.OrderItemRepository, payments repo.PaymentRepository) *OrderUsecase {
	return &OrderUsecase{orders: orders, orderItems: orderItems, payments: payments}
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

type PaymentOutput struct {
	ID       int64   `json:"id"`
	StripeID *string `json:"stripe_id"`
	Amount   int64   `json:"amount"`
	Currency string  `json:"currency"`
	Status   string  `json:"status"`
}

type OrderOutput struct {
	ID              int64             `json:"id"`
	Status          string            `json:"status"`
	TotalAmount     int64             `json:"total_amount"`
	Subtotal        int64             `json:"subtotal"`
	ShippingFee     int64             `json:"shipping_fee"`
	Currency        string            `json:"currency"`
	CustomerName    string            `json:"customer_name"`
	ShippingAddress string            `json:"shipping_address"`
	TrackingNumber  string            `json:"tracking_number"`
	CreatedAt       time.Time         `json:"created_at"`
	Items           []OrderItemOutput `json:"items"`
	Payments        []PaymentOutput   `json:"payments"`
}

// 決済完了ページ向けの注文詳細。他人の注文は404で隠す。
func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	o, err := u.orders.FindByID(ctx, orderID)
	if errors.Is(err, repo.ErrNotFound) {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if o.UserID == nil || *o.UserID != userID {
		return OrderOutput{}, NewHTTPError(http.StatusNotFound, "not found")
	}

	items, err := u.orderItems.ListByOrderID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	payments, err := u.payments.ListByOrderID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}

	return toOrderOutput(o, items, payments), nil
}

func toOrderOutput(o model.Order, items []model.OrderItem, payments []model.Payment) OrderOutput {
	out := OrderOutput{
		ID:              o.ID,
		Status:          string(o.Status),
		TotalAmount:     o.TotalAmount,
		Subtotal:        o.Subtotal,
		ShippingFee:     o.ShippingFee,
		Currency:        o.Currency,
		CustomerName:    o.CustomerName,
		ShippingAddress: o.ShippingAddress,
		TrackingNumber:  o.TrackingNumber,
		CreatedAt:       o.CreatedAt,
		Items:           make([]OrderItemOutput, 0, len(items)),
		Payments:        make([]PaymentOutput, 0, len(payments)),
	}
	for _, it := range items {
		out.Items = append(out.Items, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
		})
	}
	for _, p := range payments {
		out.Payments = append(out.Payments, PaymentOutput{
			ID:       p.ID,
			StripeID: p.StripeID,
			Amount:   p.Amount,
			Currency: p.Currency,
			Status:   string(p.Status),
		})
	}
	return out
}
