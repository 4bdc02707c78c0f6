package usecase

import (
	"context"

	"app/internal/reconcile"
)

// 決済プロバイダとの境界。実装は infra/stripegw。
type SessionGateway interface {
	//payment_intent / line_items / customer を展開して取得。
	//存在しなければ ErrSessionNotFound
	RetrieveSession(ctx context.Context, sessionID string) (*reconcile.Session, error)

	CreateCheckoutSession(ctx context.Context, in CreateCheckoutSessionInput) (*reconcile.Session, error)
}

type CustomerGateway interface {
	RetrieveCustomer(ctx context.Context, customerID string) (*reconcile.Contact, error)
}

type CreateCheckoutSessionInput struct {
	OrderID       int64
	CustomerEmail string
	Currency      string
	SuccessURL    string
	CancelURL     string
	Items         []CheckoutLineItem
}

type CheckoutLineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

// 配送プロバイダとの境界。実装は infra/delivery。
type ShipmentGateway interface {
	CreateShipment(ctx context.Context, in ShipmentInput) (ShipmentResult, error)
}

type ShipmentInput struct {
	OrderID          int64
	CourierID        string
	ServiceCode      string
	OriginPostalCode string
	OriginAddress    string
	Destination      ShipmentDestination
	PackageInfo      string
}

type ShipmentDestination struct {
	Name       string
	Phone      string
	PostalCode string
	Prefecture string
	City       string
	Rest       string
}

type ShipmentResult struct {
	DeliveryID     string
	TrackingNumber string
}
