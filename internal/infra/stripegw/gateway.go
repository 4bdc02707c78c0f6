// Package stripegw はStripe APIとの境界。
// APIレスポンスを reconcile パッケージの正規化ビューに詰め替える。
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"app/internal/reconcile"
	"app/internal/usecase"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

type Gateway struct {
	api *client.API
}

// グローバルクライアントは使わず、main.goで生成して注入する。
func New(apiKey string) *Gateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Gateway{api: api}
}

// RetrieveSession は決済参照・明細・顧客を展開した状態でセッションを取得する。
// リソース自体が存在しない場合は usecase.ErrSessionNotFound を返す
// （テストフィクスチャや削除済みセッション。リトライ対象ではない）。
func (g *Gateway) RetrieveSession(ctx context.Context, sessionID string) (*reconcile.Session, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	}
	params.AddExpand("payment_intent")
	params.AddExpand("line_items")
	params.AddExpand("customer")

	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", usecase.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("retrieve session %s: %w", sessionID, err)
	}

	return normalizeSession(s), nil
}

func (g *Gateway) RetrieveCustomer(ctx context.Context, customerID string) (*reconcile.Contact, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	c, err := g.api.Customers.Get(customerID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve customer %s: %w", customerID, err)
	}

	contact := &reconcile.Contact{
		Name:  c.Name,
		Email: c.Email,
		Phone: c.Phone,
	}
	if c.Address != nil {
		contact.Address = toAddress(c.Address)
	}
	return contact, nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, in usecase.CreateCheckoutSessionInput) (*reconcile.Session, error) {
	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	//reconcilerが事前作成済み注文を見つけるためのキー
	params.AddMetadata("order_id", strconv.FormatInt(in.OrderID, 10))

	for _, item := range in.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(item.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(in.Currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session for order %d: %w", in.OrderID, err)
	}
	return normalizeSession(s), nil
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404
}

// 生レスポンスから取り出すフィールド。payment_intentは
// 文字列/オブジェクトのunionをそのまま保つ必要があり、
// shipping_detailsはAPIバージョンで位置が変わる。
type rawSessionEnvelope struct {
	PaymentIntent        json.RawMessage  `json:"payment_intent"`
	ShippingDetails      *rawShipping     `json:"shipping_details"`
	CollectedInformation *rawCollectedInf `json:"collected_information"`
}

type rawCollectedInf struct {
	ShippingDetails *rawShipping `json:"shipping_details"`
}

type rawShipping struct {
	Name    string     `json:"name"`
	Address rawAddress `json:"address"`
}

type rawAddress struct {
	PostalCode string `json:"postal_code"`
	State      string `json:"state"`
	City       string `json:"city"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
}

func normalizeSession(s *stripe.CheckoutSession) *reconcile.Session {
	out := &reconcile.Session{
		ID:            s.ID,
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
		URL:           s.URL,
	}

	if s.ShippingCost != nil {
		out.ShippingAmount = s.ShippingCost.AmountTotal
	} else if s.TotalDetails != nil {
		out.ShippingAmount = s.TotalDetails.AmountShipping
	}

	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CustomerDetails != nil {
		out.Customer = reconcile.Contact{
			Name:  s.CustomerDetails.Name,
			Email: s.CustomerDetails.Email,
			Phone: s.CustomerDetails.Phone,
		}
		if s.CustomerDetails.Address != nil {
			out.Customer.Address = toAddress(s.CustomerDetails.Address)
		}
	}

	if s.LastResponse != nil && len(s.LastResponse.RawJSON) > 0 {
		var env rawSessionEnvelope
		if err := json.Unmarshal(s.LastResponse.RawJSON, &env); err == nil {
			out.PaymentRef = env.PaymentIntent

			raw := env.ShippingDetails
			if raw == nil && env.CollectedInformation != nil {
				raw = env.CollectedInformation.ShippingDetails
			}
			if raw != nil {
				out.Shipping = &reconcile.Shipping{
					Name: raw.Name,
					Address: reconcile.Address{
						PostalCode: raw.Address.PostalCode,
						State:      raw.Address.State,
						City:       raw.Address.City,
						Line1:      raw.Address.Line1,
						Line2:      raw.Address.Line2,
					},
				}
			}
		}
	}

	return out
}

func toAddress(a *stripe.Address) reconcile.Address {
	return reconcile.Address{
		PostalCode: a.PostalCode,
		State:      a.State,
		City:       a.City,
		Line1:      a.Line1,
		Line2:      a.Line2,
	}
}
