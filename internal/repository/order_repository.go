package repository

import (
	"context"

	"app/internal/domain/model"
)

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	Create(ctx context.Context, order model.Order) (int64, error)

	//注文全体を保存（決済確定時の上書き更新）
	Update(ctx context.Context, order model.Order) error

	//検索（同じキーなら同じ注文を返す）
	FindByIdempotencyKey(ctx context.Context, key string) (model.Order, bool, error)

	//checkoutセッション作成後にセッションIDとメモを書き戻す
	SetStripeSession(ctx context.Context, orderID int64, sessionID string, notes string) error

	//配送伝票作成後の追跡番号の書き戻し
	SetTracking(ctx context.Context, orderID int64, trackingNumber string, shippingMethod string) error
}
