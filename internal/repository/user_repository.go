package repository

import (
	"context"

	"app/internal/domain/model"
)

// 見つからないときは (nil, nil) を返す。
type UserRepository interface {
	FindByID(ctx context.Context, userID int64) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	//プロバイダ側の顧客IDをemail一致で埋め戻す（ベストエフォート）
	SetStripeCustomerID(ctx context.Context, email string, stripeCustomerID string) error
}
