package repository

import (
	"context"

	"app/internal/domain/model"
)

// 商品の取得だけを約束。
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
}
