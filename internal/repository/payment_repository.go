package repository

import (
	"context"

	"app/internal/domain/model"
)

type PaymentRepository interface {
	//webhook_event_idの一意制約で冪等化。既に存在すればcreated=false
	CreateIfAbsent(ctx context.Context, p model.Payment) (created bool, err error)

	ListByOrderID(ctx context.Context, orderID int64) ([]model.Payment, error)
}
