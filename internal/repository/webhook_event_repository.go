package repository

import (
	"context"

	"app/internal/domain/model"
)

// Webhookイベント台帳。at-least-once配送の重複をここで吸収する。
type WebhookEventRepository interface {
	//無ければ作成、あればpayload/typeだけ更新（processedは絶対に下げない）
	Upsert(ctx context.Context, ev model.WebhookEvent) error

	//processed=true の行が存在するか
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	//processed=true と processed_at を立てるupsert
	MarkProcessed(ctx context.Context, ev model.WebhookEvent) error
}
