package model

import "time"

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "succeeded"
)

// 1回の決済確定。Orderに0件以上ぶら下がる。
type Payment struct {
	ID      int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID int64 `gorm:"not null;index" json:"order_id"`

	//このPaymentを作ったWebhookイベント。イベント1件につき最大1行
	WebhookEventID string `gorm:"type:varchar(255);not null;uniqueIndex" json:"webhook_event_id"`

	//プロバイダ側の決済参照（解決できなかった場合はnull）
	StripeID *string `gorm:"type:varchar(255)" json:"stripe_id"`

	Amount   int64         `gorm:"not null" json:"amount"`
	Currency string        `gorm:"type:varchar(10);not null" json:"currency"`
	Status   PaymentStatus `gorm:"type:varchar(20);not null" json:"status"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
