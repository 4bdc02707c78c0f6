package model

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)

type Order struct {
	ID     int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID *int64 `gorm:"index" json:"user_id"`

	Status OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	//金額（最小通貨単位）
	TotalAmount int64  `gorm:"not null" json:"total_amount"`
	Subtotal    int64  `gorm:"not null" json:"subtotal"`
	ShippingFee int64  `gorm:"not null" json:"shipping_fee"`
	Currency    string `gorm:"type:varchar(10);not null;default:'jpy'" json:"currency"`

	//購入者情報（決済確定時にプロバイダ側の値で上書きされる）
	CustomerEmail string `gorm:"type:varchar(255)" json:"customer_email"`
	CustomerName  string `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerPhone string `gorm:"type:varchar(30)" json:"customer_phone"`

	//配送先（表示用の連結文字列と分解済みフィールド）
	ShippingAddress    string `gorm:"type:text" json:"shipping_address"`
	ShippingPostalCode string `gorm:"type:varchar(20)" json:"shipping_postal_code"`
	ShippingPrefecture string `gorm:"type:varchar(100)" json:"shipping_prefecture"`
	ShippingCity       string `gorm:"type:varchar(255)" json:"shipping_city"`
	ShippingRest       string `gorm:"type:varchar(255)" json:"shipping_rest"`

	//決済セッションへの逆参照などのメモ
	Notes           string `gorm:"type:text" json:"notes"`
	StripeSessionID string `gorm:"type:varchar(255);index" json:"stripe_session_id"`

	TrackingNumber string `gorm:"type:varchar(100)" json:"tracking_number"`
	ShippingMethod string `gorm:"type:varchar(100)" json:"shipping_method"`

	//二重作成防止キー。checkout経由は採番したキー、孤児セッション由来はセッションID
	IdempotencyKey string `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
