package model

import "time"

// 決済プロバイダから届いたWebhookイベントの台帳。
// IDはプロバイダ採番（evt_...）で、同じIDの再配送を検知するためのキー。
type WebhookEvent struct {
	ID   string `gorm:"primaryKey;type:varchar(255)" json:"id"`
	Type string `gorm:"type:varchar(100);not null" json:"type"`

	//イベント本体（再配送時は最新の内容で上書きする）
	Payload []byte `gorm:"type:jsonb" json:"payload"`

	//処理済みフラグ。trueなら副作用はすべてcommit済みで再実行してはいけない
	Processed   bool       `gorm:"not null;default:false;index" json:"processed"`
	ProcessedAt *time.Time `json:"processed_at"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
