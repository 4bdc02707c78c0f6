package model

import "time"

type User struct {
	ID    int64  `gorm:"primaryKey;autoIncrement"`
	Email string `gorm:"uniqueIndex;not null"`
	Name  string `gorm:"type:varchar(255)"`
	Phone string `gorm:"type:varchar(30)"`

	//決済プロバイダ側の顧客ID（webhook処理時にemail一致で埋め戻す）
	StripeCustomerID *string `gorm:"type:varchar(255);index"`

	IsActive  bool `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
