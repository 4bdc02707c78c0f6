package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Configはアプリ全体の設定
type Config struct {
	Port string // サーバーポート（8080）

	DatabaseURL      string // あればこちらを優先
	PostgresUser     string // DBユーザー
	PostgresPassword string // DBパスワード
	PostgresDB       string // DB名
	PostgresHost     string // DBホスト（localhost）
	PostgresPort     int    // DBポート（5432）
	PostgresSSLMode  string // disableなど

	JWTSecret string // JWT署名シークレット

	StripeSecretKey     string // APIキー（sk_...）
	StripeWebhookSecret string // Webhook署名シークレット（whsec_...）

	CheckoutSuccessURL string // 決済完了後のリダイレクト先
	CheckoutCancelURL  string // 決済キャンセル時のリダイレクト先
	Currency           string // 通貨（デフォルトjpy）

	WebhookRetries     int           // DB書き込みの一時障害リトライ回数（デフォルト3）
	WebhookMaxEventAge time.Duration // これより古いイベントはスキップ（0で無効）

	// 配送プロバイダ。URLが空なら伝票作成は無効
	DeliveryAPIURL           string
	DeliveryAPIKey           string
	DeliveryCourierID        string
	DeliveryServiceCode      string
	DeliveryOriginPostalCode string
	DeliveryOriginAddress    string
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port: os.Getenv("PORT"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		CheckoutSuccessURL: os.Getenv("CHECKOUT_SUCCESS_URL"),
		CheckoutCancelURL:  os.Getenv("CHECKOUT_CANCEL_URL"),
		Currency:           getenv("CURRENCY", "jpy"),

		DeliveryAPIURL:           os.Getenv("DELIVERY_API_URL"),
		DeliveryAPIKey:           os.Getenv("DELIVERY_API_KEY"),
		DeliveryCourierID:        os.Getenv("DELIVERY_COURIER_ID"),
		DeliveryServiceCode:      os.Getenv("DELIVERY_SERVICE_CODE"),
		DeliveryOriginPostalCode: os.Getenv("DELIVERY_ORIGIN_POSTAL_CODE"),
		DeliveryOriginAddress:    os.Getenv("DELIVERY_ORIGIN_ADDRESS"),
	}

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.StripeSecretKey == "" {
		return Config{}, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return Config{}, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if cfg.CheckoutSuccessURL == "" {
		return Config{}, fmt.Errorf("CHECKOUT_SUCCESS_URL is required")
	}
	if cfg.CheckoutCancelURL == "" {
		return Config{}, fmt.Errorf("CHECKOUT_CANCEL_URL is required")
	}

	// DATABASE_URLが無ければ個別指定が必須
	if cfg.DatabaseURL == "" {
		if cfg.PostgresUser == "" {
			return Config{}, fmt.Errorf("POSTGRES_USER is required")
		}
		if cfg.PostgresPassword == "" {
			return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
		}
		if cfg.PostgresDB == "" {
			return Config{}, fmt.Errorf("POSTGRES_DB is required")
		}
		if cfg.PostgresHost == "" {
			return Config{}, fmt.Errorf("POSTGRES_HOST is required")
		}
		pgPort, err := mustAtoi("POSTGRES_PORT")
		if err != nil {
			return Config{}, err
		}
		cfg.PostgresPort = pgPort
	}

	retries, err := atoiDefault("WEBHOOK_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	cfg.WebhookRetries = retries

	maxAgeHours, err := atoiDefault("WEBHOOK_MAX_EVENT_AGE_HOURS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.WebhookMaxEventAge = time.Duration(maxAgeHours) * time.Hour

	return cfg, nil
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}
