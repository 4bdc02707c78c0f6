package main

import (
	"log/slog"
	"os"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/handler"
	"app/internal/infra/db"
	"app/internal/infra/delivery"
	infraRepo "app/internal/infra/repository"
	"app/internal/infra/stripegw"
	"app/internal/retry"
	"app/internal/server"
	"app/internal/usecase"

	"github.com/joho/godotenv"
)

func main() {
	//.envがあれば読む（本番は環境変数のみ）
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}

	//DB接続
	gormDB, err := db.Connect(cfg)
	if err != nil {
		logger.Error("db connect failed", "error", err.Error())
		os.Exit(1)
	}
	if err := gormDB.AutoMigrate(
		&model.User{},
		&model.Product{},
		&model.Order{},
		&model.OrderItem{},
		&model.Payment{},
		&model.WebhookEvent{},
	); err != nil {
		logger.Error("migrate failed", "error", err.Error())
		os.Exit(1)
	}

	//Repository（GORM実装）生成
	eventRepo := infraRepo.NewWebhookEventGormRepository(gormDB)
	orderRepo := infraRepo.NewOrderGormRepository(gormDB)
	orderItemRepo := infraRepo.NewOrderItemGormRepository(gormDB)
	paymentRepo := infraRepo.NewPaymentGormRepository(gormDB)
	userRepo := infraRepo.NewUserGormRepository(gormDB)
	txManager := infraRepo.NewTxManagerGorm(gormDB)

	//外部境界
	stripeGW := stripegw.New(cfg.StripeSecretKey)
	verifier := stripegw.NewVerifier(cfg.StripeWebhookSecret)

	var shipments usecase.ShipmentGateway
	if cfg.DeliveryAPIURL != "" {
		shipments = delivery.NewClient(cfg.DeliveryAPIURL, cfg.DeliveryAPIKey)
	}

	exec := retry.NewExecutor(logger)

	//Usecase生成
	webhookUC := usecase.NewWebhookUsecase(
		eventRepo, orderRepo, paymentRepo, userRepo,
		stripeGW, stripeGW, shipments,
		exec, logger,
		usecase.WebhookConfig{
			Retries:     cfg.WebhookRetries,
			MaxEventAge: cfg.WebhookMaxEventAge,
			Delivery: usecase.DeliveryConfig{
				CourierID:        cfg.DeliveryCourierID,
				ServiceCode:      cfg.DeliveryServiceCode,
				OriginPostalCode: cfg.DeliveryOriginPostalCode,
				OriginAddress:    cfg.DeliveryOriginAddress,
			},
		},
	)
	checkoutUC := usecase.NewCheckoutUsecase(
		txManager, orderRepo, userRepo, stripeGW, logger,
		cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, cfg.Currency,
	)
	orderUC := usecase.NewOrderUsecase(orderRepo, orderItemRepo, paymentRepo)

	//Handler生成
	webhookH := handler.NewWebhookHandler(verifier, webhookUC, logger)
	checkoutH := handler.NewCheckoutHandler(checkoutUC)
	orderH := handler.NewOrderHandler(orderUC)

	//Server起動
	if err := server.Start(cfg, webhookH, checkoutH, orderH); err != nil {
		logger.Error("server stopped", "error", err.Error())
		os.Exit(1)
	}
}
