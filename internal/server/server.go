package server

import (
	"app/internal/config"
	"app/internal/handler"

	"github.com/labstack/echo/v4"
)

func Start(cfg config.Config, webhookH *handler.WebhookHandler, checkoutH *handler.CheckoutHandler, orderH *handler.OrderHandler) error {
	e := echo.New()
	e.HideBanner = true

	//webhookは認証グループの外（署名で真正性を確認する）
	webhookH.RegisterRoutes(e)

	checkoutH.RegisterRoutes(e, cfg)
	orderH.RegisterRoutes(e, cfg)

	addr := cfg.Port
	if addr == "" || addr[0] != ':' {
		addr = ":" + addr
	}
	return e.Start(addr)
}
