package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"app/internal/usecase"

	"github.com/labstack/echo/v4"
	stripe "github.com/stripe/stripe-go/v82"
)

// Webhookペイロードの上限。Stripeのイベントは小さいので64KBで十分
const maxWebhookBodySize = 64 * 1024

// 署名検証の境界。実装は infra/stripegw.Verifier。
type WebhookVerifier interface {
	Verify(sigHeader string, payload []byte) (stripe.Event, error)
}

// /webhooks/stripe はStripeから直接呼ばれるので認証ミドルウェアの外。
// 真正性は署名ヘッダで担保する。
type WebhookHandler struct {
	verifier WebhookVerifier
	uc       *usecase.WebhookUsecase
	logger   *slog.Logger
}

func NewWebhookHandler(verifier WebhookVerifier, uc *usecase.WebhookUsecase, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{verifier: verifier, uc: uc, logger: logger}
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/stripe", h.handle)
}

func (h *WebhookHandler) handle(c echo.Context) error {
	req := c.Request()

	//署名検証の入力になるので生のまま読む（パースしない）
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBodySize+1))
	if err != nil {
		//読み取り失敗は転送経路の問題。500で返して再配送に任せる
		h.logger.Warn("webhook body read failed", "error", err.Error())
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
	if len(body) > maxWebhookBodySize {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "body too large"})
	}

	event, err := h.verifier.Verify(req.Header.Get("Stripe-Signature"), body)
	if err != nil {
		//署名不正は台帳にも残さない。リトライさせても直らない
		h.logger.Warn("webhook signature verification failed", "error", err.Error())
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
	}

	in := usecase.IncomingEvent{
		ID:   event.ID,
		Type: string(event.Type),
	}
	if event.Created > 0 {
		in.Created = time.Unix(event.Created, 0)
	}
	if event.Data != nil {
		in.Payload = event.Data.Raw

		//checkout系イベントのオブジェクトはセッションなのでIDだけ先に抜く
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(event.Data.Raw, &obj); err == nil {
			in.SessionID = obj.ID
		}
	}

	if err := h.uc.HandleEvent(req.Context(), in); err != nil {
		//500でプロバイダに再配送させる
		h.logger.Error("webhook processing failed", "event_id", event.ID, "error", err.Error())
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
