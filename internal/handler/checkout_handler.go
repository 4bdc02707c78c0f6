package handler

import (
	"net/http"

	"app/internal/config"
	"app/internal/middleware"
	"app/internal/usecase"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type CheckoutHandler struct {
	uc       *usecase.CheckoutUsecase
	validate *validator.Validate
}

func NewCheckoutHandler(uc *usecase.CheckoutUsecase) *CheckoutHandler {
	return &CheckoutHandler{uc: uc, validate: validator.New()}
}

type CheckoutItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type CheckoutRequest struct {
	Items []CheckoutItemRequest `json:"items" validate:"required,min=1,dive"`

	Name       string `json:"name" validate:"required,max=255"`
	Phone      string `json:"phone" validate:"max=30"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Prefecture string `json:"prefecture" validate:"required,max=100"`
	City       string `json:"city" validate:"required,max=255"`
	Line1      string `json:"line1" validate:"required,max=255"`
	Line2      string `json:"line2" validate:"max=255"`
}

func (h *CheckoutHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/checkout")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("", h.create)
}

func (h *CheckoutHandler) create(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	idemKey := c.Request().Header.Get("X-Idempotency-Key")

	items := make([]usecase.CheckoutItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, usecase.CheckoutItemInput{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
		})
	}

	out, err := h.uc.CreateSession(c.Request().Context(), userID, usecase.CheckoutInput{
		Items:          items,
		IdempotencyKey: idemKey,
		Name:           req.Name,
		Phone:          req.Phone,
		PostalCode:     req.PostalCode,
		Prefecture:     req.Prefecture,
		City:           req.City,
		Line1:          req.Line1,
		Line2:          req.Line2,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}
