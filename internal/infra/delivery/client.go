// Package delivery は配送プロバイダとの境界。
// 伝票作成はベストエフォートの副作用で、呼び出し元が失敗を握りつぶす前提。
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"app/internal/usecase"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// baseURLはテストでhttptestサーバーに差し替える。
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

type createShipmentRequest struct {
	CourierID   string              `json:"courier_id"`
	ServiceCode string              `json:"service_code"`
	Origin      shipmentAddress     `json:"origin"`
	Destination shipmentDestination `json:"destination"`
	PackageInfo string              `json:"package_info"`
	OrderID     int64               `json:"order_id"`
}

type shipmentAddress struct {
	PostalCode string `json:"postal_code"`
	Address    string `json:"address"`
}

type shipmentDestination struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	PostalCode string `json:"postal_code"`
	Prefecture string `json:"prefecture"`
	City       string `json:"city"`
	Rest       string `json:"rest"`
}

type createShipmentResponse struct {
	DeliveryID     string `json:"delivery_id"`
	TrackingNumber string `json:"tracking_number"`
}

func (c *Client) CreateShipment(ctx context.Context, in usecase.ShipmentInput) (usecase.ShipmentResult, error) {
	body, err := json.Marshal(createShipmentRequest{
		CourierID:   in.CourierID,
		ServiceCode: in.ServiceCode,
		Origin: shipmentAddress{
			PostalCode: in.OriginPostalCode,
			Address:    in.OriginAddress,
		},
		Destination: shipmentDestination{
			Name:       in.Destination.Name,
			Phone:      in.Destination.Phone,
			PostalCode: in.Destination.PostalCode,
			Prefecture: in.Destination.Prefecture,
			City:       in.Destination.City,
			Rest:       in.Destination.Rest,
		},
		PackageInfo: in.PackageInfo,
		OrderID:     in.OrderID,
	})
	if err != nil {
		return usecase.ShipmentResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shipments", bytes.NewReader(body))
	if err != nil {
		return usecase.ShipmentResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return usecase.ShipmentResult{}, fmt.Errorf("create shipment: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return usecase.ShipmentResult{}, fmt.Errorf("create shipment: status %d: %s", res.StatusCode, snippet)
	}

	var out createShipmentResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return usecase.ShipmentResult{}, fmt.Errorf("create shipment: decode response: %w", err)
	}

	return usecase.ShipmentResult{
		DeliveryID:     out.DeliveryID,
		TrackingNumber: out.TrackingNumber,
	}, nil
}
