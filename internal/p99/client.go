package p99

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/iurnickita/gamepay/internal/p99/config"
)

var (
	ErrBadKey = errors.New("P99 key must decode to 24 bytes")
	ErrBadIV  = errors.New("P99 iv must decode to 8 bytes")
)

// Клиент шлюза P99PAY. Держит реквизиты мерчанта и HTTP-транспорт,
// конструируется явно и передается в сервис зависимостью.
type Client struct {
	cfg  config.Config
	key  []byte
	iv   []byte
	http *resty.Client
}

func NewClient(cfg config.Config) (*Client, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.Key)
	if err != nil || len(key) != 24 {
		return nil, ErrBadKey
	}
	iv, err := base64.StdEncoding.DecodeString(cfg.IV)
	if err != nil || len(iv) != 8 {
		return nil, ErrBadIV
	}

	return &Client{
		cfg:  cfg,
		key:  key,
		iv:   iv,
		http: resty.New().SetTimeout(cfg.Timeout).SetRetryCount(2),
	}, nil
}

// APIURL — адрес шлюза; вместе с formData возвращается клиенту,
// который сабмитит форму на шлюз сам.
func (c *Client) APIURL() string {
	return c.cfg.APIURL
}

// Send отправляет base64-запрос единственному API-эндпоинту шлюза
// формой data=<base64> и разбирает ответ того же формата.
func (c *Client) Send(ctx context.Context, base64Data string) (*Response, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"data": base64Data}).
		Post(c.cfg.APIURL)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("gateway status: %d", resp.StatusCode())
	}

	body := strings.TrimSpace(string(resp.Body()))
	if len(body) >= 5 && strings.EqualFold(body[:5], "data=") {
		body = body[5:]
	}
	return ParseResponse(body)
}

// CheckOrder запрашивает у шлюза текущий статус ордера.
func (c *Client) CheckOrder(ctx context.Context, coid string, amountCents int64) (*Response, error) {
	_, encoded, err := c.BuildCheckOrderRequest(coid, amountCents, CurrencyUSD)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, encoded)
}

// SettleOrder выполняет перечисление средств по успешному ордеру.
func (c *Client) SettleOrder(ctx context.Context, coid string, amountCents int64, paid string) (*Response, error) {
	_, encoded, err := c.BuildSettleRequest(coid, amountCents, paid, CurrencyUSD)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, encoded)
}
