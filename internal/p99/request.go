package p99

import (
	"encoding/base64"
	"encoding/json"
)

const (
	MsgTypeTransaction = "0100" // авторизация / запрос
	MsgTypeSettle      = "0500" // 請款: перечисление средств мерчанту

	PCodeGeneral = "300000" // обычная транзакция
	PCodeQuery   = "200000" // запрос статуса ордера

	CurrencyUSD = "USD"

	// ORDER_TYPE: M — платежный агент зафиксирован мерчантом,
	// E — пользователь выбирает на странице шлюза
	OrderTypePinnedAgent = "M"
	OrderTypeUserChoice  = "E"

	// Шлюз ограничивает длину USER_ACCTID
	maxUserAcctIDLen = 20
)

// Платежные агенты KIWI
const (
	PaymentAgentKiwiPin    = "COPKWP01"
	PaymentAgentKiwiWallet = "COPKWP09"
)

// Запрос авторизации. Состав и наличие полей фиксированы протоколом:
// MID в этот запрос не входит (только в settle).
type OrderRequest struct {
	MsgType      string `json:"MSG_TYPE"`
	PCode        string `json:"PCODE"`
	CID          string `json:"CID"`
	COID         string `json:"COID"`
	CUID         string `json:"CUID"`
	PaymentAgent string `json:"PAID"`
	Amount       string `json:"AMOUNT"`
	ERQC         string `json:"ERQC"`
	ReturnURL    string `json:"RETURN_URL"`
	OrderType    string `json:"ORDER_TYPE"`
	ProductName  string `json:"PRODUCT_NAME"`
	ProductID    string `json:"PRODUCT_ID"`
	UserAcctID   string `json:"USER_ACCTID"`
	Memo         string `json:"MEMO"`
}

type CheckOrderRequest struct {
	MsgType string `json:"MSG_TYPE"`
	PCode   string `json:"PCODE"`
	CID     string `json:"CID"`
	COID    string `json:"COID"`
	CUID    string `json:"CUID"`
	Amount  string `json:"AMOUNT"`
	ERQC    string `json:"ERQC"`
}

type SettleRequest struct {
	MsgType      string `json:"MSG_TYPE"`
	PCode        string `json:"PCODE"`
	CID          string `json:"CID"`
	COID         string `json:"COID"`
	CUID         string `json:"CUID"`
	PaymentAgent string `json:"PAID"`
	Amount       string `json:"AMOUNT"`
	ERQC         string `json:"ERQC"`
	MID          string `json:"MID"`
}

type OrderParams struct {
	COID         string
	AmountCents  int64
	PaymentAgent string // пусто = выбор пользователя на шлюзе
	UserAcctID   string
	ProductName  string
	ProductID    string
	Memo         string
	ReturnURL    string // пусто = RETURN_URL из конфигурации
}

// BuildOrderRequest собирает запрос авторизации. Возвращает структуру
// (для журнала) и ее base64-представление (для передачи шлюзу).
func (c *Client) BuildOrderRequest(p OrderParams) (*OrderRequest, string, error) {
	userAcctID := p.UserAcctID
	if len(userAcctID) > maxUserAcctIDLen {
		userAcctID = userAcctID[:maxUserAcctIDLen]
	}

	erqc, err := c.ERQC(p.COID, CurrencyUSD, p.PaymentAgent, userAcctID, p.AmountCents)
	if err != nil {
		return nil, "", err
	}

	orderType := OrderTypeUserChoice
	if p.PaymentAgent != "" {
		orderType = OrderTypePinnedAgent
	}
	returnURL := p.ReturnURL
	if returnURL == "" {
		returnURL = c.cfg.ReturnURL
	}

	req := &OrderRequest{
		MsgType:      MsgTypeTransaction,
		PCode:        PCodeGeneral,
		CID:          c.cfg.CID,
		COID:         p.COID,
		CUID:         CurrencyUSD,
		PaymentAgent: p.PaymentAgent,
		Amount:       AmountString(p.AmountCents),
		ERQC:         erqc,
		ReturnURL:    returnURL,
		OrderType:    orderType,
		ProductName:  p.ProductName,
		ProductID:    p.ProductID,
		UserAcctID:   userAcctID,
		Memo:         p.Memo,
	}
	encoded, err := encodeRequest(req)
	return req, encoded, err
}

// BuildCheckOrderRequest собирает запрос статуса. ERQC здесь считается
// без PAID и USER_ACCTID.
func (c *Client) BuildCheckOrderRequest(coid string, amountCents int64, cuid string) (*CheckOrderRequest, string, error) {
	erqc, err := c.ERQC(coid, cuid, "", "", amountCents)
	if err != nil {
		return nil, "", err
	}
	req := &CheckOrderRequest{
		MsgType: MsgTypeTransaction,
		PCode:   PCodeQuery,
		CID:     c.cfg.CID,
		COID:    coid,
		CUID:    cuid,
		Amount:  AmountString(amountCents),
		ERQC:    erqc,
	}
	encoded, err := encodeRequest(req)
	return req, encoded, err
}

// BuildSettleRequest собирает запрос на перечисление средств (請款).
// Единственный запрос, несущий MID.
func (c *Client) BuildSettleRequest(coid string, amountCents int64, paid string, cuid string) (*SettleRequest, string, error) {
	erqc, err := c.ERQC(coid, cuid, "", "", amountCents)
	if err != nil {
		return nil, "", err
	}
	req := &SettleRequest{
		MsgType:      MsgTypeSettle,
		PCode:        PCodeGeneral,
		CID:          c.cfg.CID,
		COID:         coid,
		CUID:         cuid,
		PaymentAgent: paid,
		Amount:       AmountString(amountCents),
		ERQC:         erqc,
		MID:          c.cfg.MID,
	}
	encoded, err := encodeRequest(req)
	return req, encoded, err
}

func encodeRequest(req any) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
