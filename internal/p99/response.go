package p99

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"
)

var ErrParseResponse = errors.New("malformed gateway response")

// Статусы платежа в ответах шлюза
const (
	PayStatusSuccess = "S" // транзакция успешна
	PayStatusWaiting = "W" // ожидает подтверждения агентом
	PayStatusFailed  = "F" // транзакция отклонена
)

const RCodeSuccess = "0000"

// Коды ответа, после которых запрос имеет смысл повторить позже
var retryRCodes = map[string]struct{}{
	"9004": {},
	"9997": {},
	"9998": {},
	"9999": {},
}

// IsRetryCode сообщает, является ли код ответа транзиентным.
func IsRetryCode(rcode string) bool {
	_, ok := retryRCodes[rcode]
	return ok
}

// Ответ шлюза: и на прямые запросы, и в callback-параметре data.
type Response struct {
	MsgType      string `json:"MSG_TYPE"`
	PCode        string `json:"PCODE"`
	CID          string `json:"CID"`
	COID         string `json:"COID"`
	CUID         string `json:"CUID"`
	PaymentAgent string `json:"PAID"`
	Amount       string `json:"AMOUNT"`
	RRN          string `json:"RRN"`
	RCode        string `json:"RCODE"`
	PayStatus    string `json:"PAY_STATUS"`
	PayRCode     string `json:"PAY_RCODE"`
	RMsgChi      string `json:"RMSG_CHI"`
	RMsgEng      string `json:"RMSG_ENG"`
	ERPC         string `json:"ERPC"`
}

// ParseResponse декодирует ответ шлюза: опциональный URL-decode,
// base64, UTF-8, JSON. Любой сбой на любом шаге — ErrParseResponse,
// частично разобранных ответов не бывает.
func ParseResponse(data string) (*Response, error) {
	data = strings.TrimSpace(data)
	if strings.Contains(data, "%") {
		unescaped, err := url.QueryUnescape(data)
		if err != nil {
			return nil, ErrParseResponse
		}
		data = unescaped
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrParseResponse
	}
	if !utf8.Valid(raw) {
		return nil, ErrParseResponse
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, ErrParseResponse
	}
	return &resp, nil
}

// Ack — подтверждение для notify-callback в формате шлюза. Без него
// шлюз продолжает повторять доставку.
func (r *Response) Ack() string {
	return r.RRN + "|" + r.PayStatus
}

// FailureCode — код отказа для пользователя: PAY_RCODE точнее RCODE,
// если агент его прислал.
func (r *Response) FailureCode() string {
	if r.PayRCode != "" {
		return r.PayRCode
	}
	return r.RCode
}

func (r *Response) FailureMessage() string {
	if r.RMsgChi != "" {
		return r.RMsgChi
	}
	return r.RMsgEng
}
