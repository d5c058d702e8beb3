package p99

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
)

// Верификационные коды P99: строка данных шифруется 3DES-CBC, base64
// шифртекста хэшируется SHA-1, дайджест кодируется base64. Хэш берется
// именно от base64-представления — так считает шлюз.
func (c *Client) signCode(data string) (string, error) {
	encrypted, err := c.encrypt([]byte(data))
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(base64.StdEncoding.EncodeToString(encrypted)))
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// ERQC — код исходящего запроса мерчанта.
// Строка данных: CID + COID + CUID + PAID + AMOUNT(14) + USER_ACCTID + PASSWORD.
// PAID и USER_ACCTID участвуют пустыми строками, если не заданы.
func (c *Client) ERQC(coid, cuid, paid, userAcctID string, amountCents int64) (string, error) {
	amount, err := FormatAmount(amountCents)
	if err != nil {
		return "", err
	}
	return c.signCode(c.cfg.CID + coid + cuid + paid + amount + userAcctID + c.cfg.Password)
}

// ERPC — код ответа шлюза. Состав полей отличается от ERQC, это
// зафиксировано документацией протокола: CID + COID + RRN + CUID +
// AMOUNT(14) + RCODE. CID берется из самого ответа.
func (c *Client) ERPC(cid, coid, rrn, cuid string, amountCents int64, rcode string) (string, error) {
	amount, err := FormatAmount(amountCents)
	if err != nil {
		return "", err
	}
	return c.signCode(cid + coid + rrn + cuid + amount + rcode)
}

// VerifyResponse пересчитывает ERPC по полям самого ответа и сравнивает
// с заявленным. Отсутствующий или некорректный код — всегда false.
func (c *Client) VerifyResponse(resp *Response) bool {
	if resp == nil || resp.ERPC == "" {
		return false
	}
	cents, err := ParseAmount(resp.Amount)
	if err != nil {
		return false
	}
	expected, err := c.ERPC(resp.CID, resp.COID, resp.RRN, resp.CUID, cents, resp.RCode)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(resp.ERPC)) == 1
}
