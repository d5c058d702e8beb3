package p99

import (
	"crypto/cipher"
	"crypto/des"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrAmountNegative = errors.New("amount is negative")
	ErrAmountTooLarge = errors.New("amount exceeds 12 integer digits")
	ErrAmountFormat   = errors.New("malformed amount string")
)

// Целая часть суммы по протоколу не длиннее 12 цифр
const maxAmountWhole = 999999999999

// FormatAmount переводит сумму в центах в 14-значную строку протокола:
// 12 цифр целой части с ведущими нулями плюс ровно 2 цифры центов.
// Используется только внутри строк данных ERQC/ERPC.
func FormatAmount(cents int64) (string, error) {
	if cents < 0 {
		return "", ErrAmountNegative
	}
	whole := cents / 100
	if whole > maxAmountWhole {
		return "", ErrAmountTooLarge
	}
	return fmt.Sprintf("%012d%02d", whole, cents%100), nil
}

// ParseAmount разбирает десятичную строку суммы в центы. Дробная часть
// усекается (не округляется) до двух знаков — так же считает шлюз.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s[0] == '-' || s[0] == '+' {
		return 0, ErrAmountFormat
	}
	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}
	fracStr = (fracStr + "00")[:2]

	whole, err := strconv.ParseInt(wholeStr, 10, 64)
	if err != nil {
		return 0, ErrAmountFormat
	}
	if whole > maxAmountWhole {
		return 0, ErrAmountTooLarge
	}
	frac, err := strconv.ParseInt(fracStr, 10, 64)
	if err != nil {
		return 0, ErrAmountFormat
	}
	return whole*100 + frac, nil
}

// AmountString — сумма для поля AMOUNT запроса: обычная десятичная
// запись с двумя знаками, без ведущих нулей.
func AmountString(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// encrypt шифрует данные 3DES-CBC ключом мерчанта. Выравнивание PKCS7
// выполняется явно, включая полный блок при кратной длине: схема набивки
// должна совпадать со шлюзом байт в байт, доверять ее примитиву нельзя.
func (c *Client) encrypt(plain []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(c.key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plain, des.BlockSize)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(encrypted, padded)
	return encrypted, nil
}

func pkcs7Pad(data []byte, size int) []byte {
	pad := size - len(data)%size
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}
