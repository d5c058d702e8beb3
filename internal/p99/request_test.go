package p99

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeRequest(t *testing.T, encoded string) map[string]string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	return fields
}

func TestBuildOrderRequest(t *testing.T) {
	client := newTestClient(t)

	req, encoded, err := client.BuildOrderRequest(OrderParams{
		COID:         "GZORDER01",
		AmountCents:  999,
		PaymentAgent: PaymentAgentKiwiPin,
		UserAcctID:   "user1",
		ProductName:  "GameZoe Gold x999",
		ProductID:    "GOLD_999",
		ReturnURL:    "https://game.example/return",
	})
	require.NoError(t, err)

	fields := decodeRequest(t, encoded)
	require.Equal(t, "0100", fields["MSG_TYPE"])
	require.Equal(t, "300000", fields["PCODE"])
	require.Equal(t, "CID001", fields["CID"])
	require.Equal(t, "GZORDER01", fields["COID"])
	require.Equal(t, "USD", fields["CUID"])
	require.Equal(t, "COPKWP01", fields["PAID"])
	require.Equal(t, "9.99", fields["AMOUNT"])
	require.Equal(t, "M", fields["ORDER_TYPE"])
	require.Equal(t, "https://game.example/return", fields["RETURN_URL"])
	require.NotEmpty(t, fields["ERQC"])
	require.Equal(t, req.ERQC, fields["ERQC"])

	// MID в транзакционный запрос не входит
	_, hasMID := fields["MID"]
	require.False(t, hasMID)
}

func TestBuildOrderRequestUserChoice(t *testing.T) {
	client := newTestClient(t)

	_, encoded, err := client.BuildOrderRequest(OrderParams{
		COID:        "GZORDER01",
		AmountCents: 999,
		UserAcctID:  "user1",
	})
	require.NoError(t, err)

	fields := decodeRequest(t, encoded)
	require.Equal(t, "E", fields["ORDER_TYPE"])
	require.Equal(t, "", fields["PAID"])
}

func TestBuildOrderRequestTruncatesUserAcctID(t *testing.T) {
	client := newTestClient(t)

	long := strings.Repeat("u", 30)
	_, encoded, err := client.BuildOrderRequest(OrderParams{
		COID:        "GZORDER01",
		AmountCents: 999,
		UserAcctID:  long,
	})
	require.NoError(t, err)

	fields := decodeRequest(t, encoded)
	require.Equal(t, long[:20], fields["USER_ACCTID"])
}

func TestBuildCheckOrderRequest(t *testing.T) {
	client := newTestClient(t)

	req, encoded, err := client.BuildCheckOrderRequest("GZORDER01", 999, CurrencyUSD)
	require.NoError(t, err)

	fields := decodeRequest(t, encoded)
	require.Equal(t, "0100", fields["MSG_TYPE"])
	require.Equal(t, "200000", fields["PCODE"])
	require.Equal(t, "GZORDER01", fields["COID"])
	require.Equal(t, "9.99", fields["AMOUNT"])
	require.Equal(t, req.ERQC, fields["ERQC"])

	// ERQC запроса статуса считается без PAID и USER_ACCTID
	expected, err := client.ERQC("GZORDER01", CurrencyUSD, "", "", 999)
	require.NoError(t, err)
	require.Equal(t, expected, req.ERQC)
}

func TestBuildSettleRequest(t *testing.T) {
	client := newTestClient(t)

	_, encoded, err := client.BuildSettleRequest("GZORDER01", 999, PaymentAgentKiwiWallet, CurrencyUSD)
	require.NoError(t, err)

	fields := decodeRequest(t, encoded)
	require.Equal(t, "0500", fields["MSG_TYPE"])
	require.Equal(t, "300000", fields["PCODE"])
	require.Equal(t, "COPKWP09", fields["PAID"])
	require.Equal(t, "MID001", fields["MID"])
	require.Equal(t, "9.99", fields["AMOUNT"])
}

func TestBuildOrderRequestRejectsBadAmount(t *testing.T) {
	client := newTestClient(t)

	_, _, err := client.BuildOrderRequest(OrderParams{COID: "GZORDER01", AmountCents: -1})
	require.ErrorIs(t, err, ErrAmountNegative)
}
