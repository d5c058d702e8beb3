package p99

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iurnickita/gamepay/internal/p99/config"
)

func newGatewayClient(t *testing.T, apiURL string) *Client {
	t.Helper()
	cfg := config.Config{
		APIURL:   apiURL,
		MID:      "MID001",
		CID:      "CID001",
		Key:      base64.StdEncoding.EncodeToString([]byte("123456789012345678901234")),
		IV:       base64.StdEncoding.EncodeToString([]byte("12345678")),
		Password: "secret",
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestNewClientValidatesKeys(t *testing.T) {
	cfg := config.Config{
		Key: base64.StdEncoding.EncodeToString([]byte("short")),
		IV:  base64.StdEncoding.EncodeToString([]byte("12345678")),
	}
	_, err := NewClient(cfg)
	require.ErrorIs(t, err, ErrBadKey)

	cfg = config.Config{
		Key: base64.StdEncoding.EncodeToString([]byte("123456789012345678901234")),
		IV:  base64.StdEncoding.EncodeToString([]byte("short")),
	}
	_, err = NewClient(cfg)
	require.ErrorIs(t, err, ErrBadIV)

	cfg = config.Config{Key: "not base64 at all!!!", IV: "also not"}
	_, err = NewClient(cfg)
	require.Error(t, err)
}

func TestSend(t *testing.T) {
	body := encodeResponse(t, Response{
		COID:      "GZORDER01",
		RRN:       "RRN777",
		RCode:     "0000",
		PayStatus: PayStatusSuccess,
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.NotEmpty(t, r.PostFormValue("data"))
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := newGatewayClient(t, srv.URL)
	resp, err := client.Send(context.Background(), "aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, "GZORDER01", resp.COID)
	require.Equal(t, PayStatusSuccess, resp.PayStatus)
}

func TestSendStripsDataPrefix(t *testing.T) {
	body := encodeResponse(t, Response{COID: "GZORDER01"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data=" + body))
	}))
	defer srv.Close()

	client := newGatewayClient(t, srv.URL)
	resp, err := client.Send(context.Background(), "aGVsbG8=")
	require.NoError(t, err)
	require.Equal(t, "GZORDER01", resp.COID)
}

func TestSendGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newGatewayClient(t, srv.URL)
	_, err := client.Send(context.Background(), "aGVsbG8=")
	require.Error(t, err)
}

func TestSendMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	client := newGatewayClient(t, srv.URL)
	_, err := client.Send(context.Background(), "aGVsbG8=")
	require.ErrorIs(t, err, ErrParseResponse)
}

func TestCheckOrder(t *testing.T) {
	var gotPCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := decodeRequest(t, r.PostFormValue("data"))
		gotPCode = fields["PCODE"]
		w.Write([]byte(encodeResponse(t, Response{COID: fields["COID"], PayStatus: PayStatusWaiting})))
	}))
	defer srv.Close()

	client := newGatewayClient(t, srv.URL)
	resp, err := client.CheckOrder(context.Background(), "GZORDER01", 999)
	require.NoError(t, err)
	require.Equal(t, PCodeQuery, gotPCode)
	require.Equal(t, "GZORDER01", resp.COID)
}

func TestSettleOrder(t *testing.T) {
	var gotMsgType, gotMID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields := decodeRequest(t, r.PostFormValue("data"))
		gotMsgType = fields["MSG_TYPE"]
		gotMID = fields["MID"]
		w.Write([]byte(encodeResponse(t, Response{COID: fields["COID"], RCode: "0000"})))
	}))
	defer srv.Close()

	client := newGatewayClient(t, srv.URL)
	resp, err := client.SettleOrder(context.Background(), "GZORDER01", 999, PaymentAgentKiwiWallet)
	require.NoError(t, err)
	require.Equal(t, MsgTypeSettle, gotMsgType)
	require.Equal(t, "MID001", gotMID)
	require.Equal(t, RCodeSuccess, resp.RCode)
}
