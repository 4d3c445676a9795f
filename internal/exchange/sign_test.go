package exchange

import (
	"net/url"
	"strings"
	"testing"
)

func TestSignKnownVector(t *testing.T) {
	t.Parallel()

	// Published example from the exchange API docs.
	s := NewSigner(Credentials{
		Key:    "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A",
		Secret: "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j",
	})

	query := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"

	if got := s.Sign(query); got != want {
		t.Errorf("Sign() = %s, want %s", got, want)
	}
}

func TestSignedQueryRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewSigner(Credentials{Key: "key", Secret: "topsecret"})

	params := url.Values{}
	params.Set("symbol", "ETHBTC")
	params.Set("side", "SELL")
	params.Set("quantity", "0.5")
	params.Set("timestamp", "1700000000000")

	signed := s.SignedQuery(params)

	idx := strings.LastIndex(signed, "&signature=")
	if idx < 0 {
		t.Fatalf("SignedQuery() = %q, missing signature parameter", signed)
	}
	query, sig := signed[:idx], signed[idx+len("&signature="):]

	if !s.Verify(query, sig) {
		t.Errorf("Verify(%q, %q) = false, want true", query, sig)
	}
	if s.Verify(query+"&quantity=99", sig) {
		t.Error("Verify() accepted a tampered query")
	}
}

func TestSignedQueryDeterministic(t *testing.T) {
	t.Parallel()

	s := NewSigner(Credentials{Key: "key", Secret: "secret"})

	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("timestamp", "1700000000000")

	if a, b := s.SignedQuery(params), s.SignedQuery(params); a != b {
		t.Errorf("SignedQuery() not deterministic: %q vs %q", a, b)
	}
}
