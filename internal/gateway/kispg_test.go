package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(baseURL string) *Client {
	c := NewClient(Config{
		MID:         "testmid01",
		MerchantKey: "secret-key",
		BaseURL:     baseURL,
		ReturnURL:   "https://example.com/return",
		NotifyURL:   "https://example.com/notify",
	})
	c.now = func() time.Time {
		return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	}
	return c
}

func TestBuildInitParams(t *testing.T) {
	c := testClient("")
	p := c.BuildInitParams(42, 110000, "Morning Swim", "Kim", "010-1234-5678", "203.0.113.9")

	if p.EdiDate != "20260301093000" {
		t.Errorf("ediDate = %q", p.EdiDate)
	}
	if p.Amt != "110000" {
		t.Errorf("amt = %q", p.Amt)
	}
	if p.GoodsVat != 10000 || p.GoodsSplAmt != 100000 {
		t.Errorf("vat split = %d/%d, want 100000/10000", p.GoodsSplAmt, p.GoodsVat)
	}
	if want := sha256Hex("testmid0120260301093000110000secret-key"); p.RequestHash != want {
		t.Errorf("requestHash = %q, want %q", p.RequestHash, want)
	}

	id, err := ParseMoid(p.Moid)
	if err != nil {
		t.Fatalf("ParseMoid(%q): %v", p.Moid, err)
	}
	if id != 42 {
		t.Errorf("moid enrollment id = %d, want 42", id)
	}
}

func TestParseMoidRejectsGarbage(t *testing.T) {
	for _, moid := range []string{"", "enroll_42", "order_42_123", "enroll_x_123", "enroll_0_123"} {
		if _, err := ParseMoid(moid); !errors.Is(err, ErrBadMoid) {
			t.Errorf("ParseMoid(%q) err = %v, want ErrBadMoid", moid, err)
		}
	}
}

func TestVerifyNotification(t *testing.T) {
	c := testClient("")
	n := Notification{
		Mid:        "testmid01",
		Tid:        "testmid01012026030142",
		Moid:       "enroll_42_1770000000000",
		Amt:        "110000",
		ResultCode: "0000",
	}
	n.EncData = c.SignNotification(n)
	if err := c.VerifyNotification(n); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	tampered := n
	tampered.Amt = "1"
	if err := c.VerifyNotification(tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered amount accepted: err = %v", err)
	}

	empty := n
	empty.EncData = ""
	if err := c.VerifyNotification(empty); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("empty encData accepted: err = %v", err)
	}
}

func TestRefundSuccess(t *testing.T) {
	var got cancelRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/cancel" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(RefundResult{ResultCd: "2001", ResultMsg: "ok", Tid: got.Tid})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	res, err := c.Refund(context.Background(), "tid-1", "card", 75000, "user request", true)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if res.ResultCd != "2001" {
		t.Errorf("resultCd = %q", res.ResultCd)
	}
	if got.CanAmt != "75000" || got.PartCanFlg != "1" {
		t.Errorf("request canAmt=%q partCanFlg=%q", got.CanAmt, got.PartCanFlg)
	}
	if want := sha256Hex("testmid012026030109300075000secret-key"); got.EncData != want {
		t.Errorf("encData = %q, want %q", got.EncData, want)
	}
}

func TestRefundRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RefundResult{ResultCd: "9999", ResultMsg: "already canceled"})
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.Refund(context.Background(), "tid-1", "card", 1000, "", false); !errors.Is(err, ErrRefundRejected) {
		t.Errorf("err = %v, want ErrRefundRejected", err)
	}
}

func TestRefundGatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	c := testClient(srv.URL)
	if _, err := c.Refund(context.Background(), "tid-1", "card", 1000, "", false); !errors.Is(err, ErrUnavailable) {
		t.Errorf("502: err = %v, want ErrUnavailable", err)
	}
	srv.Close()

	// Connection refused after the server is gone.
	if _, err := c.Refund(context.Background(), "tid-1", "card", 1000, "", false); !errors.Is(err, ErrUnavailable) {
		t.Errorf("closed server: err = %v, want ErrUnavailable", err)
	}
}
