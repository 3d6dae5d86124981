// Package gateway talks to the KISPG payment gateway. It builds the
// browser-side payment init parameters, verifies inbound notification
// signatures and calls the server-side cancel (refund) API.
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable is returned when the gateway cannot be reached or
// answers with a non-200 status. No state change may be derived from it.
var ErrUnavailable = errors.New("kispg unavailable")

// ErrInvalidSignature is returned when a notification's encData hash
// does not match the expected value.
var ErrInvalidSignature = errors.New("kispg signature mismatch")

// ErrRefundRejected is returned when the cancel API answers with a
// failure result code. The message carries the gateway's resultMsg.
var ErrRefundRejected = errors.New("kispg refund rejected")

// ErrBadMoid is returned when an order id does not follow the
// enroll_<id>_<millis> format.
var ErrBadMoid = errors.New("malformed moid")

// Config holds the merchant credentials and endpoints.
type Config struct {
	MID         string
	MerchantKey string
	BaseURL     string // e.g. https://api.kispg.co.kr
	ReturnURL   string // browser redirect target after payment
	NotifyURL   string // server-to-server webhook target
}

// Client is a KISPG API client. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// NewClient returns a Client with a 10 second request timeout.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		now:  time.Now,
	}
}

// InitParams are the fields the browser posts to the KISPG payment
// window. The hash binds mid, ediDate and amount to the merchant key so
// the client cannot alter the amount.
type InitParams struct {
	MID         string `json:"mid"`
	Moid        string `json:"moid"`
	Amt         string `json:"amt"`
	ItemName    string `json:"goodsNm"`
	BuyerName   string `json:"buyerNm"`
	BuyerTel    string `json:"buyerTel"`
	EdiDate     string `json:"ediDate"`
	RequestHash string `json:"requestHash"`
	GoodsSplAmt int    `json:"goodsSplAmt"`
	GoodsVat    int    `json:"goodsVat"`
	ReturnURL   string `json:"returnUrl"`
	NotifyURL   string `json:"notifyUrl"`
	UserIP      string `json:"userIp"`
}

// BuildInitParams prepares the payment window parameters for one
// enrollment. The order id embeds the enrollment id so the webhook can
// route the notification back without extra state.
func (c *Client) BuildInitParams(enrollID uint64, amount int, itemName, buyerName, buyerTel, userIP string) InitParams {
	now := c.now().UTC()
	amt := strconv.Itoa(amount)
	ediDate := now.Format("20060102150405")
	vat := amount / 11 // VAT-inclusive pricing: supply = amt - amt/11
	return InitParams{
		MID:         c.cfg.MID,
		Moid:        fmt.Sprintf("enroll_%d_%d", enrollID, now.UnixMilli()),
		Amt:         amt,
		ItemName:    itemName,
		BuyerName:   buyerName,
		BuyerTel:    buyerTel,
		EdiDate:     ediDate,
		RequestHash: sha256Hex(c.cfg.MID + ediDate + amt + c.cfg.MerchantKey),
		GoodsSplAmt: amount - vat,
		GoodsVat:    vat,
		ReturnURL:   c.cfg.ReturnURL,
		NotifyURL:   c.cfg.NotifyURL,
		UserIP:      userIP,
	}
}

// ParseMoid extracts the enrollment id from an order id of the form
// enroll_<id>_<millis>.
func ParseMoid(moid string) (uint64, error) {
	parts := strings.Split(moid, "_")
	if len(parts) != 3 || parts[0] != "enroll" {
		return 0, ErrBadMoid
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		return 0, ErrBadMoid
	}
	return id, nil
}

// Notification is the server-to-server payment result KISPG posts to
// the notify URL.
type Notification struct {
	Mid        string `json:"mid" form:"mid"`
	Tid        string `json:"tid" form:"tid"`
	Moid       string `json:"moid" form:"moid"`
	Amt        string `json:"amt" form:"amt"`
	ResultCode string `json:"resultCode" form:"resultCode"`
	ResultMsg  string `json:"resultMsg" form:"resultMsg"`
	PayMethod  string `json:"payMethod" form:"payMethod"`
	ApproveNo  string `json:"appNo" form:"appNo"`
	EncData    string `json:"encData" form:"encData"`
}

// Approved reports whether the notification signals a successful
// capture.
func (n Notification) Approved() bool { return n.ResultCode == "0000" }

// Amount returns the notified amount as an integer; malformed values
// come back as -1 so they can never pass an amount equality check.
func (n Notification) Amount() int {
	v, err := strconv.Atoi(strings.TrimSpace(n.Amt))
	if err != nil {
		return -1
	}
	return v
}

// VerifyNotification checks the encData signature:
// SHA-256(mid + tid + moid + amt + merchantKey), hex, case-insensitive.
func (c *Client) VerifyNotification(n Notification) error {
	if strings.TrimSpace(n.EncData) == "" {
		return ErrInvalidSignature
	}
	want := sha256Hex(n.Mid + n.Tid + n.Moid + n.Amt + c.cfg.MerchantKey)
	if !strings.EqualFold(want, n.EncData) {
		return ErrInvalidSignature
	}
	return nil
}

// SignNotification computes the encData value for a notification. Used
// by tests and the sandbox simulator.
func (c *Client) SignNotification(n Notification) string {
	return sha256Hex(n.Mid + n.Tid + n.Moid + n.Amt + c.cfg.MerchantKey)
}

type cancelRequest struct {
	Mid        string `json:"mid"`
	Tid        string `json:"tid"`
	PayMethod  string `json:"payMethod"`
	CanAmt     string `json:"canAmt"`
	CanMsg     string `json:"canMsg"`
	EdiDate    string `json:"ediDate"`
	EncData    string `json:"encData"`
	Charset    string `json:"charset"`
	PartCanFlg string `json:"partCanFlg"`
}

// RefundResult is the cancel API response.
type RefundResult struct {
	ResultCd  string `json:"resultCd"`
	ResultMsg string `json:"resultMsg"`
	Tid       string `json:"tid"`
	CanAmt    string `json:"canAmt"`
}

// Refund cancels all or part of a captured payment. Transport failures
// and non-200 responses map to ErrUnavailable (safe to retry, nothing
// changed); a gateway-level rejection maps to ErrRefundRejected.
func (c *Client) Refund(ctx context.Context, tid, payMethod string, amount int, reason string, partial bool) (RefundResult, error) {
	ediDate := c.now().UTC().Format("20060102150405")
	amt := strconv.Itoa(amount)
	flag := "0"
	if partial {
		flag = "1"
	}
	if payMethod == "" {
		payMethod = "card"
	}
	req := cancelRequest{
		Mid:        c.cfg.MID,
		Tid:        tid,
		PayMethod:  strings.ToLower(payMethod),
		CanAmt:     amt,
		CanMsg:     reason,
		EdiDate:    ediDate,
		EncData:    sha256Hex(c.cfg.MID + ediDate + amt + c.cfg.MerchantKey),
		Charset:    "UTF-8",
		PartCanFlg: flag,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return RefundResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v2/cancel", bytes.NewReader(body))
	if err != nil {
		return RefundResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return RefundResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return RefundResult{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out RefundResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RefundResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// 2001 is a full cancel, 2002 a partial cancel.
	if out.ResultCd != "2001" && out.ResultCd != "2002" {
		return out, fmt.Errorf("%w: [%s] %s", ErrRefundRejected, out.ResultCd, out.ResultMsg)
	}
	return out, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
