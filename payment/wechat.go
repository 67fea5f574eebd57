package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/jsapi"
	"github.com/wechatpay-apiv3/wechatpay-go/services/refunddomestic"
	wxutils "github.com/wechatpay-apiv3/wechatpay-go/utils"
)

// WeChatConfig carries the merchant credentials for WeChat Pay v3.
type WeChatConfig struct {
	AppID           string
	MchID           string
	MchCertSerialNo string
	MchAPIv3Key     string
	PrivateKeyPath  string // apiclient_key.pem
	NotifyURL       string
}

// WeChatConfigFromEnv reads the WXPAY_* variables. An empty config selects
// the simulation provider at startup.
func WeChatConfigFromEnv() WeChatConfig {
	return WeChatConfig{
		AppID:           os.Getenv("WX_APP_ID"),
		MchID:           os.Getenv("WXPAY_MCH_ID"),
		MchCertSerialNo: os.Getenv("WXPAY_CERT_SERIAL_NO"),
		MchAPIv3Key:     os.Getenv("WXPAY_APIV3_KEY"),
		PrivateKeyPath:  os.Getenv("WXPAY_PRIVATE_KEY_PATH"),
		NotifyURL:       os.Getenv("WXPAY_NOTIFY_URL"),
	}
}

// Complete reports whether every field required to talk to WeChat Pay is set.
func (c WeChatConfig) Complete() bool {
	return c.AppID != "" && c.MchID != "" && c.MchCertSerialNo != "" &&
		c.MchAPIv3Key != "" && c.PrivateKeyPath != "" && c.NotifyURL != ""
}

// Partial reports a half-filled configuration, which is a deployment mistake
// rather than a request for simulation mode.
func (c WeChatConfig) Partial() bool {
	return !c.Complete() &&
		(c.MchID != "" || c.MchCertSerialNo != "" || c.MchAPIv3Key != "" ||
			c.PrivateKeyPath != "" || c.NotifyURL != "")
}

// WeChatProvider implements Provider on the WeChat Pay v3 JSAPI surface
// (mini-program payments).
type WeChatProvider struct {
	cfg       WeChatConfig
	client    *core.Client
	jsapiSvc  jsapi.JsapiApiService
	refundSvc refunddomestic.RefundsApiService
	handler   *notify.Handler
}

func NewWeChatProvider(ctx context.Context, cfg WeChatConfig) (*WeChatProvider, error) {
	privateKey, err := wxutils.LoadPrivateKeyWithPath(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load merchant private key: %w", err)
	}

	client, err := core.NewClient(ctx, option.WithWechatPayAutoAuthCipher(
		cfg.MchID, cfg.MchCertSerialNo, privateKey, cfg.MchAPIv3Key,
	))
	if err != nil {
		return nil, fmt.Errorf("create wechatpay client: %w", err)
	}

	// Platform certificates are needed to verify webhook signatures.
	if err := downloader.MgrInstance().RegisterDownloaderWithPrivateKey(
		ctx, privateKey, cfg.MchCertSerialNo, cfg.MchID, cfg.MchAPIv3Key,
	); err != nil {
		return nil, fmt.Errorf("register certificate downloader: %w", err)
	}
	certVisitor := downloader.MgrInstance().GetCertificateVisitor(cfg.MchID)
	handler := notify.NewNotifyHandler(cfg.MchAPIv3Key, verifiers.NewSHA256WithRSAVerifier(certVisitor))

	log.Printf("[PAYMENT] WeChat Pay initialized (mchid=%s)", cfg.MchID)
	return &WeChatProvider{
		cfg:       cfg,
		client:    client,
		jsapiSvc:  jsapi.JsapiApiService{Client: client},
		refundSvc: refunddomestic.RefundsApiService{Client: client},
		handler:   handler,
	}, nil
}

func (p *WeChatProvider) Simulated() bool { return false }

func (p *WeChatProvider) Prepay(ctx context.Context, req PrepayRequest) (*Params, error) {
	resp, _, err := p.jsapiSvc.PrepayWithRequestPayment(ctx, jsapi.PrepayRequest{
		Appid:       core.String(p.cfg.AppID),
		Mchid:       core.String(p.cfg.MchID),
		Description: core.String(req.Description),
		OutTradeNo:  core.String(req.OutTradeNo),
		NotifyUrl:   core.String(p.cfg.NotifyURL),
		Amount: &jsapi.Amount{
			Total:    core.Int64(yuanToCents(req.AmountYuan)),
			Currency: core.String("CNY"),
		},
		Payer: &jsapi.Payer{Openid: core.String(req.OpenID)},
	})
	if err != nil {
		return nil, mapPrepayError(err)
	}
	return &Params{
		AppID:     deref(resp.Appid),
		TimeStamp: deref(resp.TimeStamp),
		NonceStr:  deref(resp.NonceStr),
		Package:   deref(resp.Package),
		SignType:  deref(resp.SignType),
		PaySign:   deref(resp.PaySign),
	}, nil
}

func (p *WeChatProvider) QueryOrder(ctx context.Context, outTradeNo string) (OrderState, error) {
	tx, _, err := p.jsapiSvc.QueryOrderByOutTradeNo(ctx, jsapi.QueryOrderByOutTradeNoRequest{
		OutTradeNo: core.String(outTradeNo),
		Mchid:      core.String(p.cfg.MchID),
	})
	if err != nil {
		var apiErr *core.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "ORDERNOTEXIST" {
			return OrderStateClosed, nil
		}
		return OrderStateUnknown, err
	}
	return mapTradeState(deref(tx.TradeState)), nil
}

func (p *WeChatProvider) ParseNotify(ctx context.Context, req *http.Request) (*Notification, error) {
	var tx payments.Transaction
	if _, err := p.handler.ParseNotifyRequest(ctx, req, &tx); err != nil {
		return nil, fmt.Errorf("verify payment notification: %w", err)
	}
	return &Notification{
		OutTradeNo:    deref(tx.OutTradeNo),
		TransactionID: deref(tx.TransactionId),
		TradeState:    mapTradeState(deref(tx.TradeState)),
	}, nil
}

func (p *WeChatProvider) Refund(ctx context.Context, req RefundRequest) error {
	cents := yuanToCents(req.AmountYuan)
	_, _, err := p.refundSvc.Create(ctx, refunddomestic.CreateRequest{
		OutTradeNo:  core.String(req.OutTradeNo),
		OutRefundNo: core.String(req.OutRefundNo),
		Reason:      core.String(req.Reason),
		Amount: &refunddomestic.AmountReq{
			Refund:   core.Int64(cents),
			Total:    core.Int64(cents),
			Currency: core.String("CNY"),
		},
	})
	if err != nil {
		var apiErr *core.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Code {
			// Duplicate OutRefundNo means an earlier attempt already went
			// through; treat as success and let QueryRefund settle the state.
			case "RESOURCE_ALREADY_EXISTS":
				return nil
			case "NOT_ENOUGH", "INVALID_REQUEST", "PARAM_ERROR", "ORDER_CLOSED":
				return fmt.Errorf("%w: %s", ErrRefundDeclined, apiErr.Message)
			}
		}
		return err // transport or unexpected shape: in-doubt
	}
	return nil
}

func (p *WeChatProvider) QueryRefund(ctx context.Context, outRefundNo string) (RefundState, error) {
	resp, _, err := p.refundSvc.QueryByOutRefundNo(ctx, refunddomestic.QueryByOutRefundNoRequest{
		OutRefundNo: core.String(outRefundNo),
	})
	if err != nil {
		var apiErr *core.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "RESOURCE_NOT_EXISTS" {
			return RefundStateNotFound, nil
		}
		return RefundStateProcessing, err
	}
	if resp.Status == nil {
		return RefundStateProcessing, nil
	}
	switch *resp.Status {
	case refunddomestic.STATUS_SUCCESS:
		return RefundStateSuccess, nil
	case refunddomestic.STATUS_ABNORMAL, refunddomestic.STATUS_CLOSED:
		return RefundStateAbnormal, nil
	default:
		return RefundStateProcessing, nil
	}
}

func mapPrepayError(err error) error {
	var apiErr *core.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case "ORDERPAID":
		return ErrOrderAlreadyPaid
	case "OUT_TRADE_NO_USED", "INVALID_REQUEST":
		return fmt.Errorf("%w: %s", ErrOrderConflict, apiErr.Message)
	}
	return err
}

func mapTradeState(state string) OrderState {
	switch state {
	case "SUCCESS":
		return OrderStateSuccess
	case "NOTPAY", "USERPAYING", "ACCEPT":
		return OrderStateNotPay
	case "CLOSED", "REVOKED", "PAYERROR", "REFUND":
		return OrderStateClosed
	default:
		return OrderStateUnknown
	}
}

func yuanToCents(yuan float64) int64 {
	return int64(math.Round(yuan * 100))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
