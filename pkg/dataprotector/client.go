package dataprotector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"gopkg.in/resty.v1"

	"github.com/rius2g/splitgroup/pkg/logging"
	t "github.com/rius2g/splitgroup/pkg/types"
)

const (
	HeaderRequester = "X-Requester"
	HeaderSignature = "X-Signature"
	HeaderTraceId   = "X-Trace-Id"
)

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

type protectRequest struct {
	Name string                 `json:"name"`
	Data map[string]interface{} `json:"data"`
}

// Client talks to a data protector gateway. Every request is signed by the
// wallet so the gateway can act on its behalf.
type Client struct {
	baseURL string
	signer  Signer
	timeout time.Duration
}

func NewClient(baseURL string, signer Signer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{baseURL: baseURL, signer: signer, timeout: timeout}
}

// SigningPayload is what the X-Signature header signs.
func SigningPayload(method, path string, body []byte) []byte {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, ' ')
	payload = append(payload, path...)
	payload = append(payload, '\n')
	return append(payload, body...)
}

func (c *Client) resty(ctx context.Context) *resty.Client {
	logger := logging.Logger(ctx)

	client := resty.New()
	client.SetHostURL(c.baseURL)
	client.SetTimeout(c.timeout)
	client.SetHeader("Content-Type", "application/json")

	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		logger.Infow("Outbound Request", "method", r.Method, "url", r.URL)
		if id := logging.RequestId(ctx); id != "" {
			r.Header.Set(HeaderTraceId, id)
		}
		return nil
	})

	client.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		logger.Infow("Outbound Response", "method", r.Request.Method, "url", r.Request.URL, "statusCode", r.StatusCode(), "duration", r.Time())
		if r.StatusCode() > 299 {
			logger.Infow("Outbound Response", "responseBody", string(r.Body()))
		}
		return nil
	})
	return client
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, result interface{}) error {
	if c.signer == nil || !c.signer.Connected() {
		return t.ErrNotInitialized
	}

	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	signedPath := path
	if len(query) > 0 {
		signedPath += "?" + query.Encode()
	}
	sig, err := c.signer.SignText(SigningPayload(method, signedPath, raw))
	if err != nil {
		return errors.Wrap(err, "sign request")
	}

	req := c.resty(ctx).R().
		SetContext(ctx).
		SetHeader(HeaderRequester, c.signer.Address().Hex()).
		SetHeader(HeaderSignature, hexutil.Encode(sig)).
		SetResult(result).
		SetError(&errorResponse{})
	if len(query) > 0 {
		req.SetMultiValueQueryParams(query)
	}
	if raw != nil {
		req.SetBody(raw)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "data protector %s %s", method, path)
	}
	if resp.IsError() {
		msg := string(resp.Body())
		if e, ok := resp.Error().(*errorResponse); ok && e.Message != "" {
			msg = e.Message
		}
		switch resp.StatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Wrap(t.ErrAccessNotGranted, msg)
		case http.StatusNotFound:
			return errors.Errorf("data protector %s %s: not found: %s", method, path, msg)
		}
		return errors.Errorf("data protector %s %s: %d %s", method, path, resp.StatusCode(), msg)
	}
	return nil
}

func (c *Client) ProtectData(ctx context.Context, name string, data map[string]interface{}) (t.ProtectedData, error) {
	var out t.ProtectedData
	err := c.do(ctx, http.MethodPost, "/protectedData", nil, protectRequest{Name: name, Data: data}, &out)
	return out, err
}

func (c *Client) GetProtectedData(ctx context.Context, address common.Address) (t.ProtectedData, error) {
	var out t.ProtectedData
	err := c.do(ctx, http.MethodGet, "/protectedData/"+address.Hex(), nil, nil, &out)
	return out, err
}

func (c *Client) GrantAccess(ctx context.Context, req t.GrantAccessRequest) (t.GrantedAccess, error) {
	var out t.GrantedAccess
	err := c.do(ctx, http.MethodPost, "/grants", nil, WithGrantDefaults(req), &out)
	return out, err
}

func (c *Client) GetGrantedAccess(ctx context.Context, q t.GrantedAccessQuery) (t.GrantedAccessList, error) {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	query := url.Values{}
	if q.ProtectedData != "" {
		query.Set("protectedData", q.ProtectedData)
	}
	if q.AuthorizedApp != "" {
		query.Set("authorizedApp", q.AuthorizedApp)
	}
	if q.AuthorizedUser != "" {
		query.Set("authorizedUser", q.AuthorizedUser)
	}
	query.Set("isUserStrict", strconv.FormatBool(q.IsUserStrict))
	query.Set("page", strconv.Itoa(q.Page))
	query.Set("pageSize", strconv.Itoa(q.PageSize))

	var out t.GrantedAccessList
	err := c.do(ctx, http.MethodGet, "/grants", query, nil, &out)
	return out, err
}

func (c *Client) ProcessProtectedData(ctx context.Context, req t.ProcessRequest) (t.ProcessResult, error) {
	var out t.ProcessResult
	err := c.do(ctx, http.MethodPost, "/process", nil, req, &out)
	return out, err
}
