package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// GatewayClient talks to the ledger gateway, the operator-run service that
// builds, pays for and submits ledger transactions. Issuer signatures are
// produced locally by the Signer and attached through the gateway.
type GatewayClient struct {
	baseURL string
	apiKey  string
	signer  *Signer
	http    *http.Client
}

func NewGatewayClient(baseURL, apiKey string, signer *Signer, timeout time.Duration) *GatewayClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		signer:  signer,
		http:    &http.Client{Timeout: timeout},
	}
}

type scheduleInfo struct {
	ScheduleID string    `json:"scheduleId"`
	Executed   bool      `json:"executed"`
	Deleted    bool      `json:"deleted"`
	ExecutedAt time.Time `json:"executedAt"`
	BodyBytes  []byte    `json:"bodyBytes"`
}

type signatureRequest struct {
	PublicKey string `json:"publicKey"`
	Signature []byte `json:"signature"`
}

func (c *GatewayClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("ledger %s: status %d: %s", op, resp.StatusCode, bytes.TrimSpace(msg))
}

func (c *GatewayClient) CreateScheduledTransfer(ctx context.Context, spec ScheduleSpec) (ScheduleID, error) {
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("ledger CreateScheduledTransfer: %w", err)
	}
	if spec.AdminKey == "" && c.signer != nil {
		spec.AdminKey = c.signer.PublicKey()
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/schedules", spec)
	if err != nil {
		return "", fmt.Errorf("ledger CreateScheduledTransfer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError("CreateScheduledTransfer", resp)
	}
	var out struct {
		ScheduleID string `json:"scheduleId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ledger CreateScheduledTransfer: decode: %w", err)
	}
	if out.ScheduleID == "" {
		return "", fmt.Errorf("ledger CreateScheduledTransfer: empty schedule id")
	}
	return ScheduleID(out.ScheduleID), nil
}

func (c *GatewayClient) getSchedule(ctx context.Context, id ScheduleID) (*scheduleInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/schedules/"+url.PathEscape(string(id)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrScheduleNotFound
	case http.StatusGone:
		return nil, ErrScheduleDeleted
	default:
		return nil, statusError("GetSchedule "+string(id), resp)
	}
	var info scheduleInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode schedule %s: %w", id, err)
	}
	return &info, nil
}

func (c *GatewayClient) QueryScheduleStatus(ctx context.Context, id ScheduleID) (ScheduleStatus, error) {
	info, err := c.getSchedule(ctx, id)
	if err != nil {
		if err == ErrScheduleDeleted {
			return ScheduleStatus{Deleted: true}, nil
		}
		return ScheduleStatus{}, fmt.Errorf("ledger QueryScheduleStatus %s: %w", id, err)
	}
	return ScheduleStatus{Executed: info.Executed, Deleted: info.Deleted, ExecutedAt: info.ExecutedAt}, nil
}

// SignSchedule fetches the schedule body, signs it with the issuer key and
// submits the signature. An already executed schedule reports executed
// without signing again.
func (c *GatewayClient) SignSchedule(ctx context.Context, id ScheduleID) (bool, error) {
	if c.signer == nil {
		return false, fmt.Errorf("ledger SignSchedule %s: no issuer key configured", id)
	}
	info, err := c.getSchedule(ctx, id)
	if err != nil {
		return false, fmt.Errorf("ledger SignSchedule %s: %w", id, err)
	}
	if info.Deleted {
		return false, fmt.Errorf("ledger SignSchedule %s: %w", id, ErrScheduleDeleted)
	}
	if info.Executed {
		return true, nil
	}

	sig, err := c.signer.Sign(info.BodyBytes)
	if err != nil {
		return false, fmt.Errorf("ledger SignSchedule %s: sign: %w", id, err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/schedules/"+url.PathEscape(string(id))+"/signatures",
		signatureRequest{PublicKey: c.signer.PublicKey(), Signature: sig})
	if err != nil {
		return false, fmt.Errorf("ledger SignSchedule %s: %w", id, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusGone:
		return false, fmt.Errorf("ledger SignSchedule %s: %w", id, ErrScheduleDeleted)
	case http.StatusConflict:
		// The last required signature landed between our read and write.
		return true, nil
	default:
		return false, statusError("SignSchedule "+string(id), resp)
	}
	var out struct {
		Executed bool `json:"executed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("ledger SignSchedule %s: decode: %w", id, err)
	}
	return out.Executed, nil
}

func (c *GatewayClient) QueryBalance(ctx context.Context, account AccountID, token TokenID) (int64, error) {
	path := "/api/v1/accounts/" + url.PathEscape(string(account)) + "/tokens/" + url.PathEscape(string(token)) + "/balance"
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("ledger QueryBalance %s: %w", account, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		// Account not associated with the token holds nothing.
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, statusError("QueryBalance "+string(account), resp)
	}
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("ledger QueryBalance %s: decode: %w", account, err)
	}
	return out.Balance, nil
}

func (c *GatewayClient) ExecuteTransfer(ctx context.Context, spec TransferSpec) (string, error) {
	if spec.Amount <= 0 {
		return "", fmt.Errorf("ledger ExecuteTransfer: non-positive amount %d", spec.Amount)
	}
	if len(spec.Memo) > MaxMemoBytes {
		return "", fmt.Errorf("ledger ExecuteTransfer: memo exceeds %d bytes", MaxMemoBytes)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/transfers", spec)
	if err != nil {
		return "", fmt.Errorf("ledger ExecuteTransfer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError("ExecuteTransfer", resp)
	}
	var out struct {
		TransactionID string `json:"transactionId"`
		Status        string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ledger ExecuteTransfer: decode: %w", err)
	}
	if out.Status != "" && out.Status != "SUCCESS" {
		return out.TransactionID, fmt.Errorf("ledger ExecuteTransfer %s: status %s", out.TransactionID, out.Status)
	}
	return out.TransactionID, nil
}
