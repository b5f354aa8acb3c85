/**
 * @description
 * This package provides a client for the external fungible-credit ledger.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * ledger's transfer endpoints, handling request body construction, and
 * parsing responses.
 *
 * The ledger must be treated as possibly-adversarial: a transfer recipient
 * can reject the transfer, and a malicious recipient may synchronously call
 * back into this service while the transfer request is in flight. Callers
 * are responsible for committing "this value is spoken for" state before
 * invoking any method here.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the credit ledger API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new ledger API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TransferRequest is the payload for a direct ledger transfer (sender is the
// authenticated custodial account).
type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

// TransferFromRequest is the payload for an allowance-backed pull transfer.
// The ledger's own allowance accounting rejects a second pull within the same
// approval, which is what makes record-then-pull safe against reentry.
type TransferFromRequest struct {
	Owner  string `json:"owner"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

// TransferResponse is the expected response from the ledger's transfer endpoints.
type TransferResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// BalanceResponse is the ledger's balance query response.
type BalanceResponse struct {
	Data struct {
		Address string `json:"address"`
		Balance int64  `json:"balance"`
	} `json:"data"`
}

// ErrorResponse represents an error from the ledger API, e.g. insufficient
// balance or allowance, or a recipient-rejected transfer.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("ledger api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown ledger api error"
}

// Transfer moves credits from a custodial account this service controls to a
// recipient. Fails if the balance is insufficient or the recipient rejects.
func (c *Client) Transfer(ctx context.Context, from, to string, amount int64, memo string) (*TransferResponse, error) {
	payload := TransferRequest{From: from, To: to, Amount: amount, Memo: memo}
	return c.doTransfer(ctx, "/api/v1/transfers", payload)
}

// TransferFrom pulls credits from an owner's account under a standing
// allowance. Fails if balance or allowance is insufficient.
func (c *Client) TransferFrom(ctx context.Context, owner, to string, amount int64, memo string) (*TransferResponse, error) {
	payload := TransferFromRequest{Owner: owner, To: to, Amount: amount, Memo: memo}
	return c.doTransfer(ctx, "/api/v1/transfers/allowance", payload)
}

// doTransfer is a generic helper function to execute transfer requests.
func (c *Client) doTransfer(ctx context.Context, path string, payload interface{}) (*TransferResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ledger-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=ledger_client op=transfer status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=ledger_client op=transfer status=%d title=%q detail=%q", resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var successResp TransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}

// BalanceOf fetches the current credit balance for an address.
func (c *Client) BalanceOf(ctx context.Context, address string) (int64, error) {
	url := c.BaseURL + "/api/v1/balances/" + address

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create balance request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-ledger-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=ledger_client op=balance_of address=%s status=%d msg=\"non-2xx response (unparsable error body)\"", address, resp.StatusCode)
			return 0, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=ledger_client op=balance_of address=%s status=%d title=%q detail=%q", address, resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return 0, &errResp
	}

	var balanceResp BalanceResponse
	if err := json.Unmarshal(bodyBytes, &balanceResp); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}

	return balanceResp.Data.Balance, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
