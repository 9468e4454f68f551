package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Receipt is the chain's view of a submitted transaction.
type Receipt struct {
	// Found is false while the transaction is not yet mined.
	Found bool
	// Confirmed is true once the transaction succeeded and is buried under
	// enough blocks.
	Confirmed bool
	// Reverted is true when the transaction was mined but failed.
	Reverted    bool
	BlockNumber uint64
}

// ChainRPC is the crypto rail collaborator.
type ChainRPC interface {
	TransactionReceipt(ctx context.Context, txHash string) (Receipt, error)
}

// JSONRPCClient reads receipts from an Ethereum-compatible JSON-RPC endpoint.
type JSONRPCClient struct {
	url              string
	minConfirmations uint64
	httpClient       *http.Client
	nextID           atomic.Int64
}

func NewJSONRPCClient(url string, minConfirmations uint64) *JSONRPCClient {
	if minConfirmations == 0 {
		minConfirmations = 1
	}
	return &JSONRPCClient{
		url:              url,
		minConfirmations: minConfirmations,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcReceipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
}

func (c *JSONRPCClient) TransactionReceipt(ctx context.Context, txHash string) (Receipt, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &raw); err != nil {
		return Receipt{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return Receipt{}, nil
	}

	var r rpcReceipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, fmt.Errorf("%w: decode receipt: %v", ErrExternalService, err)
	}
	block, err := parseQuantity(r.BlockNumber)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: block number: %v", ErrExternalService, err)
	}

	receipt := Receipt{Found: true, BlockNumber: block}
	if r.Status == "0x0" {
		receipt.Reverted = true
		return receipt, nil
	}

	var headHex string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &headHex); err != nil {
		return Receipt{}, err
	}
	head, err := parseQuantity(headHex)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: head block: %v", ErrExternalService, err)
	}
	receipt.Confirmed = head >= block && head-block+1 >= c.minConfirmations
	return receipt, nil
}

func (c *JSONRPCClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrExternalService, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%w: rpc error %d: %s", ErrExternalService, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = rpcResp.Result
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	return nil
}

func parseQuantity(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, errors.New("quantity must be 0x-prefixed: " + s)
	}
	return strconv.ParseUint(s[2:], 16, 64)
}
