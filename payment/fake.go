package payment

import (
	"context"
	"fmt"
	"sync"
)

// FakeGateway is a test implementation of Gateway.
type FakeGateway struct {
	mu        sync.Mutex
	Statuses  map[string]ChargeStatus // keyed by external reference
	Collected map[string]int
	Requests  []ChargeRequest
	Err       error
	// CollectErr fails CollectCharge only.
	CollectErr error
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Statuses:  make(map[string]ChargeStatus),
		Collected: make(map[string]int),
	}
}

func (g *FakeGateway) CreateCharge(ctx context.Context, req ChargeRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	g.Requests = append(g.Requests, req)
	ref := "in_" + req.PaymentID.String()
	if _, ok := g.Statuses[ref]; !ok {
		g.Statuses[ref] = ChargePending
	}
	return ref, nil
}

func (g *FakeGateway) ChargeStatus(ctx context.Context, externalRef string) (ChargeStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	status, ok := g.Statuses[externalRef]
	if !ok {
		return ChargePending, nil
	}
	return status, nil
}

func (g *FakeGateway) CollectCharge(ctx context.Context, externalRef string, req ChargeRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.Err != nil:
		return g.Err
	case g.CollectErr != nil:
		return g.CollectErr
	}
	g.Collected[externalRef]++
	return nil
}

func (g *FakeGateway) CancelCharge(ctx context.Context, externalRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Err != nil {
		return g.Err
	}
	switch g.Statuses[externalRef] {
	case ChargeSucceeded:
		return fmt.Errorf("charge %s already collected", externalRef)
	case ChargePending, "":
		g.Statuses[externalRef] = ChargeFailed
	}
	return nil
}

// SetStatus sets the status the gateway reports for ref.
func (g *FakeGateway) SetStatus(ref string, status ChargeStatus) {
	g.mu.Lock()
	g.Statuses[ref] = status
	g.mu.Unlock()
}

// FakeChain is a test implementation of ChainRPC.
type FakeChain struct {
	mu       sync.Mutex
	Receipts map[string]Receipt // keyed by transaction hash
	Calls    int
	Err      error
}

func NewFakeChain() *FakeChain {
	return &FakeChain{
		Receipts: make(map[string]Receipt),
	}
}

func (c *FakeChain) TransactionReceipt(ctx context.Context, txHash string) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.Err != nil {
		return Receipt{}, c.Err
	}
	return c.Receipts[txHash], nil
}

// Confirm makes the chain report txHash as confirmed.
func (c *FakeChain) Confirm(txHash string, block uint64) {
	c.mu.Lock()
	c.Receipts[txHash] = Receipt{Found: true, Confirmed: true, BlockNumber: block}
	c.mu.Unlock()
}

// Revert makes the chain report txHash as reverted.
func (c *FakeChain) Revert(txHash string, block uint64) {
	c.mu.Lock()
	c.Receipts[txHash] = Receipt{Found: true, Reverted: true, BlockNumber: block}
	c.mu.Unlock()
}
