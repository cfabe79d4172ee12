package solana

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// ErrNoWebsocket is returned by SubscribeSignature when the client was built
// without a websocket endpoint.
var ErrNoWebsocket = errors.New("no websocket client configured")

// NewRPCClient creates a new RPCClient that wraps the solana-go RPC client.
// For premium RPC endpoints that require API keys, include the key in the URL:
// - Helius: https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
// - QuickNode: https://YOUR-ENDPOINT.quiknode.pro/YOUR-KEY/
// - Alchemy: https://solana-mainnet.g.alchemy.com/v2/YOUR-KEY
func NewRPCClient(rpcURL string) RPCClient {
	return rpc.New(rpcURL)
}

// realWSClient adapts the actual solana-go websocket client to our WSClient
// interface. This adapter allows us to control the interface and makes
// testing easier.
type realWSClient struct {
	client *ws.Client
}

// NewWSClient connects to a Solana websocket endpoint and wraps it in our
// WSClient interface.
func NewWSClient(ctx context.Context, wsURL string) (WSClient, error) {
	cl, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	return &realWSClient{client: cl}, nil
}

func (w *realWSClient) SignatureSubscribe(sig solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error) {
	sub, err := w.client.SignatureSubscribe(sig, commitment)
	if err != nil {
		return nil, err
	}
	return &realSignatureSubscription{sub: sub}, nil
}

func (w *realWSClient) Close() error {
	w.client.Close()
	return nil
}

type realSignatureSubscription struct {
	sub *ws.SignatureSubscription
}

func (s *realSignatureSubscription) Recv(ctx context.Context) (*NotificationResult, error) {
	res, err := s.sub.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return &NotificationResult{Err: res.Value.Err}, nil
}

func (s *realSignatureSubscription) Unsubscribe() {
	s.sub.Unsubscribe()
}
