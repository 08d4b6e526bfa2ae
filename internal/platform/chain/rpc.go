package chain

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcError is the error object of a failed JSON-RPC call.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcMessage is any inbound frame: a response carries ID, a subscription
// notification carries Method and Params.
type rpcMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// subscriptionParams is the params object of an eth_subscription
// notification.
type subscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// filterArg renders q in the shape eth_subscribe("logs", ...) expects.
func filterArg(q ethereum.FilterQuery) map[string]any {
	arg := make(map[string]any, 2)
	if len(q.Addresses) > 0 {
		addrs := make([]string, len(q.Addresses))
		for i, a := range q.Addresses {
			addrs[i] = a.Hex()
		}
		arg["address"] = addrs
	}
	if len(q.Topics) > 0 {
		topics := make([]any, len(q.Topics))
		for i, alternatives := range q.Topics {
			switch len(alternatives) {
			case 0:
				topics[i] = nil
			case 1:
				topics[i] = alternatives[0].Hex()
			default:
				hs := make([]string, len(alternatives))
				for j, h := range alternatives {
					hs[j] = h.Hex()
				}
				topics[i] = hs
			}
		}
		arg["topics"] = topics
	}
	if q.FromBlock != nil {
		arg["fromBlock"] = hexutil.EncodeBig(q.FromBlock)
	}
	return arg
}
