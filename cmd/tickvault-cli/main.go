package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client wraps the tickvaultd JSON-RPC endpoint.
type Client struct {
	baseURL string
	logger  log.Logger
	client  *http.Client
	nextID  int
}

func NewClient(baseURL string, logger log.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		logger:  logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Call(method string, params interface{}) (json.RawMessage, error) {
	c.nextID++
	data, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Post(c.baseURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var r rpcResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("bad response: %s", string(body))
	}
	if r.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", r.Error.Code, r.Error.Message)
	}
	return r.Result, nil
}

func (c *Client) print(method string, params interface{}) error {
	result, err := c.Call(method, params)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// watch streams protocol events over the WebSocket feed until
// interrupted.
func watch(wsURL string, channels []string, logger log.Logger) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"type":     "subscribe",
		"channels": channels,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	logger.Info("subscribed", "channels", channels)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				logger.Warn("read error", "err", err)
				return
			}
			fmt.Println(string(message))
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	return nil
}

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "tickvaultd JSON-RPC URL")
		wsURL     = flag.String("ws", "ws://localhost:8081", "tickvaultd WebSocket URL")
		action    = flag.String("action", "state", "Action: state, deposit, withdraw, open, close, validate, liquidate, claimable, ping, watch")
		kind      = flag.String("kind", "deposit", "Action kind for -action validate: deposit, withdrawal, open, close")
		amount    = flag.String("amount", "0", "Amount in wei (18 decimals)")
		liqPrice  = flag.String("liq-price", "0", "Desired liquidation price in wei")
		user      = flag.String("user", "client1", "Acting address")
		deposit   = flag.String("deposit", "500000000000000000", "Security deposit in wei")
		tick      = flag.Int("tick", 0, "Position tick for -action close")
		version   = flag.Uint64("version", 0, "Position tick version for -action close")
		index     = flag.Uint64("index", 0, "Position index for -action close")
		maxIter   = flag.Int("max-iter", 10, "Liquidation iteration cap")
		channel   = flag.String("channel", "events", "WebSocket channel for -action watch")
	)
	flag.Parse()

	logger := log.Root().New("app", "tickvault-cli")
	client := NewClient(*serverURL, logger)

	var err error
	switch *action {
	case "state":
		err = client.print("tv_getState", map[string]interface{}{})

	case "deposit":
		err = client.print("tv_initiateDeposit", map[string]interface{}{
			"amount":    *amount,
			"to":        *user,
			"validator": *user,
			"paidValue": *deposit,
		})

	case "withdraw":
		err = client.print("tv_initiateWithdrawal", map[string]interface{}{
			"amount":    *amount,
			"to":        *user,
			"validator": *user,
			"paidValue": *deposit,
		})

	case "open":
		err = client.print("tv_initiateOpenPosition", map[string]interface{}{
			"amount":          *amount,
			"desiredLiqPrice": *liqPrice,
			"to":              *user,
			"validator":       *user,
			"paidValue":       *deposit,
		})

	case "close":
		err = client.print("tv_initiateClosePosition", map[string]interface{}{
			"positionId": map[string]interface{}{
				"tick":    *tick,
				"version": *version,
				"index":   *index,
			},
			"amount":    *amount,
			"user":      *user,
			"to":        *user,
			"validator": *user,
			"paidValue": *deposit,
		})

	case "validate":
		methods := map[string]string{
			"deposit":    "tv_validateDeposit",
			"withdrawal": "tv_validateWithdrawal",
			"open":       "tv_validateOpenPosition",
			"close":      "tv_validateClosePosition",
		}
		method, ok := methods[*kind]
		if !ok {
			logger.Error("unknown kind", "kind", *kind)
			os.Exit(1)
		}
		err = client.print(method, map[string]interface{}{
			"validator": *user,
			"caller":    *user,
		})

	case "liquidate":
		err = client.print("tv_liquidate", map[string]interface{}{
			"caller":  *user,
			"maxIter": *maxIter,
		})

	case "claimable":
		err = client.print("tv_getClaimable", map[string]interface{}{
			"address": *user,
		})

	case "ping":
		err = client.print("tv_ping", map[string]interface{}{})

	case "watch":
		err = watch(*wsURL, []string{*channel}, logger)

	default:
		logger.Error("unknown action", "action", *action)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("request failed", "action", *action, "err", err)
		os.Exit(1)
	}
}
