package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/luxfi/log"

	"github.com/tickvault/tickvault/pkg/tickmath"
	"github.com/tickvault/tickvault/pkg/vault"
)

// JSONRPCServer exposes the protocol over JSON-RPC 2.0.
type JSONRPCServer struct {
	protocol *vault.Protocol
	logger   log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server.
func NewJSONRPCServer(protocol *vault.Protocol, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		protocol: protocol,
		logger:   logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ServeHTTP implements http.Handler.
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		rpcErr, ok := err.(*RPCError)
		if !ok {
			rpcErr = &RPCError{Code: InternalError, Message: err.Error()}
		}
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Vault side
	case "tv_initiateDeposit":
		return s.initiateDeposit(params)
	case "tv_validateDeposit":
		return s.validateAction(params, s.protocol.ValidateDeposit)
	case "tv_initiateWithdrawal":
		return s.initiateWithdrawal(params)
	case "tv_validateWithdrawal":
		return s.validateAction(params, s.protocol.ValidateWithdrawal)

	// Long side
	case "tv_initiateOpenPosition":
		return s.initiateOpen(params)
	case "tv_validateOpenPosition":
		return s.validateAction(params, s.protocol.ValidateOpenPosition)
	case "tv_initiateClosePosition":
		return s.initiateClose(params)
	case "tv_validateClosePosition":
		return s.validateAction(params, s.protocol.ValidateClosePosition)

	// Liquidation
	case "tv_liquidate":
		return s.liquidate(params)

	// Read methods
	case "tv_getState":
		return s.protocol.Snapshot(), nil
	case "tv_getPosition":
		return s.getPosition(params)
	case "tv_getTickData":
		return s.getTickData(params)
	case "tv_getActionable":
		return s.protocol.GetActionablePendingActions(time.Now()), nil
	case "tv_getPendingAction":
		return s.getPendingAction(params)
	case "tv_getClaimable":
		return s.getClaimable(params)
	case "tv_priceAtTick":
		return s.priceAtTick(params)
	case "tv_tickAtPrice":
		return s.tickAtPrice(params)
	case "tv_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

// amountsParams is the shared shape of initiate requests. Amounts are
// decimal strings so precision survives JSON number handling; price
// data is base64.
type amountsParams struct {
	Amount          string                      `json:"amount"`
	DesiredLiqPrice string                      `json:"desiredLiqPrice,omitempty"`
	PositionID      *vault.PositionID           `json:"positionId,omitempty"`
	User            string                      `json:"user,omitempty"`
	To              string                      `json:"to"`
	Validator       string                      `json:"validator"`
	PaidValue       string                      `json:"paidValue"`
	PriceData       []byte                      `json:"priceData"`
	Actionable      []vault.ActionablePriceData `json:"actionable,omitempty"`
}

func parseBig(s, field string) (*big.Int, error) {
	if s == "" {
		return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("missing %s", field)}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("invalid %s", field)}
	}
	return v, nil
}

func (s *JSONRPCServer) initiateDeposit(params json.RawMessage) (interface{}, error) {
	var p amountsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseBig(p.Amount, "amount")
	if err != nil {
		return nil, err
	}
	paid, err := parseBig(p.PaidValue, "paidValue")
	if err != nil {
		return nil, err
	}
	if err := s.protocol.InitiateDeposit(amount, p.To, p.Validator, paid, p.PriceData, p.Actionable, time.Now()); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"status": "initiated"}, nil
}

func (s *JSONRPCServer) initiateWithdrawal(params json.RawMessage) (interface{}, error) {
	var p amountsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseBig(p.Amount, "amount")
	if err != nil {
		return nil, err
	}
	paid, err := parseBig(p.PaidValue, "paidValue")
	if err != nil {
		return nil, err
	}
	if err := s.protocol.InitiateWithdrawal(amount, p.To, p.Validator, paid, p.PriceData, p.Actionable, time.Now()); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"status": "initiated"}, nil
}

func (s *JSONRPCServer) initiateOpen(params json.RawMessage) (interface{}, error) {
	var p amountsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	amount, err := parseBig(p.Amount, "amount")
	if err != nil {
		return nil, err
	}
	liqPrice, err := parseBig(p.DesiredLiqPrice, "desiredLiqPrice")
	if err != nil {
		return nil, err
	}
	paid, err := parseBig(p.PaidValue, "paidValue")
	if err != nil {
		return nil, err
	}
	id, err := s.protocol.InitiateOpenPosition(amount, liqPrice, p.To, p.Validator, paid, p.PriceData, p.Actionable, time.Now())
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{
		"positionId": id,
		"status":     "initiated",
	}, nil
}

func (s *JSONRPCServer) initiateClose(params json.RawMessage) (interface{}, error) {
	var p amountsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if p.PositionID == nil {
		return nil, &RPCError{Code: InvalidParams, Message: "missing positionId"}
	}
	amount, err := parseBig(p.Amount, "amount")
	if err != nil {
		return nil, err
	}
	paid, err := parseBig(p.PaidValue, "paidValue")
	if err != nil {
		return nil, err
	}
	if err := s.protocol.InitiateClosePosition(*p.PositionID, amount, p.User, p.To, p.Validator, paid, p.PriceData, p.Actionable, time.Now()); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"status": "initiated"}, nil
}

type validateParams struct {
	Validator  string                      `json:"validator"`
	Caller     string                      `json:"caller"`
	PriceData  []byte                      `json:"priceData"`
	Actionable []vault.ActionablePriceData `json:"actionable,omitempty"`
}

type validateFn func(validator, caller string, priceData []byte, others []vault.ActionablePriceData, now time.Time) error

func (s *JSONRPCServer) validateAction(params json.RawMessage, fn validateFn) (interface{}, error) {
	var p validateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if err := fn(p.Validator, p.Caller, p.PriceData, p.Actionable, time.Now()); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"status": "validated"}, nil
}

func (s *JSONRPCServer) liquidate(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller    string `json:"caller"`
		PriceData []byte `json:"priceData"`
		MaxIter   int    `json:"maxIter"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	n, err := s.protocol.Liquidate(p.Caller, p.PriceData, p.MaxIter, time.Now())
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"ticksLiquidated": n}, nil
}

func (s *JSONRPCServer) getPosition(params json.RawMessage) (interface{}, error) {
	var p struct {
		ID vault.PositionID `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	pos, err := s.protocol.GetPosition(p.ID)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return pos, nil
}

func (s *JSONRPCServer) getTickData(params json.RawMessage) (interface{}, error) {
	var p struct {
		Tick    int     `json:"tick"`
		Version *uint64 `json:"version,omitempty"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	version := s.protocol.TickVersion(p.Tick)
	if p.Version != nil {
		version = *p.Version
	}
	data, ok := s.protocol.TickData(p.Tick, version)
	return map[string]interface{}{
		"tick":      p.Tick,
		"version":   version,
		"populated": ok,
		"data":      data,
	}, nil
}

func (s *JSONRPCServer) getPendingAction(params json.RawMessage) (interface{}, error) {
	var p struct {
		Validator string `json:"validator"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	a, ok := s.protocol.PendingActionFor(p.Validator)
	if !ok {
		return nil, &RPCError{Code: InternalError, Message: vault.ErrNoPendingAction.Error()}
	}
	return a, nil
}

func (s *JSONRPCServer) getClaimable(params json.RawMessage) (interface{}, error) {
	var p struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	return map[string]interface{}{
		"native": s.protocol.ClaimableNative(p.Address).String(),
		"asset":  s.protocol.ClaimableAsset(p.Address).String(),
	}, nil
}

func (s *JSONRPCServer) priceAtTick(params json.RawMessage) (interface{}, error) {
	var p struct {
		Tick int `json:"tick"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	price, err := tickmath.PriceAtTick(p.Tick)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	return map[string]interface{}{"price": price.String()}, nil
}

func (s *JSONRPCServer) tickAtPrice(params json.RawMessage) (interface{}, error) {
	var p struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	price, err := parseBig(p.Price, "price")
	if err != nil {
		return nil, err
	}
	tick, terr := tickmath.TickAtPrice(price)
	if terr != nil {
		return nil, &RPCError{Code: InvalidParams, Message: terr.Error()}
	}
	return map[string]interface{}{"tick": tick}, nil
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartJSONRPCServer starts the JSON-RPC server.
func StartJSONRPCServer(ctx context.Context, port int, protocol *vault.Protocol, logger log.Logger) error {
	server := NewJSONRPCServer(protocol, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	logger.Info("JSON-RPC server started", "port", port)
	return httpServer.ListenAndServe()
}
