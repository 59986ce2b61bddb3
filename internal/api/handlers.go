package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"TradePilot/internal/bridge"
	xerrors "TradePilot/internal/errors"
	"TradePilot/internal/exchange"
	"TradePilot/internal/signal"
	"TradePilot/internal/task"
	"TradePilot/internal/trade"
)

const healthProbeTimeout = 3 * time.Second

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, xerrors.New(xerrors.CodeInitializationFailure, what+" 未启用"))
}

// handleHealth 在配置了链时探测 RPC，探测失败返回 503 与 degraded。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
		"capabilities": map[string]bool{
			"onchain":  s.deps.Onchain != nil,
			"exchange": s.deps.Exchange != nil,
			"signals":  s.deps.Signals != nil,
			"scanner":  s.deps.Scanner != nil,
			"jobs":     s.deps.Jobs != nil,
		},
	}
	status := http.StatusOK
	if s.deps.Chain != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		snapshot, err := s.deps.Chain.FetchChainSnapshot(ctx)
		if err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["chain_error"] = err.Error()
		} else {
			body["chain"] = snapshot
		}
	}
	writeJSON(w, status, body)
}

type extractRequest struct {
	Posts []signal.Post `json:"posts" validate:"required,min=1"`
}

type signalsResponse struct {
	Signals []signal.Signal `json:"signals"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if errs := readAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	signals := s.deps.Extractor.Extract(req.Posts)
	if signals == nil {
		signals = []signal.Signal{}
	}
	writeJSON(w, http.StatusOK, signalsResponse{Signals: signals})
}

type scanRequest struct {
	Subreddits []string `json:"subreddits" validate:"required,min=1,dive,required"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner == nil {
		unavailable(w, "信号扫描")
		return
	}
	var req scanRequest
	if errs := readAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	signals, err := s.deps.Scanner.Scan(r.Context(), req.Subreddits)
	if err != nil {
		writeError(w, err)
		return
	}
	if signals == nil {
		signals = []signal.Signal{}
	}
	writeJSON(w, http.StatusOK, signalsResponse{Signals: signals})
}

type executeSignalRequest struct {
	Action     string  `json:"action" validate:"required,oneof=buy sell"`
	Token      string  `json:"token" validate:"required"`
	Amount     string  `json:"amount" validate:"omitempty,numeric|eq=all"`
	TakeProfit string  `json:"take_profit" validate:"omitempty,numeric"`
	StopLoss   string  `json:"stop_loss" validate:"omitempty,numeric"`
	Confidence float64 `json:"confidence" default:"1" validate:"gte=0,lte=1"`
	Wallet     string  `json:"wallet"`
	Account    string  `json:"account"`
	Async      bool    `json:"async"`
}

func (s *Server) handleExecuteSignal(w http.ResponseWriter, r *http.Request) {
	var req executeSignalRequest
	if errs := readAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	sig := signal.Signal{
		Action:     signal.Action(req.Action),
		Token:      strings.TrimSpace(req.Token),
		Amount:     req.Amount,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		Confidence: req.Confidence,
	}
	if req.Async {
		s.submitJob(w, r, task.Request{Kind: task.KindSignal, Signal: &sig, WalletRef: req.Wallet, ExchangeRef: req.Account})
		return
	}
	if s.deps.Signals == nil {
		unavailable(w, "信号执行")
		return
	}
	creds, err := s.signalCredentials(req.Wallet, req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, s.deps.Signals.Execute(r.Context(), sig, creds))
}

// signalCredentials 解析信号执行所需的凭证。显式指定的引用必须可用，未指定时尽量使用默认账户。
func (s *Server) signalCredentials(walletRef, accountRef string) (bridge.Credentials, error) {
	var creds bridge.Credentials
	if s.deps.Credentials == nil {
		return creds, xerrors.New(xerrors.CodeInitializationFailure, "未配置凭证")
	}
	signer, err := s.deps.Credentials.Wallet(walletRef)
	switch {
	case err == nil:
		creds.Wallet = signer
	case strings.TrimSpace(walletRef) != "":
		return creds, err
	}
	account, err := s.deps.Credentials.Exchange(accountRef)
	switch {
	case err == nil:
		creds.Exchange = account
	case strings.TrimSpace(accountRef) != "":
		return creds, err
	}
	return creds, nil
}

type buyRequest struct {
	Token  string `json:"token" validate:"required"`
	Amount string `json:"amount" validate:"required,numeric"`
	Wallet string `json:"wallet"`
	Async  bool   `json:"async"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if errs := readAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	if req.Async {
		s.submitJob(w, r, task.Request{Kind: task.KindBuy, Token: req.Token, Amount: req.Amount, WalletRef: req.Wallet})
		return
	}
	s.runOnchain(w, r, req.Wallet, func(t OnchainTrader, creds bridge.Credentials) trade.Result {
		return t.Buy(r.Context(), creds.Wallet, req.Token, req.Amount)
	})
}

type sellRequest struct {
	Token  string `json:"token" validate:"required"`
	Amount string `json:"amount" default:"all" validate:"numeric|eq=all"`
	Wallet string `json:"wallet"`
	Async  bool   `json:"async"`
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if errs := readAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	if req.Async {
		s.submitJob(w, r, task.Request{Kind: task.KindSell, Token: req.Token, Amount: req.Amount, WalletRef: req.Wallet})
		return
	}
	s.runOnchain(w, r, req.Wallet, func(t OnchainTrader, creds bridge.Credentials) trade.Result {
		return t.Sell(r.Context(), creds.Wallet, req.Token, req.Amount)
	})
}

func (s *Server) runOnchain(w http.ResponseWriter, r *http.Request, walletRef string, run func(OnchainTrader, bridge.Credentials) trade.Result) {
	if s.deps.Onchain == nil || s.deps.Credentials == nil {
		unavailable(w, "链上交易")
		return
	}
	signer, err := s.deps.Credentials.Wallet(walletRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, run(s.deps.Onchain, bridge.Credentials{Wallet: signer}))
}

type quoteRequest struct {
	SellToken string `json:"sell_token" validate:"required"`
	BuyToken  string `json:"buy_token" validate:"required"`
	Amount    string `json:"amount" validate:"required,numeric"`
	Taker     string `json:"taker" validate:"omitempty,eth_addr"`
	Wallet    string `json:"wallet"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.deps.Onchain == nil {
		unavailable(w, "链上交易")
		return
	}
	var req quoteRequest
	if errs := readAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	taker := req.Taker
	if taker == "" {
		if s.deps.Credentials == nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少 taker 地址"))
			return
		}
		signer, err := s.deps.Credentials.Wallet(req.Wallet)
		if err != nil {
			writeError(w, err)
			return
		}
		taker = signer.Address().Hex()
	}
	quote, err := s.deps.Onchain.Quote(r.Context(), req.SellToken, req.BuyToken, req.Amount, common.HexToAddress(taker).Hex())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type exchangeOrderRequest struct {
	Account     string `json:"account"`
	Symbol      string `json:"symbol" validate:"required"`
	Side        string `json:"side" default:"buy" validate:"oneof=buy sell"`
	OrderType   string `json:"order_type" default:"market" validate:"oneof=market limit"`
	Price       string `json:"price" validate:"omitempty,numeric"`
	QuoteAmount string `json:"quote_amount" validate:"omitempty,numeric"`
	Quantity    string `json:"quantity" validate:"omitempty,numeric"`
	Leverage    int    `json:"leverage" default:"1" validate:"gte=1,lte=125"`
	TakeProfit  string `json:"take_profit" validate:"omitempty,numeric"`
	StopLoss    string `json:"stop_loss" validate:"omitempty,numeric"`
}

type exchangeOrderResponse struct {
	Order      *exchange.Order `json:"order,omitempty"`
	TakeProfit *exchange.Order `json:"take_profit,omitempty"`
	StopLoss   *exchange.Order `json:"stop_loss,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
}

func bracketResponse(res exchange.BracketResult) exchangeOrderResponse {
	order := res.Order
	return exchangeOrderResponse{Order: &order, TakeProfit: res.TakeProfit, StopLoss: res.StopLoss, Errors: res.Errors}
}

func (s *Server) handleExchangeOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exchange == nil || s.deps.Credentials == nil {
		unavailable(w, "交易所交易")
		return
	}
	var req exchangeOrderRequest
	if errs := readAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	creds, err := s.deps.Credentials.Exchange(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	tp, sl := optionalDecimal(req.TakeProfit), optionalDecimal(req.StopLoss)

	switch {
	case req.OrderType == string(exchange.OrderTypeLimit):
		qty, okQty := positive(req.Quantity)
		price, okPrice := positive(req.Price)
		if !okQty || !okPrice {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "限价单需要 quantity 和 price"))
			return
		}
		if req.Leverage > 1 {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "限价单不支持 leverage"))
			return
		}
		order, err := s.deps.Exchange.PlaceLimit(ctx, *creds, symbol, exchange.Side(req.Side), qty, price)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exchangeOrderResponse{Order: &order})
	case req.Leverage > 1:
		size, ok := positive(req.Quantity)
		if !ok {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "杠杆下单需要 quantity"))
			return
		}
		res, err := s.deps.Exchange.OpenLeveragedPosition(ctx, *creds, symbol, size, req.Leverage, exchange.Side(req.Side), tp, sl)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bracketResponse(res))
	case req.Side == string(exchange.SideBuy):
		quote, ok := positive(req.QuoteAmount)
		if !ok {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "买入需要 quote_amount"))
			return
		}
		res, err := s.deps.Exchange.BuyWithBracket(ctx, *creds, symbol, quote, tp, sl)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bracketResponse(res))
	default:
		qty, ok := positive(req.Quantity)
		if !ok {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "卖出需要 quantity"))
			return
		}
		order, err := s.deps.Exchange.Sell(ctx, *creds, symbol, qty)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exchangeOrderResponse{Order: &order})
	}
}

func (s *Server) handleExchangeBalance(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exchange == nil || s.deps.Credentials == nil {
		unavailable(w, "交易所交易")
		return
	}
	creds, err := s.deps.Credentials.Exchange(r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	asset := strings.ToUpper(r.PathValue("asset"))
	free, err := s.deps.Exchange.FreeBalance(r.Context(), *creds, asset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "free": free.String()})
}

func (s *Server) handleOpenOrders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exchange == nil || s.deps.Credentials == nil {
		unavailable(w, "交易所交易")
		return
	}
	query := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(query.Get("symbol")))
	if symbol == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "symbol 不能为空"))
		return
	}
	creds, err := s.deps.Credentials.Exchange(query.Get("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	orders, err := s.deps.Exchange.OpenOrders(r.Context(), *creds, symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	if orders == nil {
		orders = []exchange.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "orders": orders})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exchange == nil || s.deps.Credentials == nil {
		unavailable(w, "交易所交易")
		return
	}
	creds, err := s.deps.Credentials.Exchange(r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))
	id := r.PathValue("id")
	if err := s.deps.Exchange.Cancel(r.Context(), *creds, symbol, id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "order_id": id, "status": "canceled"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request, req task.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "异步任务")
		return
	}
	job, err := s.deps.Jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req task.Request
	if errs := readAndValidate(w, r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	s.submitJob(w, r, req)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "异步任务")
		return
	}
	job, err := s.deps.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "异步任务")
		return
	}
	jobs, err := s.deps.Jobs.List(r.Context(), listOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*task.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "异步任务")
		return
	}
	stats, err := s.deps.Jobs.Stats(r.Context(), listOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func listOptions(r *http.Request) []task.ListOption {
	query := r.URL.Query()
	var opts []task.ListOption
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("kind"); raw != "" {
		var kinds []task.Kind
		for _, part := range strings.Split(raw, ",") {
			kinds = append(kinds, task.Kind(strings.TrimSpace(part)))
		}
		opts = append(opts, task.WithKinds(kinds...))
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		opts = append(opts, task.WithLimit(limit))
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		opts = append(opts, task.WithOffset(offset))
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts
}

func optionalDecimal(raw string) *decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil || !value.IsPositive() {
		return nil
	}
	return &value
}

func positive(raw string) (decimal.Decimal, bool) {
	value := optionalDecimal(raw)
	if value == nil {
		return decimal.Zero, false
	}
	return *value, true
}
