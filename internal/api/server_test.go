package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"papertrade/internal/audit"
	"papertrade/internal/broker"
	"papertrade/internal/config"
	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/marketdata"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	quotes *marketdata.StaticQuotes
	feed   *audit.Feed
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cal := util.NewTradingCalendar()
	pdt := engine.NewPDTLimiter(cal, engine.PDTConfig{MaxDayTrades: 3, WindowDays: 5}, time.Now)
	risk := engine.NewRiskManager(engine.RiskConfig{
		ContractMultiplier: 100,
		MaxRiskPerTrade:    5000,
		MaxPositions:       5,
		MaxSingleSymbolPct: 50,
	}, pdt)
	model := broker.NewSlippageModel(broker.SlippageConfig{
		Bps:                  10,
		MinTick:              0.01,
		ContractMultiplier:   100,
		LargeOrderQty:        10,
		LargeOrderMultiplier: 2,
		ImpactFactor:         10,
	})

	reg := prometheus.NewRegistry()
	feed := audit.NewFeed(util.Discard())
	eng := engine.NewEngine(store.NewMemoryStore(), broker.NewSimulatorBroker(model), risk,
		engine.WithFeed(feed),
		engine.WithMetrics(engine.NewMetrics(reg, "papertrade")),
	)
	quotes := marketdata.NewStaticQuotes(domain.Quote{Symbol: "SPY", Price: 5, Bid: 4.95, Ask: 5.05})

	cfg := config.Default()
	cfg.Server.GRPCPort = 0
	srv := NewServer(cfg, Deps{
		Engine:   eng,
		Model:    model,
		Quotes:   quotes,
		Feed:     feed,
		Gatherer: reg,
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{srv: srv, http: hs, quotes: quotes, feed: feed}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.http.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func (e *testEnv) account(t *testing.T) domain.Account {
	t.Helper()
	code, body := e.do(t, "POST", "/api/v1/accounts", CreateAccountRequest{UserID: "u1"})
	if code != http.StatusOK {
		t.Fatalf("create account: %d %s", code, body)
	}
	var acct domain.Account
	if err := json.Unmarshal(body, &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	return acct
}

func TestNewServer(t *testing.T) {
	cfg := config.Default()
	s := NewServer(cfg, Deps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.httpAddr != "127.0.0.1:8080" || s.grpcAddr != "127.0.0.1:9090" {
		t.Errorf("addrs = %q, %q", s.httpAddr, s.grpcAddr)
	}
}

func TestCreateAccountIdempotent(t *testing.T) {
	env := newTestEnv(t)
	a := env.account(t)
	b := env.account(t)
	if a.ID == "" || a.ID != b.ID {
		t.Errorf("account ids = %q, %q, want same non-empty id", a.ID, b.ID)
	}
	if a.Cash != 100000 || a.Instance != "default" {
		t.Errorf("account = %+v", a)
	}

	code, _ := env.do(t, "POST", "/api/v1/accounts", CreateAccountRequest{})
	if code != http.StatusBadRequest {
		t.Errorf("empty user status = %d, want 400", code)
	}
}

func TestSubmitOrderStatuses(t *testing.T) {
	env := newTestEnv(t)
	acct := env.account(t)

	tests := []struct {
		name string
		body SubmitOrderRequest
		want int
	}{
		{
			name: "filled with inline quote",
			body: SubmitOrderRequest{
				OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "QQQ", Side: domain.OrderSideBuy, Qty: 1},
				Quote:        &domain.Quote{Price: 4, Bid: 3.95, Ask: 4.05},
			},
			want: http.StatusOK,
		},
		{
			name: "filled from quote source",
			body: SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "spy", Side: domain.OrderSideBuy, Qty: 2}},
			want: http.StatusOK,
		},
		{
			name: "rejected sell without position",
			body: SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "IWM", Side: domain.OrderSideSell, Qty: 1},
				Quote: &domain.Quote{Price: 2}},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "rejected unknown account",
			body: SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: "nope", Symbol: "SPY", Side: domain.OrderSideBuy, Qty: 1}},
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "invalid quantity",
			body: SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "SPY", Side: domain.OrderSideBuy, Qty: 0}},
			want: http.StatusBadRequest,
		},
		{
			name: "inline quote for another symbol",
			body: SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "AAPL", Side: domain.OrderSideBuy, Qty: 1},
				Quote: &domain.Quote{Symbol: "SPY", Price: 5}},
			want: http.StatusBadRequest,
		},
		{
			name: "invalid quote",
			body: SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "SPY", Side: domain.OrderSideBuy, Qty: 1},
				Quote: &domain.Quote{Price: -1}},
			want: http.StatusBadRequest,
		},
		{
			name: "no quote available",
			body: SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "TLT", Side: domain.OrderSideBuy, Qty: 1}},
			want: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, "POST", "/api/v1/orders", tt.body)
			if code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", code, tt.want, body)
			}
			if code == http.StatusOK || code == http.StatusUnprocessableEntity {
				var res domain.Result
				if err := json.Unmarshal(body, &res); err != nil {
					t.Fatalf("decode result: %v", err)
				}
				if res.Filled() != (code == http.StatusOK) {
					t.Errorf("result = %+v", res)
				}
				if !res.Filled() && res.Reason == "" {
					t.Error("rejection without reason")
				}
			}
		})
	}

	code, body := env.do(t, "GET", "/api/v1/accounts/"+acct.ID+"/positions", nil)
	if code != http.StatusOK {
		t.Fatalf("positions status = %d", code)
	}
	var positions []domain.Position
	if err := json.Unmarshal(body, &positions); err != nil {
		t.Fatalf("decode positions: %v", err)
	}
	if len(positions) != 2 {
		t.Errorf("positions = %d, want 2", len(positions))
	}
}

func TestSubmitOrderMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.http.URL+"/api/v1/orders", "application/json", strings.NewReader(`{"quantity":`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAccountReads(t *testing.T) {
	env := newTestEnv(t)
	acct := env.account(t)

	code, body := env.do(t, "GET", "/api/v1/accounts/"+acct.ID, nil)
	if code != http.StatusOK {
		t.Fatalf("summary status = %d", code)
	}
	var sum domain.AccountSummary
	if err := json.Unmarshal(body, &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.Equity != 100000 || sum.PositionCount != 0 || sum.Positions == nil {
		t.Errorf("summary = %+v", sum)
	}

	code, body = env.do(t, "GET", "/api/v1/accounts/"+acct.ID+"/pdt", nil)
	if code != http.StatusOK {
		t.Fatalf("pdt status = %d", code)
	}
	if !strings.Contains(string(body), `"trades_in_window":[]`) {
		t.Errorf("pdt body = %s", body)
	}
	var st domain.PDTStatus
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode pdt: %v", err)
	}
	if !st.CanDayTrade || st.MaxAllowed != 3 || st.NextExpiry != nil {
		t.Errorf("pdt = %+v", st)
	}

	for _, path := range []string{"/api/v1/accounts/missing", "/api/v1/accounts/missing/positions", "/api/v1/accounts/missing/pdt"} {
		if code, _ := env.do(t, "GET", path, nil); code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, code)
		}
	}
}

func TestMarkToMarket(t *testing.T) {
	env := newTestEnv(t)
	acct := env.account(t)
	order := SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "SPY", Side: domain.OrderSideBuy, Qty: 1}}
	if code, body := env.do(t, "POST", "/api/v1/orders", order); code != http.StatusOK {
		t.Fatalf("buy: %d %s", code, body)
	}

	// Explicit quotes.
	code, body := env.do(t, "POST", "/api/v1/accounts/"+acct.ID+"/mark", MarkRequest{Quotes: []domain.Quote{{Symbol: "SPY", Bid: 5.9, Ask: 6.1, Price: 6}}})
	if code != http.StatusOK {
		t.Fatalf("mark: %d %s", code, body)
	}
	var positions []domain.Position
	if err := json.Unmarshal(body, &positions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(positions) != 1 || positions[0].CurrentPrice != 6 || positions[0].MarketValue != 600 {
		t.Errorf("positions = %+v", positions)
	}

	// Empty body falls back to the quote source.
	env.quotes.Set(domain.Quote{Symbol: "SPY", Bid: 6.9, Ask: 7.1, Price: 7})
	code, body = env.do(t, "POST", "/api/v1/accounts/"+acct.ID+"/mark", nil)
	if code != http.StatusOK {
		t.Fatalf("mark from source: %d %s", code, body)
	}
	positions = nil
	if err := json.Unmarshal(body, &positions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(positions) != 1 || positions[0].CurrentPrice != 7 {
		t.Errorf("positions = %+v", positions)
	}
}

func TestEstimate(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		query  string
		code   int
		bps    float64
		method string
	}{
		{"quantity=5", http.StatusOK, 10, broker.EstimateBase},
		{"quantity=20", http.StatusOK, 20, broker.EstimateLargeOrder},
		{"quantity=5&adv=1000", http.StatusOK, 60, broker.EstimateParticipation},
		{"quantity=0", http.StatusBadRequest, 0, ""},
		{"quantity=5&adv=-1", http.StatusBadRequest, 0, ""},
	}
	for _, tt := range tests {
		code, body := env.do(t, "GET", "/api/v1/slippage/estimate?"+tt.query, nil)
		if code != tt.code {
			t.Errorf("%s: status = %d, want %d", tt.query, code, tt.code)
			continue
		}
		if code != http.StatusOK {
			continue
		}
		var est EstimateResponse
		if err := json.Unmarshal(body, &est); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if est.Bps != tt.bps || est.Method != tt.method {
			t.Errorf("%s: estimate = %+v, want bps %v via %s", tt.query, est, tt.bps, tt.method)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	acct := env.account(t)
	env.do(t, "POST", "/api/v1/orders", SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "SPY", Side: domain.OrderSideBuy, Qty: 1}})

	code, body := env.do(t, "GET", "/metrics", nil)
	if code != http.StatusOK {
		t.Fatalf("metrics status = %d", code)
	}
	for _, want := range []string{"papertrade_orders_total", "papertrade_accounts_created_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, "OPTIONS", "/api/v1/orders", nil)
	if code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", code)
	}
}

func TestStream(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.Hub().Run(ctx)

	acct := env.account(t)
	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.srv.Hub().Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.do(t, "POST", "/api/v1/orders", SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "SPY", Side: domain.OrderSideBuy, Qty: 1}})
	env.do(t, "POST", "/api/v1/orders", SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "IWM", Side: domain.OrderSideSell, Qty: 1},
		Quote: &domain.Quote{Price: 1}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var actions []string
	for len(actions) < 2 {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var e domain.AuditEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		actions = append(actions, e.Action)
	}
	if actions[0] != domain.ActionOrderFilled || actions[1] != domain.ActionOrderRejected {
		t.Errorf("actions = %v", actions)
	}
}

func TestGRPCTrading(t *testing.T) {
	env := newTestEnv(t)
	acct := env.account(t)

	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	env.srv.RegisterGRPC(g)
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer conn.Close()
	client := NewTradingClient(conn)
	ctx := context.Background()

	res, err := client.SubmitOrder(ctx, &SubmitOrderRequest{
		OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "SPY", Side: domain.OrderSideBuy, Qty: 3},
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if !res.Filled() || res.Order == nil || res.Order.FilledQty != 3 {
		t.Fatalf("result = %+v", res)
	}

	res, err = client.SubmitOrder(ctx, &SubmitOrderRequest{
		OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "SPY", Side: domain.OrderSideSell, Qty: 10},
	})
	if err != nil {
		t.Fatalf("SubmitOrder oversell: %v", err)
	}
	if res.Filled() || !strings.Contains(res.Reason, "exceeds position quantity") {
		t.Errorf("oversell result = %+v", res)
	}

	sum, err := client.GetAccountSummary(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetAccountSummary: %v", err)
	}
	if sum.PositionCount != 1 || sum.Positions[0].Qty != 3 {
		t.Errorf("summary = %+v", sum)
	}

	st, err := client.GetPDTStatus(ctx, acct.ID)
	if err != nil {
		t.Fatalf("GetPDTStatus: %v", err)
	}
	if st.DayTradeCount != 0 || !st.CanDayTrade {
		t.Errorf("pdt = %+v", st)
	}

	_, err = client.GetAccountSummary(ctx, "missing")
	if status.Code(err) != codes.NotFound {
		t.Errorf("missing account code = %v, want NotFound", status.Code(err))
	}
	_, err = client.SubmitOrder(ctx, &SubmitOrderRequest{OrderRequest: domain.OrderRequest{AccountID: acct.ID, Symbol: "SPY", Side: "hold", Qty: 1}})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("bad side code = %v, want InvalidArgument", status.Code(err))
	}
	_, err = client.GetPDTStatus(ctx, "")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty account code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t)
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcLn := bufconn.Listen(1 << 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, httpLn, grpcLn) }()

	resp, err := http.Get("http://" + httpLn.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
