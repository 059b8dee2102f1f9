package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/marketpit/marketpit/params"
	"github.com/marketpit/marketpit/pkg/game"
	"github.com/marketpit/marketpit/pkg/util"
)

func newTestServer(adminToken string) (*Server, *game.Game) {
	cfg := params.Default()
	cfg.Admin.Token = adminToken
	cfg.HTTP.StaticDir = ""

	g := game.New(nil, util.RealClock{})
	s := NewServer(g, cfg, nil)
	g.SetNotifier(s)
	return s, g
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func joinHTTP(t *testing.T, h http.Handler, name string, secret float64) JoinResponse {
	t.Helper()
	rec := doJSON(t, h, "POST", "/api/join", JoinRequest{Name: name, Secret: secret}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("join %s: status %d body %s", name, rec.Code, rec.Body.String())
	}
	return decode[JoinResponse](t, rec)
}

func TestJoinAndState(t *testing.T) {
	s, _ := newTestServer("")
	h := s.Handler()

	alice := joinHTTP(t, h, "alice", 2)
	if alice.ID == "" || alice.Name != "alice" {
		t.Fatalf("join response = %+v", alice)
	}

	rec := doJSON(t, h, "GET", "/api/state", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state: status %d", rec.Code)
	}
	snap := decode[game.Snapshot](t, rec)
	if len(snap.Participants) != 1 || snap.Participants[0].Name != "alice" {
		t.Errorf("state participants = %+v", snap.Participants)
	}
	if snap.Participants[0].Secret != nil {
		t.Error("secret leaked before reveal")
	}

	rec = doJSON(t, h, "POST", "/api/reveal", RevealRequest{ParticipantID: alice.ID}, nil)
	if rec.Code != http.StatusOK || !decode[RevealResponse](t, rec).Revealed {
		t.Fatalf("reveal failed: status %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/state", nil, nil)
	snap = decode[game.Snapshot](t, rec)
	if snap.Participants[0].Secret == nil || *snap.Participants[0].Secret != 2 {
		t.Errorf("revealed secret = %v, want 2", snap.Participants[0].Secret)
	}
}

func TestOrderFlow(t *testing.T) {
	s, _ := newTestServer("")
	h := s.Handler()

	alice := joinHTTP(t, h, "alice", 2)
	bob := joinHTTP(t, h, "bob", 3)

	rec := doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
		ParticipantID: alice.ID, Side: "ask", Kind: "limit", Size: 2, Price: 5.0,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ask: status %d body %s", rec.Code, rec.Body.String())
	}
	if res := decode[SubmitOrderResponse](t, rec); !res.Rested {
		t.Errorf("ask should rest: %+v", res)
	}

	// Crossing bid trades at the resting price.
	rec = doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
		ParticipantID: bob.ID, Side: "buy", Size: 1, Price: 5.5,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("bid: status %d body %s", rec.Code, rec.Body.String())
	}
	res := decode[SubmitOrderResponse](t, rec)
	if len(res.Trades) != 1 || res.Trades[0].Price != 5.0 || res.Trades[0].Buyer != bob.ID {
		t.Fatalf("trades = %+v", res.Trades)
	}

	// Cancel-all for alice removes her remaining contract.
	rec = doJSON(t, h, "POST", "/api/orders/cancel", CancelRequest{ParticipantID: alice.ID}, nil)
	if rec.Code != http.StatusOK || decode[CancelResponse](t, rec).Cancelled != 1 {
		t.Fatalf("cancel: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestOrderValidationErrors(t *testing.T) {
	s, _ := newTestServer("")
	h := s.Handler()
	alice := joinHTTP(t, h, "alice", 2)

	t.Run("bad side", func(t *testing.T) {
		rec := doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
			ParticipantID: alice.ID, Side: "up", Size: 1, Price: 5,
		}, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if e := decode[ErrorResponse](t, rec); e.Error != "validation" || e.Field != "side" {
			t.Errorf("error = %+v", e)
		}
	})

	t.Run("fractional size", func(t *testing.T) {
		body := strings.NewReader(`{"participantId":"` + alice.ID + `","side":"bid","size":1.5,"price":5}`)
		req := httptest.NewRequest("POST", "/api/orders", body)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("fractional size: status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown participant", func(t *testing.T) {
		rec := doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
			ParticipantID: "ghost", Side: "bid", Size: 1, Price: 5,
		}, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestAdmissionRejectionPayload(t *testing.T) {
	s, _ := newTestServer("")
	h := s.Handler()
	alice := joinHTTP(t, h, "alice", 2)
	bob := joinHTTP(t, h, "bob", 3)

	doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
		ParticipantID: alice.ID, Side: "ask", Size: 1, Price: 5.0,
	}, nil)
	doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
		ParticipantID: bob.ID, Side: "bid", Size: 1, Price: 4.5,
	}, nil)

	rec := doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
		ParticipantID: bob.ID, Side: "bid", Size: 1, Price: 4.0,
	}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	e := decode[ErrorResponse](t, rec)
	if e.Error != "admission_rejected" {
		t.Errorf("error = %q", e.Error)
	}
	if e.BestBid == nil || *e.BestBid != 4.5 || e.BestAsk == nil || *e.BestAsk != 5.0 {
		t.Errorf("rejection context bid=%v ask=%v", e.BestBid, e.BestAsk)
	}
}

func TestTurnViolationPayload(t *testing.T) {
	s, g := newTestServer("")
	h := s.Handler()
	alice := joinHTTP(t, h, "alice", 2)
	bob := joinHTTP(t, h, "bob", 3)

	if err := g.SetTurnOrder([]string{alice.ID, bob.ID}); err != nil {
		t.Fatalf("setTurnOrder: %v", err)
	}
	if err := g.StartTurns(); err != nil {
		t.Fatalf("startTurns: %v", err)
	}

	rec := doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
		ParticipantID: bob.ID, Side: "bid", Size: 1, Price: 4.0,
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	e := decode[ErrorResponse](t, rec)
	if e.Error != "turn_violation" || e.CurrentPlayer != alice.ID {
		t.Errorf("error = %+v", e)
	}
}

func TestAdminAuth(t *testing.T) {
	t.Run("disabled without token", func(t *testing.T) {
		s, _ := newTestServer("")
		rec := doJSON(t, s.Handler(), "POST", "/api/admin/reset", nil, nil)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		s, _ := newTestServer("hunter2")
		rec := doJSON(t, s.Handler(), "POST", "/api/admin/reset", nil,
			map[string]string{"X-Admin-Token": "nope"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("header token", func(t *testing.T) {
		s, _ := newTestServer("hunter2")
		rec := doJSON(t, s.Handler(), "POST", "/api/admin/reset", nil,
			map[string]string{"X-Admin-Token": "hunter2"})
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("query token", func(t *testing.T) {
		s, _ := newTestServer("hunter2")
		rec := doJSON(t, s.Handler(), "POST", "/api/admin/reset?token=hunter2", nil, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestAdminCancelAndSettle(t *testing.T) {
	s, _ := newTestServer("tok")
	h := s.Handler()
	auth := map[string]string{"X-Admin-Token": "tok"}

	alice := joinHTTP(t, h, "alice", 2)
	joinHTTP(t, h, "bob", 4)

	rec := doJSON(t, h, "POST", "/api/admin/orders/999/cancel", nil, auth)
	if rec.Code != http.StatusNotFound {
		t.Errorf("cancel unknown: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/api/orders", SubmitOrderRequest{
		ParticipantID: alice.ID, Side: "ask", Size: 1, Price: 5.0,
	}, nil)
	orderID := decode[SubmitOrderResponse](t, rec).OrderID
	rec = doJSON(t, h, "POST", "/api/admin/orders/"+strconv.FormatInt(orderID, 10)+"/cancel", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin cancel: status %d body %s", rec.Code, rec.Body.String())
	}

	// A book emptied by the cancel settles purely on secrets: 2+4=6.
	rec = doJSON(t, h, "POST", "/api/admin/settle", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("settle: status %d body %s", rec.Code, rec.Body.String())
	}
	if res := decode[SettleResponse](t, rec); res.SettlementPrice != 6.0 {
		t.Errorf("settlement price = %g, want 6", res.SettlementPrice)
	}
}

func TestAdminTurnEndpoints(t *testing.T) {
	s, _ := newTestServer("tok")
	h := s.Handler()
	auth := map[string]string{"X-Admin-Token": "tok"}

	alice := joinHTTP(t, h, "alice", 1)
	bob := joinHTTP(t, h, "bob", 2)

	rec := doJSON(t, h, "POST", "/api/admin/turns/start", nil, auth)
	if rec.Code != http.StatusConflict {
		t.Errorf("start with empty order: status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, "PUT", "/api/admin/turns/order", TurnOrderRequest{Order: []string{alice.ID, bob.ID}}, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("set order: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, "POST", "/api/admin/turns/start", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status %d", rec.Code)
	}

	rec = doJSON(t, h, "PUT", "/api/admin/turns/current", CurrentTurnRequest{ParticipantID: bob.ID}, auth)
	if rec.Code != http.StatusOK || decode[CurrentTurnResponse](t, rec).Current != 1 {
		t.Fatalf("jump: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "POST", "/api/admin/turns/stop", nil, auth)
	if rec.Code != http.StatusOK {
		t.Errorf("stop: status %d", rec.Code)
	}
}

func TestCSVImport(t *testing.T) {
	s, _ := newTestServer("tok")
	h := s.Handler()

	body := "name,secret\nalice,2\nbob, 3.5\n"
	req := httptest.NewRequest("POST", "/api/admin/participants/import", strings.NewReader(body))
	req.Header.Set("X-Admin-Token", "tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("import: status %d body %s", rec.Code, rec.Body.String())
	}
	if res := decode[ImportResponse](t, rec); res.Imported != 2 {
		t.Errorf("imported = %d, want 2", res.Imported)
	}

	// Malformed rows reject the whole upload.
	req = httptest.NewRequest("POST", "/api/admin/participants/import", strings.NewReader("carol,notanumber\n"))
	req.Header.Set("X-Admin-Token", "tok")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad csv: status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer("")
	rec := doJSON(t, s.Handler(), "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: status %d", rec.Code)
	}
}

func TestStreamHubBroadcast(t *testing.T) {
	hub := newStreamHub()
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	hub.broadcast([]byte("one"))
	select {
	case msg := <-ch:
		if string(msg) != "one" {
			t.Errorf("got %q", msg)
		}
	default:
		t.Fatal("subscriber received nothing")
	}

	// A full channel is skipped, never blocked on.
	for i := 0; i < cap(ch)+4; i++ {
		hub.broadcast([]byte("flood"))
	}
}
