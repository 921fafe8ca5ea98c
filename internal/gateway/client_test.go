package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(config.GatewayConfig{
		BaseURL:   server.URL,
		SecretKey: "sk_test",
		Timeout:   5 * time.Second,
	}, nil)
}

func TestSendPayment_ThreeStepFlow(t *testing.T) {
	var steps []string
	var transferBody map[string]interface{}

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("unexpected auth header %q", got)
		}

		switch {
		case strings.HasPrefix(r.URL.Path, "/bank/resolve"):
			steps = append(steps, "resolve")
			if r.URL.Query().Get("account_number") != "0123456789" || r.URL.Query().Get("bank_code") != "057" {
				t.Errorf("unexpected resolve query %v", r.URL.Query())
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]string{"account_name": "ADA OBI"},
			})
		case r.URL.Path == "/transferrecipient":
			steps = append(steps, "recipient")
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["name"] != "ADA OBI" || body["type"] != "nuban" {
				t.Errorf("unexpected recipient body %v", body)
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]string{"recipient_code": "RCP_1"},
			})
		case r.URL.Path == "/transfer":
			steps = append(steps, "transfer")
			_ = json.NewDecoder(r.Body).Decode(&transferBody)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true,
				"data":   map[string]string{"transfer_code": "TRF_1", "status": "pending"},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	code, err := client.SendPayment(context.Background(), "0123456789", "057", 5000)
	if err != nil {
		t.Fatalf("SendPayment returned error: %v", err)
	}
	if code != "TRF_1" {
		t.Errorf("unexpected transfer code %s", code)
	}

	want := []string{"resolve", "recipient", "transfer"}
	if len(steps) != len(want) {
		t.Fatalf("unexpected step count %v", steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d: got %s want %s", i, steps[i], want[i])
		}
	}

	// 5000 naira -> 500000 kobo
	if amount, ok := transferBody["amount"].(float64); !ok || amount != 500000 {
		t.Errorf("expected amount in kobo 500000, got %v", transferBody["amount"])
	}
	if transferBody["recipient"] != "RCP_1" {
		t.Errorf("unexpected recipient %v", transferBody["recipient"])
	}
	if ref, _ := transferBody["reference"].(string); ref == "" {
		t.Error("expected generated transfer reference")
	}
}

func TestSendPayment_ResolveFailureStopsFlow(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  false,
			"message": "Could not resolve account name",
		})
	})

	if _, err := client.SendPayment(context.Background(), "0000000000", "057", 5000); err == nil {
		t.Fatal("expected resolve failure")
	} else if !strings.Contains(err.Error(), "账户校验失败") {
		t.Errorf("unexpected error %v", err)
	}
	if calls != 1 {
		t.Errorf("flow should stop after resolve failure, made %d calls", calls)
	}
}

func TestSendPayment_UnauthorizedMentionsKey(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  false,
			"message": "Invalid key",
		})
	})

	_, err := client.SendPayment(context.Background(), "0123456789", "057", 5000)
	if err == nil {
		t.Fatal("expected unauthorized error")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected auth hint in error, got %v", err)
	}
}

func TestSendPayment_FractionalAmountRoundsToKobo(t *testing.T) {
	var transferBody map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/bank/resolve"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true, "data": map[string]string{"account_name": "ADA OBI"},
			})
		case r.URL.Path == "/transferrecipient":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true, "data": map[string]string{"recipient_code": "RCP_1"},
			})
		default:
			_ = json.NewDecoder(r.Body).Decode(&transferBody)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status": true, "data": map[string]string{"transfer_code": "TRF_2"},
			})
		}
	})

	if _, err := client.SendPayment(context.Background(), "0123456789", "057", 1234.56); err != nil {
		t.Fatalf("SendPayment returned error: %v", err)
	}
	if amount, _ := transferBody["amount"].(float64); amount != 123456 {
		t.Errorf("expected 123456 kobo, got %v", transferBody["amount"])
	}
}
