package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"swap-router/internal/monitor"
	"swap-router/internal/order"
	"swap-router/internal/pipeline"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/orders/execute", a.handleSubmit)
	mux.HandleFunc("/api/orders", a.handleOrders)
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/events", a.handleEvents)
	mux.HandleFunc("/ws", a.bridge.HandleWS)
	return withCORS(mux)
}

// withCORS 放行浏览器端 UI 的跨域请求，与参考服务一致。
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type submitPayload struct {
	TokenIn           string          `json:"tokenIn"`
	TokenOut          string          `json:"tokenOut"`
	AmountIn          json.RawMessage `json:"amountIn"`
	SlippageTolerance float64         `json:"slippageTolerance"`
	Side              string          `json:"side"`
}

// parseAmount 同时接受 JSON 数字与字符串形式的数量，参考服务两种都收。
func parseAmount(raw json.RawMessage) float64 {
	s := strings.TrimSpace(string(raw))
	s = strings.Trim(s, `"`)
	if s == "" || s == "null" {
		return 0
	}
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return amount
}

func (a *App) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := a.runner.Submit(r.Context(), pipeline.SubmitRequest{
		TokenIn:           payload.TokenIn,
		TokenOut:          payload.TokenOut,
		AmountIn:          parseAmount(payload.AmountIn),
		SlippageTolerance: payload.SlippageTolerance,
		Side:              order.Side(strings.ToLower(strings.TrimSpace(payload.Side))),
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		a.logger.Error("受理订单失败", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orderId": snap.OrderID,
		"status":  snap.Status,
		"message": "Order submitted successfully",
	})
}

func (a *App) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if orderID := r.URL.Query().Get("orderId"); orderID != "" {
		snap, err := a.orders.Get(orderID)
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				writeError(w, http.StatusNotFound, "order not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"order":   snap,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  a.orders.List(),
	})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"ordersTracked": a.orders.Len(),
		"inFlight":      a.runner.InFlight(),
		"schedulerLive": a.runner.Live(),
	})
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 200
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := a.monitor.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
