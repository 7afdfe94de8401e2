package statusapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Amorter/bili-ticket/internal/remote"
)

type sessionView struct {
	Authenticated  bool   `json:"authenticated"`
	Login          string `json:"login,omitempty"`
	MonitorRunning *bool  `json:"monitor_running,omitempty"`
	Uname          string `json:"uname,omitempty"`
	Face           string `json:"face,omitempty"`
	Orders         int    `json:"orders"`
}

type orderView struct {
	OrderID         string `json:"order_id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	AwaitingPayment bool   `json:"awaiting_payment"`
	PayMoney        int64  `json:"pay_money"`
	CreatedAt       string `json:"created_at,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session never includes the cookie.
func (h *Handler) session(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.state.Snapshot()
	view := sessionView{
		Authenticated: snapshot.Authenticated,
		Uname:         snapshot.Identity.Uname,
		Face:          snapshot.Identity.Face,
		Orders:        len(snapshot.Orders),
	}
	if h.login != nil {
		view.Login = h.login.Status().String()
	}
	if h.monitor != nil {
		running := h.monitor.Running()
		view.MonitorRunning = &running
	}
	writeSuccess(w, http.StatusOK, view)
}

// orders lists the current snapshot; ?awaiting=true keeps only orders that
// can still be paid or cancelled.
func (h *Handler) orders(w http.ResponseWriter, r *http.Request) {
	awaitingOnly := r.URL.Query().Get("awaiting") == "true"

	views := make([]orderView, 0)
	for _, order := range h.state.Orders() {
		if awaitingOnly && !order.AwaitingPayment() {
			continue
		}
		views = append(views, toOrderView(order))
	}
	writeSuccess(w, http.StatusOK, views)
}

func (h *Handler) order(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "order_id")
	for _, order := range h.state.Orders() {
		if order.OrderID == id {
			writeSuccess(w, http.StatusOK, toOrderView(order))
			return
		}
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "order not in current snapshot")
}

func toOrderView(order remote.Order) orderView {
	return orderView{
		OrderID:         order.OrderID,
		Name:            order.ItemInfo.Name,
		Status:          order.SubStatusName,
		AwaitingPayment: order.AwaitingPayment(),
		PayMoney:        order.PayMoney,
		CreatedAt:       order.Ctime,
	}
}
