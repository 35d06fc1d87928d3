package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/auth"
	"github.com/iurnickita/sugarrush/internal/balance"
	"github.com/iurnickita/sugarrush/internal/handler/config"
	"github.com/iurnickita/sugarrush/internal/lifecycle"
	"github.com/iurnickita/sugarrush/internal/logger"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/moderation"
)

// Serve runs the HTTP front end until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, engine lifecycle.Engine, balance balance.Balance, moderation moderation.Moderation, zaplog *zap.Logger) error {
	h := newHandler(auth, engine, balance, moderation, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	h.zaplog.Info("server started", zap.String("addr", cfg.ServerAddr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	h.zaplog.Info("server stopped")
	return nil
}

type handler struct {
	auth       auth.Auth
	engine     lifecycle.Engine
	balance    balance.Balance
	moderation moderation.Moderation
	zaplog     *zap.Logger
}

func newHandler(auth auth.Auth, engine lifecycle.Engine, balance balance.Balance, moderation moderation.Moderation, zaplog *zap.Logger) *handler {
	return &handler{
		auth:       auth,
		engine:     engine,
		balance:    balance,
		moderation: moderation,
		zaplog:     zaplog.Named("handler"),
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, logger.RequestLogMdlw(h.auth.Middleware(fn), h.zaplog))
	}

	handle("POST /api/orders", h.PostOrder)
	handle("GET /api/orders/active", h.GetActive)
	handle("GET /api/orders/{id}", h.GetOrder)
	handle("POST /api/orders/{id}/claim", h.orderAction(h.engine.Claim))
	handle("POST /api/orders/{id}/unclaim", h.orderAction(h.engine.Unclaim))
	handle("POST /api/orders/{id}/deliver", h.orderAction(h.engine.Deliver))
	handle("POST /api/orders/{id}/refund", h.orderAction(h.engine.Refund))
	handle("POST /api/orders/{id}/prepare", h.PostPrepare)
	handle("POST /api/orders/{id}/discipline", h.PostDiscipline)
	handle("POST /api/orders/{id}/rate", h.PostRate)
	handle("POST /api/orders/{id}/tip", h.PostTip)

	handle("GET /api/account", h.GetAccount)
	handle("POST /api/account/daily", h.PostDaily)
	handle("POST /api/account/perk", h.PostPerk)
	handle("PUT /api/account/greeting", h.PutGreeting)
	handle("POST /api/account/{id}/membership", h.PostMembership)

	handle("POST /api/moderation/ban", h.PostBan)
	handle("POST /api/moderation/unban", h.PostUnban)
	handle("POST /api/moderation/blacklist", h.PostBlacklist)
	handle("POST /api/moderation/unblacklist", h.PostUnblacklist)

	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Заказы

type OrderJSONResponse struct {
	ID           string    `json:"id"`
	RequesterID  string    `json:"requester_id"`
	Status       string    `json:"status"`
	Item         string    `json:"item"`
	Priority     bool      `json:"priority"`
	Discounted   bool      `json:"discounted"`
	Charged      int       `json:"charged"`
	PreparerID   string    `json:"preparer_id,omitempty"`
	PreparerName string    `json:"preparer_name,omitempty"`
	FulfillerID  string    `json:"fulfiller_id,omitempty"`
	Proof        []string  `json:"proof,omitempty"`
	Rating       int       `json:"rating,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func orderJSON(order model.Order) OrderJSONResponse {
	return OrderJSONResponse{
		ID:           order.ID,
		RequesterID:  order.RequesterID,
		Status:       string(order.Status),
		Item:         order.Item,
		Priority:     order.Priority,
		Discounted:   order.Discounted,
		Charged:      order.Charged,
		PreparerID:   order.PreparerID,
		PreparerName: order.PreparerName,
		FulfillerID:  order.FulfillerID,
		Proof:        order.Proof,
		Rating:       order.Rating,
		CreatedAt:    order.CreatedAt,
	}
}

type PostOrderJSONRequest struct {
	Item      string `json:"item"`
	Priority  bool   `json:"priority"`
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
}

func (h *handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	var req PostOrderJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	origin := model.Origin{GuildID: req.GuildID, ChannelID: req.ChannelID}
	order, err := h.engine.Submit(r.Context(), auth.Actor(r), origin, req.Item, req.Priority)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, orderJSON(order))
}

type ActiveJSONResponse struct {
	Order      OrderJSONResponse `json:"order"`
	Queue      int               `json:"queue"`
	Staff      int               `json:"staff"`
	ETAMinutes int               `json:"eta_minutes"`
	ETA        string            `json:"eta"`
}

func (h *handler) GetActive(w http.ResponseWriter, r *http.Request) {
	active, err := h.engine.Active(r.Context(), auth.Actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ActiveJSONResponse{
		Order:      orderJSON(active.Order),
		Queue:      active.Queue,
		Staff:      active.Staff,
		ETAMinutes: active.ETAMinutes,
		ETA:        active.ETA,
	})
}

type HistoryJSONResponse struct {
	Status    string    `json:"status"`
	Actor     string    `json:"actor"`
	Note      string    `json:"note,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

type LookupJSONResponse struct {
	Order   OrderJSONResponse     `json:"order"`
	History []HistoryJSONResponse `json:"history"`
}

func (h *handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, history, err := h.engine.Lookup(r.Context(), auth.Actor(r), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := LookupJSONResponse{Order: orderJSON(order), History: []HistoryJSONResponse{}}
	for _, entry := range history {
		resp.History = append(resp.History, HistoryJSONResponse{
			Status:    string(entry.Status),
			Actor:     entry.Actor,
			Note:      entry.Note,
			ChangedAt: entry.ChangedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// orderAction adapts the operations that take nothing but the order id.
func (h *handler) orderAction(op func(ctx context.Context, actor model.Actor, orderID string) (model.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := op(r.Context(), auth.Actor(r), r.PathValue("id"))
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, orderJSON(order))
	}
}

type PostPrepareJSONRequest struct {
	Proof []string `json:"proof"`
}

func (h *handler) PostPrepare(w http.ResponseWriter, r *http.Request) {
	var req PostPrepareJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.engine.BeginPreparation(r.Context(), auth.Actor(r), r.PathValue("id"), req.Proof)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

type PostDisciplineJSONRequest struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type DisciplineJSONResponse struct {
	Order   OrderJSONResponse `json:"order"`
	Strikes int               `json:"strikes"`
	Effect  string            `json:"effect"`
	Until   *time.Time        `json:"until,omitempty"`
}

func (h *handler) PostDiscipline(w http.ResponseWriter, r *http.Request) {
	var req PostDisciplineJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, effect, err := h.engine.Discipline(r.Context(), auth.Actor(r), r.PathValue("id"), lifecycle.DisciplineKind(req.Kind), req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := DisciplineJSONResponse{Order: orderJSON(order), Strikes: effect.Strikes, Effect: string(effect.Kind)}
	if !effect.Until.IsZero() {
		resp.Until = &effect.Until
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type PostRateJSONRequest struct {
	Stars int `json:"stars"`
}

func (h *handler) PostRate(w http.ResponseWriter, r *http.Request) {
	var req PostRateJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.engine.Rate(r.Context(), auth.Actor(r), r.PathValue("id"), req.Stars)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

type PostTipJSONRequest struct {
	Amount int `json:"amount"`
}

func (h *handler) PostTip(w http.ResponseWriter, r *http.Request) {
	var req PostTipJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.engine.Tip(r.Context(), auth.Actor(r), r.PathValue("id"), req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderJSON(order))
}

// Счет

type AccountJSONResponse struct {
	ID                string     `json:"id"`
	Balance           int        `json:"balance"`
	PrepCountWeek     int        `json:"prep_count_week"`
	PrepCountTotal    int        `json:"prep_count_total"`
	FulfillCountWeek  int        `json:"fulfill_count_week"`
	FulfillCountTotal int        `json:"fulfill_count_total"`
	StrikeCount       int        `json:"strike_count"`
	Suspension        string     `json:"suspension"`
	SuspendedUntil    *time.Time `json:"suspended_until,omitempty"`
	PerkUntil         *time.Time `json:"perk_until,omitempty"`
	MembershipUntil   *time.Time `json:"membership_until,omitempty"`
	Greeting          string     `json:"greeting,omitempty"`
}

func accountJSON(acct model.Account) AccountJSONResponse {
	optional := func(t time.Time) *time.Time {
		if t.IsZero() {
			return nil
		}
		return &t
	}
	return AccountJSONResponse{
		ID:                acct.ID,
		Balance:           acct.Balance,
		PrepCountWeek:     acct.PrepCountWeek,
		PrepCountTotal:    acct.PrepCountTotal,
		FulfillCountWeek:  acct.FulfillCountWeek,
		FulfillCountTotal: acct.FulfillCountTotal,
		StrikeCount:       acct.StrikeCount,
		Suspension:        string(acct.Suspension.Kind),
		SuspendedUntil:    optional(acct.Suspension.Until),
		PerkUntil:         optional(acct.PerkUntil),
		MembershipUntil:   optional(acct.MembershipUntil),
		Greeting:          acct.Greeting,
	}
}

func (h *handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.balance.Get(r.Context(), auth.Actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountJSON(acct))
}

type DailyJSONResponse struct {
	Granted int                 `json:"granted"`
	Account AccountJSONResponse `json:"account"`
}

func (h *handler) PostDaily(w http.ResponseWriter, r *http.Request) {
	acct, granted, err := h.balance.ClaimDaily(r.Context(), auth.Actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, DailyJSONResponse{Granted: granted, Account: accountJSON(acct)})
}

type PostPerkJSONRequest struct {
	Perk string `json:"perk"`
}

func (h *handler) PostPerk(w http.ResponseWriter, r *http.Request) {
	var req PostPerkJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Perk == "" {
		req.Perk = balance.PerkDoubleStats
	}
	acct, err := h.balance.BuyPerk(r.Context(), auth.Actor(r), req.Perk)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountJSON(acct))
}

type PutGreetingJSONRequest struct {
	Text string `json:"text"`
}

func (h *handler) PutGreeting(w http.ResponseWriter, r *http.Request) {
	var req PutGreetingJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.balance.SetGreeting(r.Context(), auth.Actor(r), req.Text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountJSON(acct))
}

type PostMembershipJSONRequest struct {
	Days int `json:"days"`
}

func (h *handler) PostMembership(w http.ResponseWriter, r *http.Request) {
	var req PostMembershipJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.balance.GrantMembership(r.Context(), auth.Actor(r), r.PathValue("id"), req.Days)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountJSON(acct))
}

// Модерация

type PostBanJSONRequest struct {
	Target string `json:"target"`
	Days   int    `json:"days"`
	Reason string `json:"reason"`
}

func (h *handler) PostBan(w http.ResponseWriter, r *http.Request) {
	var req PostBanJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.moderation.Ban(r.Context(), auth.Actor(r), req.Target, req.Days, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountJSON(acct))
}

func (h *handler) PostUnban(w http.ResponseWriter, r *http.Request) {
	var req PostBanJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	acct, err := h.moderation.Unban(r.Context(), auth.Actor(r), req.Target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountJSON(acct))
}

type PostBlacklistJSONRequest struct {
	GuildID string `json:"guild_id"`
	Reason  string `json:"reason"`
}

func (h *handler) PostBlacklist(w http.ResponseWriter, r *http.Request) {
	var req PostBlacklistJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.moderation.Blacklist(r.Context(), auth.Actor(r), req.GuildID, req.Reason); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) PostUnblacklist(w http.ResponseWriter, r *http.Request) {
	var req PostBlacklistJSONRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.moderation.Unblacklist(r.Context(), auth.Actor(r), req.GuildID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Общее

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		h.zaplog.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrPermissionDenied),
		errors.Is(err, model.ErrSuspended),
		errors.Is(err, model.ErrBlacklisted):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrDuplicateActiveOrder),
		errors.Is(err, model.ErrAlreadyRefunded):
		return http.StatusConflict
	case errors.Is(err, model.ErrPriorityRestricted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrCooldown):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
