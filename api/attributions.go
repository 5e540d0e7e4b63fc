package api

import (
	"net/http"
	"time"

	"github.com/Domenick1991/attribution/internal/domain"
	"github.com/Domenick1991/attribution/internal/service/attribution"
	"github.com/Domenick1991/attribution/internal/service/escalation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	hintMissionConfirmed   = "mission_confirmed"
	hintMissionUnavailable = "mission_unavailable"
	hintLinkExpired        = "link_expired"
	hintRefusalRecorded    = "refusal_recorded"
	hintAlreadyResponded   = "already_responded"
	hintRetryLater         = "retry_later"
)

type AttributionHandler struct {
	service attribution.AttributionUseCase
	logger  *zap.Logger
}

type actionRequest struct {
	CandidateID string `form:"candidate_id" json:"candidate_id"`
	Token       string `form:"token" json:"token"`
	Message     string `form:"message" json:"message"`
	Reason      string `form:"reason" json:"reason"`
}

type actionResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	AttributionID string `json:"attribution_id"`
	RedirectHint  string `json:"redirect_hint,omitempty"`
}

type createAttributionRequest struct {
	BookingID     string  `json:"booking_id" binding:"required"`
	ServiceType   string  `json:"service_type" binding:"required"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	MaxDistanceKm float64 `json:"max_distance_km"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type locationResponse struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type attributionResponse struct {
	ID                  string           `json:"id"`
	BookingID           string           `json:"booking_id"`
	ServiceType         string           `json:"service_type"`
	Location            locationResponse `json:"location"`
	MaxDistanceKm       float64          `json:"max_distance_km"`
	Status              string           `json:"status"`
	BroadcastCount      int              `json:"broadcast_count"`
	LastBroadcastAt     string           `json:"last_broadcast_at,omitempty"`
	ExcludedCandidates  []string         `json:"excluded_candidates"`
	AcceptedCandidateID string           `json:"accepted_candidate_id,omitempty"`
	CancelReason        string           `json:"cancel_reason,omitempty"`
	CreatedAt           string           `json:"created_at"`
	UpdatedAt           string           `json:"updated_at"`
}

type roundResponse struct {
	Number     int      `json:"number"`
	Candidates []string `json:"candidates"`
	Expired    bool     `json:"expired"`
}

type createAttributionResponse struct {
	Attribution attributionResponse `json:"attribution"`
	Round       *roundResponse      `json:"round,omitempty"`
}

type responseEntry struct {
	CandidateID  string  `json:"candidate_id"`
	ResponseType string  `json:"response_type"`
	ResponseTime string  `json:"response_time"`
	Message      string  `json:"message,omitempty"`
	DistanceKm   float64 `json:"distance_km"`
}

type tallyResponse struct {
	Offered  int `json:"offered"`
	Accepted int `json:"accepted"`
	Refused  int `json:"refused"`
	Pending  int `json:"pending"`
}

type contactResponse struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address"`
}

type statusResponse struct {
	AttributionID  string           `json:"attribution_id"`
	Status         string           `json:"status"`
	BroadcastCount int              `json:"broadcast_count"`
	Tally          tallyResponse    `json:"tally"`
	Customer       *contactResponse `json:"customer,omitempty"`
}

type rebroadcastResponse struct {
	AttributionID string         `json:"attribution_id"`
	Action        string         `json:"action"`
	Excluded      []string       `json:"excluded"`
	Round         *roundResponse `json:"round,omitempty"`
}

func NewAttributionHandler(service attribution.AttributionUseCase, logger *zap.Logger) *AttributionHandler {
	return &AttributionHandler{service: service, logger: logger}
}

// Register mounts the routes. candidate middleware only wraps the routes
// reached from links sent to candidates.
func (h *AttributionHandler) Register(router *gin.RouterGroup, candidate ...gin.HandlerFunc) {
	public := router.Group("", candidate...)
	public.GET("/:id/accept", h.accept)
	public.POST("/:id/accept", h.accept)
	public.GET("/:id/refuse", h.refuse)
	public.POST("/:id/refuse", h.refuse)
	public.GET("/:id/status", h.status)

	router.POST("", h.create)
	router.GET("/:id", h.get)
	router.GET("/:id/responses", h.responses)
	router.POST("/:id/cancel", h.cancel)
	router.POST("/:id/rebroadcast", h.rebroadcast)
}

// accept godoc
// @Summary  Accept a mission offer
// @Tags     candidate
// @Produce  json
// @Param    id            path   string  true   "Attribution ID"
// @Param    candidate_id  query  string  true   "Candidate ID"
// @Param    token         query  string  true   "Action token"
// @Param    message       query  string  false  "Note to the customer"
// @Success  200  {object}  actionResponse
// @Failure  400,401,404,409,500  {object}  actionResponse
// @Router   /attributions/{id}/accept [get]
// @Router   /attributions/{id}/accept [post]
func (h *AttributionHandler) accept(c *gin.Context) {
	id := c.Param("id")
	req, ok := bindAction(c)
	if !ok {
		c.JSON(http.StatusBadRequest, actionResponse{Message: "candidate_id and token are required", AttributionID: id})
		return
	}

	out, err := h.service.Accept(c.Request.Context(), attribution.ActionInput{
		AttributionID: id,
		CandidateID:   req.CandidateID,
		Token:         req.Token,
		Message:       req.Message,
	})
	if err != nil {
		c.JSON(h.actionFailure(err, id))
		return
	}

	message := "mission accepted"
	if out.Replayed {
		message = "mission already accepted by you"
	}
	c.JSON(http.StatusOK, actionResponse{Success: true, Message: message, AttributionID: id, RedirectHint: hintMissionConfirmed})
}

// refuse godoc
// @Summary  Refuse a mission offer
// @Tags     candidate
// @Produce  json
// @Param    id            path   string  true   "Attribution ID"
// @Param    candidate_id  query  string  true   "Candidate ID"
// @Param    token         query  string  true   "Action token"
// @Param    reason        query  string  false  "Refusal reason"
// @Success  200  {object}  actionResponse
// @Failure  400,401,404,500  {object}  actionResponse
// @Router   /attributions/{id}/refuse [get]
// @Router   /attributions/{id}/refuse [post]
func (h *AttributionHandler) refuse(c *gin.Context) {
	id := c.Param("id")
	req, ok := bindAction(c)
	if !ok {
		c.JSON(http.StatusBadRequest, actionResponse{Message: "candidate_id and token are required", AttributionID: id})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Message
	}

	_, err := h.service.Refuse(c.Request.Context(), attribution.ActionInput{
		AttributionID: id,
		CandidateID:   req.CandidateID,
		Token:         req.Token,
		Message:       reason,
	})
	if err != nil {
		status, resp := h.actionFailure(err, id)
		if kind, _ := domain.KindOf(err); kind == domain.KindAlreadyResolved || kind == domain.KindDuplicateResponse {
			status = http.StatusBadRequest
		}
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusOK, actionResponse{Success: true, Message: "refusal recorded", AttributionID: id, RedirectHint: hintRefusalRecorded})
}

// status godoc
// @Summary  Attribution summary for a candidate
// @Tags     candidate
// @Produce  json
// @Param    id            path   string  true   "Attribution ID"
// @Param    candidate_id  query  string  false  "Candidate ID"
// @Param    token         query  string  false  "Action token"
// @Success  200  {object}  statusResponse
// @Failure  404,500  {object}  map[string]string
// @Router   /attributions/{id}/status [get]
func (h *AttributionHandler) status(c *gin.Context) {
	view, err := h.service.Status(c.Request.Context(), c.Param("id"), c.Query("candidate_id"), c.Query("token"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := statusResponse{
		AttributionID:  view.Attribution.ID,
		Status:         string(view.Attribution.Status),
		BroadcastCount: view.Attribution.BroadcastCount,
		Tally: tallyResponse{
			Offered:  view.Tally.Offered,
			Accepted: view.Tally.Accepted,
			Refused:  view.Tally.Refused,
			Pending:  view.Tally.Pending,
		},
	}
	if view.Contact != nil {
		resp.Customer = &contactResponse{
			Name:    view.Contact.Name,
			Phone:   view.Contact.Phone,
			Email:   view.Contact.Email,
			Address: view.Contact.Address,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// create godoc
// @Summary  Open an attribution for a booking and broadcast round 1
// @Tags     admin
// @Accept   json
// @Produce  json
// @Param    request  body  createAttributionRequest  true  "Booking to attribute"
// @Success  201  {object}  createAttributionResponse
// @Failure  400,500  {object}  map[string]string
// @Router   /attributions [post]
func (h *AttributionHandler) create(c *gin.Context) {
	var req createAttributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.CreateAttribution(c.Request.Context(), attribution.CreateAttributionInput{
		BookingID:     req.BookingID,
		ServiceType:   req.ServiceType,
		Location:      domain.Location{Lat: req.Lat, Lng: req.Lng},
		MaxDistanceKm: req.MaxDistanceKm,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createAttributionResponse{
		Attribution: toAttributionResponse(res.Attribution),
		Round:       toRoundResponse(res.Round),
	})
}

// get godoc
// @Summary  Attribution details
// @Tags     admin
// @Produce  json
// @Param    id  path  string  true  "Attribution ID"
// @Success  200  {object}  attributionResponse
// @Failure  404,500  {object}  map[string]string
// @Router   /attributions/{id} [get]
func (h *AttributionHandler) get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAttributionResponse(a))
}

// responses godoc
// @Summary  Responses recorded for an attribution
// @Tags     admin
// @Produce  json
// @Param    id  path  string  true  "Attribution ID"
// @Success  200  {array}  responseEntry
// @Failure  404,500  {object}  map[string]string
// @Router   /attributions/{id}/responses [get]
func (h *AttributionHandler) responses(c *gin.Context) {
	list, err := h.service.Responses(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	entries := make([]responseEntry, 0, len(list))
	for _, r := range list {
		entries = append(entries, responseEntry{
			CandidateID:  r.CandidateID,
			ResponseType: string(r.ResponseType),
			ResponseTime: r.ResponseTime.Format(time.RFC3339),
			Message:      r.Message,
			DistanceKm:   r.DistanceKm,
		})
	}
	c.JSON(http.StatusOK, entries)
}

// cancel godoc
// @Summary  Cancel a broadcasting attribution
// @Tags     admin
// @Accept   json
// @Produce  json
// @Param    id       path  string         true   "Attribution ID"
// @Param    request  body  cancelRequest  false  "Cancellation reason"
// @Success  200  {object}  attributionResponse
// @Failure  404,409,500  {object}  map[string]string
// @Router   /attributions/{id}/cancel [post]
func (h *AttributionHandler) cancel(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	a, err := h.service.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAttributionResponse(a))
}

// rebroadcast godoc
// @Summary  Close the current round now and escalate
// @Tags     admin
// @Produce  json
// @Param    id  path  string  true  "Attribution ID"
// @Success  200  {object}  rebroadcastResponse
// @Failure  404,409,500  {object}  map[string]string
// @Router   /attributions/{id}/rebroadcast [post]
func (h *AttributionHandler) rebroadcast(c *gin.Context) {
	step, err := h.service.Rebroadcast(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRebroadcastResponse(step))
}

// bindAction reads the action parameters from the query string, a form body
// or a JSON body. Query values fill whatever the body left empty.
func bindAction(c *gin.Context) (actionRequest, bool) {
	var req actionRequest
	if err := c.ShouldBind(&req); err != nil {
		return req, false
	}
	if req.CandidateID == "" {
		req.CandidateID = c.Query("candidate_id")
	}
	if req.Token == "" {
		req.Token = c.Query("token")
	}
	return req, req.CandidateID != "" && req.Token != ""
}

// actionFailure maps an accept/refuse error to a status and body. refuse
// answers business rejections with 400 instead of 409.
func (h *AttributionHandler) actionFailure(err error, id string) (int, actionResponse) {
	resp := actionResponse{AttributionID: id}
	kind, ok := domain.KindOf(err)
	if !ok {
		h.logger.Error("candidate action failed", zap.String("attribution_id", id), zap.Error(err))
		resp.Message = "something went wrong, please retry"
		resp.RedirectHint = hintRetryLater
		return http.StatusInternalServerError, resp
	}

	switch kind {
	case domain.KindInvalidToken:
		resp.Message = "link expired"
		resp.RedirectHint = hintLinkExpired
		return http.StatusUnauthorized, resp
	case domain.KindNotFound:
		resp.Message = "mission not found"
		resp.RedirectHint = hintMissionUnavailable
		return http.StatusNotFound, resp
	case domain.KindAlreadyResolved:
		resp.Message = "mission already attributed"
		resp.RedirectHint = hintMissionUnavailable
		return http.StatusConflict, resp
	case domain.KindDuplicateResponse:
		resp.Message = "you already answered this mission"
		resp.RedirectHint = hintAlreadyResponded
		return http.StatusConflict, resp
	default:
		resp.Message = err.Error()
		return http.StatusBadRequest, resp
	}
}

func (h *AttributionHandler) writeError(c *gin.Context, err error) {
	kind, ok := domain.KindOf(err)
	if !ok {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusBadRequest
	switch kind {
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindAlreadyResolved, domain.KindDuplicateResponse:
		status = http.StatusConflict
	case domain.KindInvalidToken:
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(kind)})
}

func toAttributionResponse(a *domain.Attribution) attributionResponse {
	resp := attributionResponse{
		ID:                  a.ID,
		BookingID:           a.BookingID,
		ServiceType:         a.ServiceType,
		Location:            locationResponse{Lat: a.Location.Lat, Lng: a.Location.Lng},
		MaxDistanceKm:       a.MaxDistanceKm,
		Status:              string(a.Status),
		BroadcastCount:      a.BroadcastCount,
		ExcludedCandidates:  a.ExcludedCandidates,
		AcceptedCandidateID: a.AcceptedCandidateID,
		CancelReason:        a.CancelReason,
		CreatedAt:           a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           a.UpdatedAt.Format(time.RFC3339),
	}
	if resp.ExcludedCandidates == nil {
		resp.ExcludedCandidates = []string{}
	}
	if a.LastBroadcastAt != nil {
		resp.LastBroadcastAt = a.LastBroadcastAt.Format(time.RFC3339)
	}
	return resp
}

func toRoundResponse(r *domain.Round) *roundResponse {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.Candidates))
	for _, e := range r.Candidates {
		ids = append(ids, e.Candidate.ID)
	}
	return &roundResponse{Number: r.Number, Candidates: ids, Expired: r.Expired}
}

func toRebroadcastResponse(step *escalation.StepResult) rebroadcastResponse {
	excluded := step.Excluded
	if excluded == nil {
		excluded = []string{}
	}
	return rebroadcastResponse{
		AttributionID: step.AttributionID,
		Action:        string(step.Action),
		Excluded:      excluded,
		Round:         toRoundResponse(step.Round),
	}
}
