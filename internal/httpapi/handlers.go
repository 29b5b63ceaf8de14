package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/commissions/internal/authz"
	"github.com/MarkoPoloResearchLab/commissions/internal/money"
	"github.com/MarkoPoloResearchLab/commissions/internal/wire"
	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type httpHandler struct {
	logger     *zap.Logger
	service    *commission.Service
	authorizer *authz.Authorizer
	labels     commission.StatusLabels
	cfg        Config
}

// require resolves the session actor and checks it against the permission table.
func (handler *httpHandler) require(action authz.Action) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(wire.CodeUnauthorized, "missing session", nil))
			return
		}
		subject, err := handler.authorize(claims, action)
		if err != nil {
			if errors.Is(err, authz.ErrForbidden) {
				ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(wire.CodeForbidden, err.Error(), nil))
				return
			}
			handler.logger.Error("authorization failed", zap.Error(err))
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse(wire.CodeInternal, "internal error", nil))
			return
		}
		actor, err := commission.NewActor(subject)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(wire.CodeUnauthorized, "session has no subject", nil))
			return
		}
		ctx.Set(actorContextKey, actor)
		ctx.Next()
	}
}

// authorize accepts either the session email or the user id as the subject
// and returns the one that was granted.
func (handler *httpHandler) authorize(claims *sessionvalidator.Claims, action authz.Action) (string, error) {
	var lastErr error = fmt.Errorf("%w: anonymous subject", authz.ErrForbidden)
	for _, subject := range []string{claims.GetUserEmail(), claims.GetUserID()} {
		if strings.TrimSpace(subject) == "" {
			continue
		}
		err := handler.authorizer.Authorize(subject, action)
		if err == nil {
			return subject, nil
		}
		lastErr = err
		if !errors.Is(err, authz.ErrForbidden) {
			return "", err
		}
	}
	return "", lastErr
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(wire.CodeUnauthorized, "missing session", nil))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"email":   claims.GetUserEmail(),
		"display": claims.GetUserDisplayName(),
		"expires": claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleQuery(ctx *gin.Context) {
	query, err := parseCommissionQuery(ctx)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.service.QueryCommissions(requestCtx, query)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, wire.FromReport(report, handler.service.Now()))
}

func (handler *httpHandler) handleUnsettled(ctx *gin.Context) {
	limit, err := parseOptionalInt(ctx.Query("limit"), "limit")
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	rows, err := handler.service.ListUnsettled(requestCtx, limit)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rows": wire.FromRows(rows, handler.service.Now())})
}

func (handler *httpHandler) handleLabels(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"labels": handler.labels.All()})
}

func (handler *httpHandler) handleGet(ctx *gin.Context) {
	orderID, ok := handler.orderID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.service.GetCommission(requestCtx, orderID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": wire.FromOrder(order, handler.service.Now())})
}

func (handler *httpHandler) handleAudit(ctx *gin.Context) {
	orderID, ok := handler.orderID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.AuditTrail(requestCtx, orderID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": wire.FromAuditEntries(entries)})
}

func (handler *httpHandler) handleRelease(ctx *gin.Context) {
	orderID, ok := handler.orderID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.service.ReleaseSingle(requestCtx, actorFrom(ctx), orderID)
	handler.respondWithOrder(ctx, order, err)
}

type releaseDateRequest struct {
	ReleaseDate string `json:"release_date"`
}

func (handler *httpHandler) handleUpdateReleaseDate(ctx *gin.Context) {
	orderID, ok := handler.orderID(ctx)
	if !ok {
		return
	}
	var request releaseDateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(wire.CodeInvalidRequest, "expected JSON body", nil))
		return
	}
	releaseDate, err := wire.ParseTime(request.ReleaseDate, false)
	if err != nil {
		handler.writeError(ctx, fmt.Errorf("%w: %v", commission.ErrInvalidReleaseDate, err))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.service.UpdateReleaseDate(requestCtx, actorFrom(ctx), orderID, releaseDate)
	handler.respondWithOrder(ctx, order, err)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (handler *httpHandler) handleCancel(ctx *gin.Context) {
	orderID, ok := handler.orderID(ctx)
	if !ok {
		return
	}
	var request cancelRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(wire.CodeInvalidRequest, "expected JSON body", nil))
		return
	}
	reason, err := commission.NewReason(request.Reason)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.service.Cancel(requestCtx, actorFrom(ctx), orderID, reason)
	handler.respondWithOrder(ctx, order, err)
}

func (handler *httpHandler) handleClaim(ctx *gin.Context) {
	orderID, ok := handler.orderID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.service.Claim(requestCtx, actorFrom(ctx), orderID)
	handler.respondWithOrder(ctx, order, err)
}

func (handler *httpHandler) handleFixBalance(ctx *gin.Context) {
	orderID, ok := handler.orderID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	reconciliation, err := handler.service.FixBalance(requestCtx, actorFrom(ctx), orderID)
	if err != nil && !(reconciliation.AlreadySettled && errors.Is(err, commission.ErrAlreadySettled)) {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, wire.FromReconciliation(reconciliation, handler.service.Now()))
}

type resetRequest struct {
	Confirmation *string `json:"confirmation"`
}

func (handler *httpHandler) handleReset(ctx *gin.Context) {
	var request resetRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(wire.CodeInvalidRequest, "expected JSON body", nil))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.ResetAllCommissions(requestCtx, actorFrom(ctx), request.Confirmation)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, wire.FromResetResult(result))
}

func (handler *httpHandler) handleReleaseEligible(ctx *gin.Context) {
	limit, err := parseOptionalInt(ctx.Query("limit"), "limit")
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if limit == 0 {
		limit = handler.cfg.SweepBatchSize
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.ReleaseEligible(requestCtx, actorFrom(ctx), limit)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, wire.FromSweepResult(result))
}

type registerAgentRequest struct {
	AgentID    string `json:"agent_id"`
	FullName   string `json:"full_name"`
	CouponCode string `json:"coupon_code"`
	Phone      string `json:"phone"`
}

func (handler *httpHandler) handleRegisterAgent(ctx *gin.Context) {
	var request registerAgentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(wire.CodeInvalidRequest, "expected JSON body", nil))
		return
	}
	agentID, err := commission.NewAgentID(request.AgentID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	agent, err := handler.service.RegisterAgent(requestCtx, actorFrom(ctx), commission.Agent{
		AgentID:    agentID,
		FullName:   strings.TrimSpace(request.FullName),
		CouponCode: strings.TrimSpace(request.CouponCode),
		Phone:      strings.TrimSpace(request.Phone),
	})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"agent": wire.FromAgent(agent)})
}

func (handler *httpHandler) handleAgentBalance(ctx *gin.Context) {
	agentID, err := commission.NewAgentID(ctx.Param("agentId"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	agent, err := handler.service.AgentBalance(requestCtx, agentID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"agent": wire.FromAgent(agent)})
}

type registerOrderRequest struct {
	OrderID          string `json:"order_id"`
	OrderType        string `json:"order_type"`
	OrderDate        string `json:"order_date"`
	OrderTotal       string `json:"order_total"`
	AgentID          string `json:"agent_id"`
	CustomerName     string `json:"customer_name"`
	CustomerPhone    string `json:"customer_phone"`
	CommissionAmount string `json:"commission_amount"`
	AvailableAt      string `json:"available_at"`
}

func (handler *httpHandler) handleRegisterOrder(ctx *gin.Context) {
	var request registerOrderRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(wire.CodeInvalidRequest, "expected JSON body", nil))
		return
	}
	input, err := request.toInput()
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	order, err := handler.service.RegisterOrder(requestCtx, actorFrom(ctx), input)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"order": wire.FromOrder(order, handler.service.Now())})
}

func (request registerOrderRequest) toInput() (commission.OrderInput, error) {
	orderID, err := commission.NewOrderID(request.OrderID)
	if err != nil {
		return commission.OrderInput{}, err
	}
	orderType, err := commission.ParseOrderType(request.OrderType)
	if err != nil {
		return commission.OrderInput{}, err
	}
	orderDate, err := wire.ParseTime(request.OrderDate, false)
	if err != nil {
		return commission.OrderInput{}, fmt.Errorf("%w: %v", commission.ErrInvalidOrderDate, err)
	}
	input := commission.OrderInput{
		OrderID:       orderID,
		OrderType:     orderType,
		OrderDate:     orderDate,
		CustomerName:  strings.TrimSpace(request.CustomerName),
		CustomerPhone: strings.TrimSpace(request.CustomerPhone),
	}
	if strings.TrimSpace(request.OrderTotal) != "" {
		if input.OrderTotal, err = money.Parse(request.OrderTotal); err != nil {
			return commission.OrderInput{}, err
		}
	}
	if strings.TrimSpace(request.AgentID) == "" {
		return input, nil
	}
	if input.AgentID, err = commission.NewAgentID(request.AgentID); err != nil {
		return commission.OrderInput{}, err
	}
	if input.CommissionAmount, err = money.Parse(request.CommissionAmount); err != nil {
		return commission.OrderInput{}, err
	}
	if strings.TrimSpace(request.AvailableAt) != "" {
		if input.AvailableAt, err = wire.ParseTime(request.AvailableAt, false); err != nil {
			return commission.OrderInput{}, fmt.Errorf("%w: %v", commission.ErrInvalidReleaseDate, err)
		}
	}
	return input, nil
}

func (handler *httpHandler) respondWithOrder(ctx *gin.Context, order commission.Order, err error) {
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"order": wire.FromOrder(order, handler.service.Now())})
}

func (handler *httpHandler) orderID(ctx *gin.Context) (commission.OrderID, bool) {
	orderID, err := commission.NewOrderID(ctx.Param("orderId"))
	if err != nil {
		handler.writeError(ctx, err)
		return commission.OrderID{}, false
	}
	return orderID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) writeError(ctx *gin.Context, err error) {
	code := wire.ErrorCode(err)
	if code == wire.CodeInternal {
		handler.logger.Error("commission request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Error(err),
		)
	}
	ctx.JSON(httpStatus(code), errorResponse(code, wire.ErrorMessage(err), wire.ErrorDetails(err)))
}

func httpStatus(code string) int {
	switch code {
	case wire.CodeNotFound:
		return http.StatusNotFound
	case wire.CodeInvalidRequest, wire.CodeInvalidConfirmation:
		return http.StatusBadRequest
	case wire.CodeInvalidState, wire.CodeInsufficientBalance, wire.CodeAlreadySettled, wire.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseCommissionQuery(ctx *gin.Context) (commission.CommissionQuery, error) {
	query := commission.CommissionQuery{}
	if raw := strings.TrimSpace(ctx.Query("agent_id")); raw != "" {
		agentID, err := commission.NewAgentID(raw)
		if err != nil {
			return commission.CommissionQuery{}, err
		}
		query.Filter.AgentID = agentID
	}
	if raw := strings.TrimSpace(ctx.Query("status")); raw != "" {
		status, err := commission.ParseCommissionStatus(raw)
		if err != nil {
			return commission.CommissionQuery{}, err
		}
		query.Filter.Status = status
	}
	if raw := strings.TrimSpace(ctx.Query("from")); raw != "" {
		from, err := wire.ParseTime(raw, false)
		if err != nil {
			return commission.CommissionQuery{}, fmt.Errorf("%w: from: %v", commission.ErrInvalidDateRange, err)
		}
		query.Filter.From = from
	}
	if raw := strings.TrimSpace(ctx.Query("to")); raw != "" {
		to, err := wire.ParseTime(raw, true)
		if err != nil {
			return commission.CommissionQuery{}, fmt.Errorf("%w: to: %v", commission.ErrInvalidDateRange, err)
		}
		query.Filter.To = to
	}
	var err error
	if query.Page.Number, err = parseOptionalInt(ctx.Query("page"), "page"); err != nil {
		return commission.CommissionQuery{}, err
	}
	if query.Page.Size, err = parseOptionalInt(ctx.Query("page_size"), "page_size"); err != nil {
		return commission.CommissionQuery{}, err
	}
	return query, nil
}

func parseOptionalInt(raw string, name string) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", commission.ErrInvalidPage, name)
	}
	return value, nil
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func actorFrom(ctx *gin.Context) commission.Actor {
	value, _ := ctx.Get(actorContextKey)
	actor, _ := value.(commission.Actor)
	return actor
}

func errorResponse(code string, message string, details map[string]any) gin.H {
	body := gin.H{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	return gin.H{"error": body}
}
