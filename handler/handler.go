// Package handler adapts API Gateway and DynamoDB stream events to the
// analysis and message services.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-inbox-ai/internal/domain"
	"support-inbox-ai/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Analyzer interface {
	Analyze(ctx context.Context, conversationID string, kind domain.Kind) (usecase.Envelope, error)
	Summary(ctx context.Context, conversationID string) (usecase.Envelope, error)
	SuggestReply(ctx context.Context, conversationID string) (usecase.Envelope, error)
	AnalyzeInbox(ctx context.Context, conversationID string) (usecase.InboxEnvelope, error)
}

type MessageRecorder interface {
	Record(ctx context.Context, in usecase.RecordMessageInput) (domain.Message, error)
}

type analyzeRequest struct {
	ConversationID string `json:"conversation_id"`
	Type           string `json:"type"`
}

type messageRequest struct {
	SenderRole string `json:"sender_role"`
	Content    string `json:"content"`
}

type successResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
	Meta   any    `json:"meta"`
}

type analysisMeta struct {
	Kind     domain.Kind `json:"kind"`
	Cached   bool        `json:"cached"`
	Fallback bool        `json:"fallback"`
}

type messageData struct {
	MessageID      string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	SenderRole     domain.SenderRole `json:"sender_role"`
	Content        string            `json:"content"`
	CreatedAt      string            `json:"created_at"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handler struct {
	analyzer Analyzer
	messages MessageRecorder
	logger   *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(analyzer Analyzer, messages MessageRecorder, opts ...Option) (*Handler, error) {
	if analyzer == nil {
		return nil, errors.New("handler: analyzer must not be nil")
	}
	if messages == nil {
		return nil, errors.New("handler: message recorder must not be nil")
	}
	h := &Handler{analyzer: analyzer, messages: messages, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle routes one API Gateway proxy request. Every failure is rendered as a
// JSON error body, so the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	if event.HTTPMethod != "" && event.HTTPMethod != http.MethodPost {
		return respondError(correlationID, http.StatusMethodNotAllowed, string(usecase.ErrorInvalidInput), "method not allowed"), nil
	}

	path := strings.TrimRight(event.Path, "/")
	switch path {
	case "/v1/ai/analyze":
		return h.analyze(ctx, logger, correlationID, event.Body), nil
	case "/v1/ai/inbox":
		return h.inbox(ctx, logger, correlationID, event.Body), nil
	case "/v1/ai/summary":
		return h.single(ctx, logger, correlationID, event.Body, domain.KindSummary, h.analyzer.Summary), nil
	case "/v1/ai/reply":
		return h.single(ctx, logger, correlationID, event.Body, domain.KindReply, h.analyzer.SuggestReply), nil
	}
	if id, ok := messagesPath(path, event.PathParameters); ok {
		return h.recordMessage(ctx, logger, correlationID, id, event.Body), nil
	}
	return respondError(correlationID, http.StatusNotFound, string(usecase.ErrorNotFound), "route not found"), nil
}

func (h *Handler) analyze(ctx context.Context, logger *slog.Logger, correlationID, body string) events.APIGatewayProxyResponse {
	var req analyzeRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid JSON body")
	}
	kind, err := domain.ParseKind(req.Type)
	if err != nil {
		return respondError(correlationID, http.StatusUnprocessableEntity, string(usecase.ErrorInvalidInput), "unknown analysis type")
	}
	env, err := h.analyzer.Analyze(ctx, req.ConversationID, kind)
	if err != nil {
		return h.fail(logger, correlationID, err)
	}
	return respond(correlationID, http.StatusOK, successResponse{
		Status: "success",
		Data:   env.Data,
		Meta:   analysisMeta{Kind: kind, Cached: env.Cached, Fallback: env.Fallback},
	})
}

func (h *Handler) single(ctx context.Context, logger *slog.Logger, correlationID, body string, kind domain.Kind, run func(context.Context, string) (usecase.Envelope, error)) events.APIGatewayProxyResponse {
	var req analyzeRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid JSON body")
	}
	env, err := run(ctx, req.ConversationID)
	if err != nil {
		return h.fail(logger, correlationID, err)
	}
	return respond(correlationID, http.StatusOK, successResponse{
		Status: "success",
		Data:   env.Data,
		Meta:   analysisMeta{Kind: kind, Cached: env.Cached, Fallback: env.Fallback},
	})
}

func (h *Handler) inbox(ctx context.Context, logger *slog.Logger, correlationID, body string) events.APIGatewayProxyResponse {
	var req analyzeRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid JSON body")
	}
	env, err := h.analyzer.AnalyzeInbox(ctx, req.ConversationID)
	if err != nil {
		return h.fail(logger, correlationID, err)
	}
	return respond(correlationID, http.StatusOK, successResponse{
		Status: "success",
		Data:   env.Data,
		Meta:   env.Meta,
	})
}

func (h *Handler) recordMessage(ctx context.Context, logger *slog.Logger, correlationID, conversationID, body string) events.APIGatewayProxyResponse {
	var req messageRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return respondError(correlationID, http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid JSON body")
	}
	msg, err := h.messages.Record(ctx, usecase.RecordMessageInput{
		ConversationID: conversationID,
		SenderRole:     req.SenderRole,
		Content:        req.Content,
	})
	if err != nil {
		return h.fail(logger, correlationID, err)
	}
	return respond(correlationID, http.StatusCreated, successResponse{
		Status: "success",
		Data: messageData{
			MessageID:      msg.MessageID,
			ConversationID: msg.ConversationID,
			SenderRole:     msg.SenderRole,
			Content:        msg.Content,
			CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
		Meta: map[string]any{},
	})
}

func (h *Handler) fail(logger *slog.Logger, correlationID string, err error) events.APIGatewayProxyResponse {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
	} else {
		logger.Info("request rejected", "err", err)
	}
	return respondError(correlationID, status, code, message)
}

func mapError(err error) (int, string, string) {
	code, reason := usecase.Classify(err)
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, string(code), reason
	case usecase.ErrorNotFound:
		return http.StatusNotFound, string(code), reason
	case usecase.ErrorUpstream:
		return http.StatusBadGateway, string(code), reason
	}
	return http.StatusInternalServerError, string(usecase.ErrorInternal), reason
}

// messagesPath matches /conversations/{id}/messages, preferring the API
// Gateway path parameter when the route template supplied one.
func messagesPath(path string, params map[string]string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "conversations" || parts[2] != "messages" {
		return "", false
	}
	if id := strings.TrimSpace(params["id"]); id != "" {
		return id, true
	}
	return parts[1], true
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respond(correlationID string, status int, body any) events.APIGatewayProxyResponse {
	data, err := json.Marshal(body)
	if err != nil {
		return respondError(correlationID, http.StatusInternalServerError, string(usecase.ErrorInternal), "response encoding failed")
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(data),
	}
}

func respondError(correlationID string, status int, code, message string) events.APIGatewayProxyResponse {
	data, _ := json.Marshal(errorResponse{Error: code, Message: message})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(data),
	}
}
