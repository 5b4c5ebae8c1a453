package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"medcost/insurance"
	"medcost/ml"
	"medcost/monitoring"
)

const (
	maxBodyBytes  = 4 << 10
	wsIdleTimeout = 5 * time.Minute
	wsWriteWait   = 10 * time.Second
)

// PredictResponse is the body of a successful API prediction and of every
// WebSocket reply.
type PredictResponse struct {
	Charges *decimal.Decimal `json:"charges,omitempty"`
	Raw     *float64         `json:"raw,omitempty"`
	Error   string           `json:"error,omitempty"`
	Code    string           `json:"code,omitempty"`
	Status  int              `json:"status"`
}

func newPredictResponse(p *ml.Prediction) PredictResponse {
	charges, raw := p.Charges, p.Raw
	return PredictResponse{Charges: &charges, Raw: &raw, Status: http.StatusOK}
}

func errorResponse(err error) PredictResponse {
	return PredictResponse{Error: userMessage(err), Code: resultLabel(err), Status: statusFor(err)}
}

// statusFor maps prediction errors onto HTTP status codes.
func statusFor(err error) int {
	var invalid *insurance.ValidationError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case ml.IsArtifactMissing(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func resultLabel(err error) string {
	var invalid *insurance.ValidationError
	switch {
	case err == nil:
		return monitoring.ResultOK
	case errors.As(err, &invalid):
		return monitoring.ResultInvalidInput
	case ml.IsArtifactMissing(err):
		return monitoring.ResultArtifactMissing
	default:
		return monitoring.ResultError
	}
}

// userMessage is what the form shows for err. Missing artifacts tell the
// user to run training first.
func userMessage(err error) string {
	var invalid *insurance.ValidationError
	switch {
	case errors.As(err, &invalid):
		return "输入无效：" + invalid.Error()
	case errors.Is(err, ml.ErrSchemaMissing):
		return "请先运行 train_model 生成特征列文件！"
	case errors.Is(err, ml.ErrModelMissing):
		return "请先运行 train_model 生成模型文件！"
	default:
		return "预测失败：" + err.Error()
	}
}

// predict invokes the predictor once and records the outcome.
func (s *Server) predict(ctx context.Context, record insurance.Record) (*ml.Prediction, error) {
	start := time.Now()
	prediction, err := s.deps.Predictor.Predict(ctx, record)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObservePrediction(resultLabel(err), time.Since(start))
	}
	if err != nil {
		s.logger.Warn("prediction failed",
			zap.String("request_id", GetRequestID(ctx)),
			zap.Error(err))
		return nil, err
	}
	return prediction, nil
}

func (s *Server) observeInvalid() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.PredictionsTotal.WithLabelValues(monitoring.ResultInvalidInput).Inc()
	}
}

func decodeRecord(data []byte, categories insurance.Categories) (insurance.Record, error) {
	var record insurance.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return record, &insurance.ValidationError{Field: "body", Reason: err.Error()}
	}
	return record, categories.Check(record)
}

func (s *Server) handlePredictAPI(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&raw); err != nil {
		s.observeInvalid()
		respondJSON(w, errorResponse(&insurance.ValidationError{Field: "body", Reason: err.Error()}))
		return
	}
	record, err := decodeRecord(raw, s.deps.Categories)
	if err != nil {
		s.observeInvalid()
		respondJSON(w, errorResponse(err))
		return
	}

	prediction, err := s.predict(r.Context(), record)
	if err != nil {
		respondJSON(w, errorResponse(err))
		return
	}
	respondJSON(w, newPredictResponse(prediction))
}

// handlePredictWS answers every inbound record message with exactly one
// prediction reply, until the client closes the socket.
func (s *Server) handlePredictWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	requestID := GetRequestID(r.Context())
	for {
		conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.String("request_id", requestID), zap.Error(err))
			}
			return
		}

		var reply PredictResponse
		record, err := decodeRecord(message, s.deps.Categories)
		if err != nil {
			s.observeInvalid()
			reply = errorResponse(err)
		} else {
			reply = s.predictWithTimeout(r.Context(), record)
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Warn("websocket write failed", zap.String("request_id", requestID), zap.Error(err))
			return
		}
	}
}

func (s *Server) predictWithTimeout(ctx context.Context, record insurance.Record) PredictResponse {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	prediction, err := s.predict(ctx, record)
	if err != nil {
		return errorResponse(err)
	}
	return newPredictResponse(prediction)
}

type healthResponse struct {
	Status    string `json:"status"`
	Artifacts string `json:"artifacts"`
	Features  int    `json:"features,omitempty"`
}

// handleHealth always answers 200; artifacts reports whether training has
// produced a usable schema yet.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Artifacts: "ready"}
	schema, err := s.deps.Predictor.Schema()
	switch {
	case err == nil:
		resp.Features = len(schema)
	case ml.IsArtifactMissing(err):
		resp.Artifacts = "missing"
	default:
		resp.Artifacts = "invalid"
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode health response failed", zap.Error(err))
	}
}

func respondJSON(w http.ResponseWriter, resp PredictResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}
