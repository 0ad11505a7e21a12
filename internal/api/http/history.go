package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	blerrors "github.com/blocklog/blocklog/internal/errors"
	"github.com/blocklog/blocklog/pkg/types"
)

// HistoryReader answers location history queries.
type HistoryReader interface {
	RecentActionsAt(ctx context.Context, pos types.BlockPos, limit int) ([]types.LogEntry, error)
	ContainerHistoryAt(ctx context.Context, pos types.BlockPos, limit int) ([]types.ContainerTransaction, error)
}

// MaxLimit caps the limit query parameter.
const MaxLimit = 1000

// ActionView is a LogEntry with the action spelled out.
type ActionView struct {
	types.LogEntry
	ActionName string `json:"action_name"`
	CauseName  string `json:"cause_name,omitempty"`
}

// HistoryResponse is returned by GET /v1/history.
type HistoryResponse struct {
	Pos       types.BlockPos `json:"pos"`
	Entries   []ActionView   `json:"entries"`
	RequestID string         `json:"request_id"`
}

// ContainerResponse is returned by GET /v1/containers.
type ContainerResponse struct {
	Pos          types.BlockPos               `json:"pos"`
	Transactions []types.ContainerTransaction `json:"transactions"`
	RequestID    string                       `json:"request_id"`
}

// HistoryHandler serves GET /v1/history.
type HistoryHandler struct {
	reader       HistoryReader
	defaultLimit int
	logger       *zap.Logger
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(reader HistoryReader, defaultLimit int, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{reader: reader, defaultLimit: defaultLimit, logger: logger}
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	pos, limit, err := parseLocation(r, h.defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	entries, err := h.reader.RecentActionsAt(r.Context(), pos, limit)
	if err != nil {
		h.logger.Warn("history query failed",
			zap.String("request_id", requestID), zap.Stringer("pos", pos), zap.Error(err))
		writeError(w, statusFor(err), "history query failed", requestID)
		return
	}

	views := make([]ActionView, 0, len(entries))
	for _, e := range entries {
		v := ActionView{LogEntry: e, ActionName: e.Action.String()}
		if e.Cause != types.CauseUnknown {
			v.CauseName = e.Cause.String()
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Pos: pos, Entries: views, RequestID: requestID})
}

// ContainerHandler serves GET /v1/containers.
type ContainerHandler struct {
	reader       HistoryReader
	defaultLimit int
	logger       *zap.Logger
}

// NewContainerHandler creates a container history handler.
func NewContainerHandler(reader HistoryReader, defaultLimit int, logger *zap.Logger) *ContainerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContainerHandler{reader: reader, defaultLimit: defaultLimit, logger: logger}
}

func (h *ContainerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	pos, limit, err := parseLocation(r, h.defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	txns, err := h.reader.ContainerHistoryAt(r.Context(), pos, limit)
	if err != nil {
		h.logger.Warn("container query failed",
			zap.String("request_id", requestID), zap.Stringer("pos", pos), zap.Error(err))
		writeError(w, statusFor(err), "container query failed", requestID)
		return
	}
	if txns == nil {
		txns = []types.ContainerTransaction{}
	}
	writeJSON(w, http.StatusOK, ContainerResponse{Pos: pos, Transactions: txns, RequestID: requestID})
}

func parseLocation(r *http.Request, defaultLimit int) (types.BlockPos, int, error) {
	q := r.URL.Query()

	pos := types.BlockPos{World: q.Get("world")}
	if pos.World == "" {
		return pos, 0, fmt.Errorf("world is required")
	}

	coords := []struct {
		name string
		dst  *int
	}{{"x", &pos.X}, {"y", &pos.Y}, {"z", &pos.Z}}
	for _, c := range coords {
		raw := q.Get(c.name)
		if raw == "" {
			return pos, 0, fmt.Errorf("%s is required", c.name)
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return pos, 0, fmt.Errorf("invalid %s: %q", c.name, raw)
		}
		*c.dst = v
	}

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return pos, 0, fmt.Errorf("invalid limit: %q", raw)
		}
		limit = min(v, MaxLimit)
	}
	return pos, limit, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, blerrors.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, blerrors.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
