package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/reward"
	"github.com/TQyronStudio/SelfRiseV2-sub003/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET XP HISTORY QUERY
// Возвращает историю XP-транзакций пользователя: либо ленту последних
// транзакций, либо транзакции конкретного дня.
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// GetXPHistoryQuery содержит параметры запроса истории.
type GetXPHistoryQuery struct {
	// UserID - идентификатор пользователя.
	UserID string

	// Date - если задан, возвращаются транзакции этого дня.
	Date time.Time

	// Limit - максимум транзакций для ленты (без Date).
	Limit int
}

// Validate проверяет корректность параметров.
func (q *GetXPHistoryQuery) Validate() error {
	if q.UserID == "" {
		return shared.ErrInvalidID
	}
	if q.Limit <= 0 {
		q.Limit = defaultHistoryLimit
	}
	if q.Limit > maxHistoryLimit {
		q.Limit = maxHistoryLimit
	}
	return nil
}

// TransactionDTO - одна XP-транзакция.
type TransactionDTO struct {
	ID          string            `json:"id"`
	Amount      int               `json:"amount"`
	Source      shared.SourceKind `json:"source"`
	SourceID    string            `json:"source_id,omitempty"`
	Description string            `json:"description,omitempty"`
	Date        time.Time         `json:"date"`
	CreatedAt   time.Time         `json:"created_at"`
	IsReversal  bool              `json:"is_reversal"`
}

// XPHistoryDTO - история транзакций пользователя.
type XPHistoryDTO struct {
	UserID       string           `json:"user_id"`
	TotalXP      int              `json:"total_xp"`
	Transactions []TransactionDTO `json:"transactions"`
}

// GetXPHistoryHandler обрабатывает GetXPHistoryQuery.
type GetXPHistoryHandler struct {
	txRepo reward.Repository
	logger *slog.Logger
}

// NewGetXPHistoryHandler создаёт обработчик запроса истории.
func NewGetXPHistoryHandler(txRepo reward.Repository, logger *slog.Logger) *GetXPHistoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetXPHistoryHandler{
		txRepo: txRepo,
		logger: logger.With("query", "get_xp_history"),
	}
}

// Handle выполняет запрос.
func (h *GetXPHistoryHandler) Handle(ctx context.Context, q GetXPHistoryQuery) (*XPHistoryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		txs []*reward.XPTransaction
		err error
	)
	if q.Date.IsZero() {
		txs, err = h.txRepo.ListByUser(ctx, q.UserID, q.Limit)
	} else {
		txs, err = h.txRepo.ListByUserAndDate(ctx, q.UserID, q.Date)
	}
	if err != nil {
		return nil, err
	}

	total, err := h.txRepo.TotalXP(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	dto := &XPHistoryDTO{
		UserID:       q.UserID,
		TotalXP:      total,
		Transactions: make([]TransactionDTO, 0, len(txs)),
	}
	for _, tx := range txs {
		dto.Transactions = append(dto.Transactions, TransactionDTO{
			ID:          tx.ID,
			Amount:      tx.Amount,
			Source:      tx.Source,
			SourceID:    tx.SourceID,
			Description: tx.Description,
			Date:        tx.Date,
			CreatedAt:   tx.CreatedAt,
			IsReversal:  tx.IsReversal(),
		})
	}
	return dto, nil
}
