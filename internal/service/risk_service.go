package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/optiondesk/paperbot/internal/domain"
)

// RiskConfig holds the tunable parameters for pre-trade checks. Zero values
// disable the corresponding limit.
type RiskConfig struct {
	MaxOpenPositions     int
	MaxLotsPerOrder      int
	MaxMarginUtilization float64 // fraction of total margin capacity, 0..1
}

// RiskService validates open requests before they reach the ledger. Checks
// are pure: the caller passes the ledger state the decision needs.
type RiskService struct {
	cfg    RiskConfig
	logger *slog.Logger
}

// NewRiskService creates a RiskService.
func NewRiskService(cfg RiskConfig, logger *slog.Logger) *RiskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskService{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_service")),
	}
}

// CheckOpen validates one open request against structural rules and the
// configured limits. It returns a *domain.RiskViolationError describing the
// first failed check, or nil when all pass. The margin sufficiency check
// itself stays in the ledger core where it is atomic with the debit.
func (s *RiskService) CheckOpen(spec domain.OpenSpec, openCount int, acct domain.Account, now time.Time) error {
	if spec.Lots <= 0 {
		return &domain.RiskViolationError{
			Rule:   "lots",
			Detail: fmt.Sprintf("lots must be positive, got %d", spec.Lots),
		}
	}
	if spec.EntryPrice <= 0 {
		return &domain.RiskViolationError{
			Rule:   "entry_price",
			Detail: fmt.Sprintf("entry price must be positive, got %.2f", spec.EntryPrice),
		}
	}
	if spec.Kind != domain.OptionCall && spec.Kind != domain.OptionPut {
		return &domain.RiskViolationError{
			Rule:   "option_type",
			Detail: fmt.Sprintf("unknown option type %q", spec.Kind),
		}
	}
	if spec.Direction != domain.DirectionLong && spec.Direction != domain.DirectionShort {
		return &domain.RiskViolationError{
			Rule:   "direction",
			Detail: fmt.Sprintf("unknown direction %q", spec.Direction),
		}
	}
	if !spec.Expiry.IsZero() {
		y, m, d := now.Date()
		today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
		if spec.Expiry.Before(today) {
			return &domain.RiskViolationError{
				Rule:   "expiry",
				Detail: fmt.Sprintf("contract expired on %s", spec.Expiry.Format("2006-01-02")),
			}
		}
	}

	if s.cfg.MaxOpenPositions > 0 && openCount >= s.cfg.MaxOpenPositions {
		s.logger.Warn("max open positions reached",
			slog.Int("open", openCount),
			slog.Int("max", s.cfg.MaxOpenPositions),
		)
		return &domain.RiskViolationError{
			Rule:   "max_positions",
			Detail: fmt.Sprintf("open positions at limit (%d/%d)", openCount, s.cfg.MaxOpenPositions),
		}
	}
	if s.cfg.MaxLotsPerOrder > 0 && spec.Lots > s.cfg.MaxLotsPerOrder {
		return &domain.RiskViolationError{
			Rule:   "max_lots",
			Detail: fmt.Sprintf("%d lots exceeds per-order limit %d", spec.Lots, s.cfg.MaxLotsPerOrder),
		}
	}

	if s.cfg.MaxMarginUtilization > 0 {
		lotSize := spec.LotSize
		if lotSize == 0 {
			lotSize = domain.LotSize(spec.Symbol)
		}
		if lotSize == 0 {
			lotSize = 50
		}
		required := spec.EntryPrice * float64(spec.Lots*lotSize) * domain.MarginRate
		capacity := acct.AvailableMargin + acct.UsedMargin
		if capacity > 0 {
			utilization := (acct.UsedMargin + required) / capacity
			if utilization > s.cfg.MaxMarginUtilization {
				s.logger.Warn("margin utilization limit",
					slog.Float64("utilization", utilization),
					slog.Float64("max", s.cfg.MaxMarginUtilization),
				)
				return &domain.RiskViolationError{
					Rule:   "margin_utilization",
					Detail: fmt.Sprintf("would use %.0f%% of margin capacity, limit %.0f%%", utilization*100, s.cfg.MaxMarginUtilization*100),
				}
			}
		}
	}

	return nil
}
