package engine

import (
	"fmt"
	"strings"

	"papertrade/internal/domain"
)

// Rejection codes. Each check has its own code so rejections can be counted
// by cause.
const (
	CodeBuyingPower     = "buying_power"
	CodeMaxRisk         = "max_risk"
	CodeMaxPositions    = "max_positions"
	CodeConcentration   = "concentration"
	CodePDT             = "pdt"
	CodeAccountNotFound = "account_not_found"
	CodeNoPosition      = "no_position"
	CodeLimitPrice      = "limit_price"
	CodeStorage         = "storage"
)

// RiskConfig holds the pre-trade limits.
type RiskConfig struct {
	ContractMultiplier float64
	MaxRiskPerTrade    float64
	MaxPositions       int
	MaxSingleSymbolPct float64
}

// ProposedOrder is the order as seen by the risk checks. Price is the
// reference price used to cost the order.
type ProposedOrder struct {
	Side   domain.OrderSide
	Symbol string
	Qty    int64
	Price  float64
}

// Decision is the result of a risk check. Reason embeds the numbers that
// drove a rejection.
type Decision struct {
	Allowed bool
	Code    string
	Reason  string
	Cost    float64
	Values  map[string]float64
}

func allow(cost float64) Decision {
	return Decision{Allowed: true, Cost: cost}
}

func deny(code, reason string, cost float64, values map[string]float64) Decision {
	return Decision{Code: code, Reason: reason, Cost: cost, Values: values}
}

// RiskManager enforces pre-trade rules. CheckOrder is a pure function of its
// arguments and the configuration.
type RiskManager struct {
	cfg RiskConfig
	pdt *PDTLimiter
}

// NewRiskManager creates a RiskManager. pdt gates orders flagged as day
// trades.
func NewRiskManager(cfg RiskConfig, pdt *PDTLimiter) *RiskManager {
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = domain.DefaultContractMultiplier
	}
	return &RiskManager{cfg: cfg, pdt: pdt}
}

// Config returns the risk limits.
func (rm *RiskManager) Config() RiskConfig { return rm.cfg }

// Equity returns cash plus unrealized P&L over positions.
func Equity(acct *domain.Account, positions []domain.Position, multiplier float64) float64 {
	return domain.AddMoney(acct.Cash, UnrealizedPnL(positions, multiplier))
}

// UnrealizedPnL sums (current − avg) × qty × multiplier over positions.
func UnrealizedPnL(positions []domain.Position, multiplier float64) float64 {
	var total float64
	for _, p := range positions {
		total = domain.AddMoney(total, domain.Notional(p.CurrentPrice-p.AvgPrice, p.Qty, multiplier))
	}
	return total
}

// marketValue returns the stored market value, recomputing it when absent.
func marketValue(p domain.Position, multiplier float64) float64 {
	if p.MarketValue > 0 {
		return p.MarketValue
	}
	return domain.Notional(p.CurrentPrice, p.Qty, multiplier)
}

// CheckOrder runs the checks in a fixed order and stops at the first
// failure:
//
//  1. buying power (buys)
//  2. max risk per trade (buys)
//  3. max concurrent positions (buys)
//  4. symbol concentration (buys, positive equity only)
//  5. PDT window (orders flagged as day trades)
//
// Sells skip checks 1-4.
func (rm *RiskManager) CheckOrder(acct *domain.Account, order ProposedOrder, positions []domain.Position, isDayTrade bool) Decision {
	mult := rm.cfg.ContractMultiplier
	cost := domain.Notional(order.Price, order.Qty, mult)

	if order.Side == domain.OrderSideBuy {
		if cost > acct.BuyingPower {
			return deny(CodeBuyingPower,
				fmt.Sprintf("Insufficient buying power: order cost $%.2f exceeds buying power $%.2f", cost, acct.BuyingPower),
				cost, map[string]float64{"cost": cost, "buying_power": acct.BuyingPower})
		}

		if cost > rm.cfg.MaxRiskPerTrade {
			return deny(CodeMaxRisk,
				fmt.Sprintf("Order cost $%.2f exceeds max risk per trade $%.2f", cost, rm.cfg.MaxRiskPerTrade),
				cost, map[string]float64{"cost": cost, "max_risk_per_trade": rm.cfg.MaxRiskPerTrade})
		}

		if len(positions) >= rm.cfg.MaxPositions {
			return deny(CodeMaxPositions,
				fmt.Sprintf("Max positions reached: %d open positions, limit %d", len(positions), rm.cfg.MaxPositions),
				cost, map[string]float64{"open_positions": float64(len(positions)), "max_positions": float64(rm.cfg.MaxPositions)})
		}

		equity := Equity(acct, positions, mult)
		if equity > 0 {
			underlying := domain.UnderlyingOf(order.Symbol)
			var existing float64
			for _, p := range positions {
				if strings.EqualFold(p.Symbol, order.Symbol) || domain.UnderlyingOf(p.Symbol) == underlying {
					existing += marketValue(p, mult)
				}
			}
			pct := (existing + cost) / equity * 100
			if pct > rm.cfg.MaxSingleSymbolPct {
				return deny(CodeConcentration,
					fmt.Sprintf("Concentration limit: %s exposure $%.2f would be %.1f%% of equity $%.2f, max %.1f%%",
						underlying, existing+cost, pct, equity, rm.cfg.MaxSingleSymbolPct),
					cost, map[string]float64{"exposure": existing + cost, "equity": equity, "pct": pct, "max_pct": rm.cfg.MaxSingleSymbolPct})
			}
		}
	}

	if isDayTrade && rm.pdt != nil {
		st := rm.pdt.Status(acct.DayTrades)
		if !st.CanDayTrade {
			reason := fmt.Sprintf("PDT limit reached: %d of %d day trades used in the last %d trading days",
				st.DayTradeCount, st.MaxAllowed, rm.pdt.Config().WindowDays)
			if st.NextExpiry != nil {
				reason += fmt.Sprintf("; next slot opens %s", st.NextExpiry.Format("2006-01-02"))
			}
			return deny(CodePDT, reason, cost,
				map[string]float64{"day_trade_count": float64(st.DayTradeCount), "max_day_trades": float64(st.MaxAllowed)})
		}
	}

	return allow(cost)
}
