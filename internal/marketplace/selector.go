package marketplace

import (
	"math"
	"strconv"

	"go.uber.org/zap"
)

type parsedOffer struct {
	offer    Offer
	price    float64
	minTrade float64
	maxTrade float64
	quantity float64
}

// SelectOffer 在报价列表中挑选能满足目标法币金额的最便宜报价。
// 条件：min ≤ desired ≤ max 且 desired/price ≤ tradableQuantity。
// 多个候选按单价升序取最低价，同价保持输入顺序。无候选返回 false，
// 这是正常的空结果而非错误，调用方应跳过本轮采购。
func SelectOffer(offers []Offer, desiredFiat float64, logger *zap.Logger) (Offer, bool) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var best *parsedOffer
	for _, offer := range offers {
		parsed, ok := parseOffer(offer, logger)
		if !ok {
			continue
		}

		if desiredFiat < parsed.minTrade || desiredFiat > parsed.maxTrade {
			continue
		}
		if desiredFiat/parsed.price > parsed.quantity {
			logger.Debug("报价库存不足",
				zap.String("seller", offer.SellerName),
				zap.Float64("price", parsed.price),
				zap.Float64("quantity", parsed.quantity),
			)
			continue
		}

		// 严格小于保证同价时保留先出现的报价
		if best == nil || parsed.price < best.price {
			candidate := parsed
			best = &candidate
		}
	}

	if best == nil {
		logger.Warn("没有满足目标金额的报价", zap.Float64("desired_fiat", desiredFiat))
		return Offer{}, false
	}

	logger.Info("已选定最优报价",
		zap.String("offer_id", best.offer.ID),
		zap.String("seller", best.offer.SellerName),
		zap.Float64("price", best.price),
		zap.Float64("desired_fiat", desiredFiat),
	)
	return best.offer, true
}

// parseOffer 解析字符串字段。单价非正或数值无法解析时跳过该条并告警，
// 不影响其余报价的筛选。
func parseOffer(offer Offer, logger *zap.Logger) (parsedOffer, bool) {
	price, err := strconv.ParseFloat(offer.Price, 64)
	if err != nil || price <= 0 {
		logger.Warn("跳过单价无效的报价",
			zap.String("offer_id", offer.ID),
			zap.String("price", offer.Price),
		)
		return parsedOffer{}, false
	}

	minTrade, err := strconv.ParseFloat(offer.MinTradeAmount, 64)
	if err != nil {
		logger.Warn("跳过限额无法解析的报价",
			zap.String("offer_id", offer.ID),
			zap.String("min_trade_amount", offer.MinTradeAmount),
		)
		return parsedOffer{}, false
	}

	maxTrade := math.Inf(1)
	if offer.MaxTradeAmount != "" {
		maxTrade, err = strconv.ParseFloat(offer.MaxTradeAmount, 64)
		if err != nil {
			logger.Warn("跳过限额无法解析的报价",
				zap.String("offer_id", offer.ID),
				zap.String("max_trade_amount", offer.MaxTradeAmount),
			)
			return parsedOffer{}, false
		}
	}

	quantity, err := strconv.ParseFloat(offer.TradableQuantity, 64)
	if err != nil {
		logger.Warn("跳过库存无法解析的报价",
			zap.String("offer_id", offer.ID),
			zap.String("tradable_quantity", offer.TradableQuantity),
		)
		return parsedOffer{}, false
	}

	return parsedOffer{
		offer:    offer,
		price:    price,
		minTrade: minTrade,
		maxTrade: maxTrade,
		quantity: quantity,
	}, true
}
