package tracker

import "time"

// finalize computes the outcome and quality label of a trade in place
func finalize(trade *TradeRecord, exitPrice float64, reason string, closedAt time.Time) {
	var pnlPercent float64
	if trade.EntryPrice > 0 {
		if trade.PredictedDirection == DirectionUp {
			pnlPercent = (exitPrice - trade.EntryPrice) / trade.EntryPrice * 100
		} else {
			pnlPercent = (trade.EntryPrice - exitPrice) / trade.EntryPrice * 100
		}
	}

	leverage := trade.Leverage
	if leverage < 1 {
		leverage = 1
	}

	actual := DirectionDown
	if exitPrice > trade.EntryPrice {
		actual = DirectionUp
	}

	trade.ClosedAt = &closedAt
	trade.ExitPrice = exitPrice
	trade.PnLPercent = pnlPercent
	trade.PnLUSD = pnlPercent / 100 * trade.Size * float64(leverage)
	trade.ActualDirection = actual
	trade.WasCorrect = trade.PredictedDirection == actual
	trade.ExitReason = reason
	trade.DurationMinutes = closedAt.Sub(trade.OpenedAt).Minutes()

	trade.Quality, trade.ShouldRepeat, trade.Lessons = label(pnlPercent, trade.WasCorrect, trade.Confidence)
}

// label grades a realized outcome and notes what the decision got wrong
func label(pnlPercent float64, wasCorrect bool, confidence float64) (Quality, bool, []string) {
	var quality Quality
	var shouldRepeat bool
	var lessons []string

	switch {
	case pnlPercent > 2:
		quality, shouldRepeat = QualityExcellent, true
		lessons = append(lessons, "Strong profitable trade")
	case pnlPercent > 0.5:
		quality, shouldRepeat = QualityGood, true
		lessons = append(lessons, "Profitable trade")
	case pnlPercent > -0.5:
		quality = QualityNeutral
		lessons = append(lessons, "Small loss/break-even")
	case pnlPercent > -2:
		quality = QualityBad
		lessons = append(lessons, "Significant loss")
	default:
		quality = QualityTerrible
		lessons = append(lessons, "Major loss - avoid this pattern")
	}

	switch {
	case wasCorrect && pnlPercent < 0:
		lessons = append(lessons, "Right direction but exit too early")
	case !wasCorrect && confidence > 80:
		lessons = append(lessons, "Overconfident wrong prediction")
	case wasCorrect && confidence < 60:
		lessons = append(lessons, "Underconfident correct prediction")
	}

	return quality, shouldRepeat, lessons
}
