package dashboard

import (
	"math"
	"time"

	"github.com/rongwang/sts-clearance/internal/utils"
)

// HealthWeights are the relative contributions of the deal health components.
type HealthWeights struct {
	Documents float64
	Approvals float64
	Timeline  float64
}

// DefaultHealthWeights is the canonical 50/30/20 blend.
var DefaultHealthWeights = HealthWeights{Documents: 50, Approvals: 30, Timeline: 20}

// TimelineHorizonDays is the number of remaining days at which the timeline component reaches 100.
const TimelineHorizonDays = 7.0

// DealHealthCalculator scores a deal from its document, approval and timeline progress.
// It is the single health formula used by broker room listings and the pipeline summary.
type DealHealthCalculator struct {
	Weights HealthWeights
}

func NewDealHealthCalculator() DealHealthCalculator {
	return DealHealthCalculator{Weights: DefaultHealthWeights}
}

// Score blends the completion percentages with the timeline score. A nil
// daysRemaining drops the timeline component and renormalises the other weights.
func (c DealHealthCalculator) Score(docCompletion, approvalCompletion float64, daysRemaining *float64) float64 {
	w := c.Weights
	total := w.Documents*docCompletion + w.Approvals*approvalCompletion
	sum := w.Documents + w.Approvals
	if daysRemaining != nil {
		total += w.Timeline * TimelineScore(*daysRemaining)
		sum += w.Timeline
	}
	if sum <= 0 {
		return 0
	}
	return utils.Round2(utils.Clamp(total/sum, 0, 100))
}

// TimelineScore maps days until ETA onto [0, 100]; an overdue ETA scores 0.
func TimelineScore(daysRemaining float64) float64 {
	if daysRemaining <= 0 {
		return 0
	}
	return math.Min(100, daysRemaining/TimelineHorizonDays*100)
}

// DaysUntil returns the days between now and eta, negative once the ETA has passed.
func DaysUntil(eta *time.Time, now time.Time) *float64 {
	if eta == nil {
		return nil
	}
	d := utils.Round1(eta.Sub(now).Hours() / 24)
	return &d
}

// HealthStatus labels a score: healthy from 80, at_risk from 50, critical below.
func HealthStatus(score float64) string {
	switch {
	case score >= 80:
		return "healthy"
	case score >= 50:
		return "at_risk"
	}
	return "critical"
}
