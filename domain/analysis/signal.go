package analysis

// SignalTier communicates the research maturity of a protocol's results.
// It is a pure function of participant count and data quality and is never
// persisted independently of the AnalysisResult that produced it.
type SignalTier string

const (
	TierInsufficient SignalTier = "INSUFFICIENT"
	TierPreliminary  SignalTier = "PRELIMINARY"
	TierEmerging     SignalTier = "EMERGING"
	TierStrong       SignalTier = "STRONG"
)

// Participant-count boundaries between tiers.
const (
	preliminaryMinParticipants = 10
	emergingMinParticipants    = 26
	strongMinParticipants      = 51
)

// QualityFloor is the data quality score below which tiers above
// PRELIMINARY are downgraded one level.
const QualityFloor = 50.0

// rank orders tiers for downgrade arithmetic
var tierRank = map[SignalTier]int{
	TierInsufficient: 0,
	TierPreliminary:  1,
	TierEmerging:     2,
	TierStrong:       3,
}

var tierByRank = []SignalTier{TierInsufficient, TierPreliminary, TierEmerging, TierStrong}

// Rank returns the ordinal position of the tier (INSUFFICIENT=0 .. STRONG=3).
func (t SignalTier) Rank() int { return tierRank[t] }

// ClassifySignal maps participant count and data quality score to a tier.
// The count-based tier is computed first; the quality floor then downgrades
// any tier above PRELIMINARY by one level. The downgrade is deliberately not
// folded into the count thresholds.
func ClassifySignal(participantCount int, dataQualityScore float64) SignalTier {
	var tier SignalTier
	switch {
	case participantCount < preliminaryMinParticipants:
		tier = TierInsufficient
	case participantCount < emergingMinParticipants:
		tier = TierPreliminary
	case participantCount < strongMinParticipants:
		tier = TierEmerging
	default:
		tier = TierStrong
	}

	if dataQualityScore < QualityFloor && tier.Rank() > tierRank[TierPreliminary] {
		tier = tierByRank[tier.Rank()-1]
	}
	return tier
}
