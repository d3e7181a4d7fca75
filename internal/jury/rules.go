package jury

import (
	"context"
	"fmt"

	"marketescrow/internal/model"
)

// RulesProvider is a deterministic jury for demo and test deployments. It
// weighs the volume of evidence each side submitted.
type RulesProvider struct{}

// NewRulesProvider creates a rule-based jury.
func NewRulesProvider() *RulesProvider { return &RulesProvider{} }

func (RulesProvider) Judge(ctx context.Context, req JudgeRequest) (model.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return model.Verdict{}, err
	}
	var fromProvider, fromClient int
	for _, e := range req.Evidence {
		switch e.UploaderRole {
		case model.RoleProvider:
			fromProvider++
		case model.RoleClient:
			fromClient++
		}
	}

	diff := fromProvider - fromClient
	v := model.Verdict{}
	switch {
	case diff > 0:
		v.Recommendation = model.RecommendReleaseToProvider
	case diff < 0:
		v.Recommendation = model.RecommendRefundClient
		diff = -diff
	default:
		v.Recommendation = model.RecommendSplit
	}
	switch {
	case diff == 0:
		v.Consensus = model.ConsensusSplitDecision
	case diff == 1:
		v.Consensus = model.ConsensusMajority
	default:
		v.Consensus = model.ConsensusUnanimous
	}
	v.ConfidenceScore = 50 + 15*diff
	if v.ConfidenceScore > 95 {
		v.ConfidenceScore = 95
	}
	v.Reasoning = fmt.Sprintf("provider submitted %d item(s), client submitted %d item(s)", fromProvider, fromClient)
	return v, nil
}
