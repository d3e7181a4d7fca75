// Package jury produces structured dispute verdicts.
package jury

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"marketescrow/internal/model"
)

// Evidence is one item the jury weighs, in submission order.
type Evidence struct {
	UploaderRole model.Role `json:"uploader_role"`
	MediaURL     string     `json:"media_url"`
	Description  string     `json:"description"`
	SubmittedAt  time.Time  `json:"submitted_at"`
}

// Precedent is a previously resolved dispute offered as context.
type Precedent struct {
	Reason  string              `json:"reason"`
	Outcome model.DisputeStatus `json:"outcome"`
	Verdict model.Verdict       `json:"verdict"`
}

// JudgeRequest is the full case presented to a jury.
type JudgeRequest struct {
	DisputeID       uuid.UUID   `json:"dispute_id"`
	Reason          string      `json:"reason"`
	ContractContext string      `json:"contract_context"`
	Evidence        []Evidence  `json:"evidence"`
	Precedents      []Precedent `json:"precedents"`
}

// Provider adjudicates a dispute.
type Provider interface {
	Judge(ctx context.Context, req JudgeRequest) (model.Verdict, error)
}

// Validate rejects verdicts outside the documented shape.
func Validate(v model.Verdict) error {
	switch v.Recommendation {
	case model.RecommendReleaseToProvider, model.RecommendRefundClient, model.RecommendSplit:
	default:
		return fmt.Errorf("jury: unknown recommendation %q", v.Recommendation)
	}
	switch v.Consensus {
	case model.ConsensusUnanimous, model.ConsensusMajority, model.ConsensusSplitDecision, model.ConsensusAppealed:
	default:
		return fmt.Errorf("jury: unknown consensus %q", v.Consensus)
	}
	if v.ConfidenceScore < 0 || v.ConfidenceScore > 100 {
		return fmt.Errorf("jury: confidence %d out of range", v.ConfidenceScore)
	}
	return nil
}
