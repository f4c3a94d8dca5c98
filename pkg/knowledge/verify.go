package knowledge

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"github.com/theapemachine/a2a-core/pkg/a2a"
)

/*
Decision is a verifier's verdict on one proposed patch.  Rejected wins
over Pending; the zero value accepts the patch outright.
*/
type Decision struct {
	Rejected bool
	Pending  bool
	Reason   string
}

/*
Verifier judges proposed knowledge graph patches before the store
commits them.  Implementations may consult the statement's certainty
and provenance as well as the update's justification.  The store
aggregates per-patch decisions into the batch verification status it
reports back to the caller.
*/
type Verifier interface {
	Verify(
		ctx context.Context,
		patch a2a.KnowledgeGraphPatch,
		params a2a.KnowledgeUpdateParams,
	) Decision
}

/*
PolicyVerifier is the config-driven default Verifier.  It rejects
patches whose predicate sits on the deny list and defers assertions
for review when they fall below the configured certainty floor or
arrive without a justification where one is required.
*/
type PolicyVerifier struct {
	deniedPredicates     []string
	minCertainty         float64
	hasMinCertainty      bool
	requireJustification bool
}

func NewPolicyVerifier() *PolicyVerifier {
	return &PolicyVerifier{
		deniedPredicates:     viper.GetStringSlice("knowledge.policy.denied_predicates"),
		minCertainty:         viper.GetFloat64("knowledge.policy.min_certainty"),
		hasMinCertainty:      viper.IsSet("knowledge.policy.min_certainty"),
		requireJustification: viper.GetBool("knowledge.policy.require_justification"),
	}
}

func (verifier *PolicyVerifier) Verify(
	ctx context.Context,
	patch a2a.KnowledgeGraphPatch,
	params a2a.KnowledgeUpdateParams,
) Decision {
	if slices.Contains(verifier.deniedPredicates, patch.Statement.Predicate.ID) {
		return Decision{
			Rejected: true,
			Reason: fmt.Sprintf(
				"predicate %s is denied by policy", patch.Statement.Predicate.ID,
			),
		}
	}

	// Removals carry no new assertion, so certainty and justification
	// checks apply to add and replace only.
	if patch.Op == a2a.PatchOpRemove {
		return Decision{}
	}

	if verifier.hasMinCertainty {
		certainty := patch.Statement.Certainty

		if certainty == nil || *certainty < verifier.minCertainty {
			return Decision{
				Pending: true,
				Reason: fmt.Sprintf(
					"certainty below policy floor %.2f", verifier.minCertainty,
				),
			}
		}
	}

	if verifier.requireJustification {
		if params.Justification == nil || strings.TrimSpace(*params.Justification) == "" {
			return Decision{
				Pending: true,
				Reason:  "update carries no justification",
			}
		}
	}

	return Decision{}
}
