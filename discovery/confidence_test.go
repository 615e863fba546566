package discovery

import (
	"testing"

	"github.com/adrata/crm_backend/models"
)

func TestMemberConfidenceBlend(t *testing.T) {
	member := &models.BuyerGroupMember{Score: 80}
	// Title + department + email + network populated: completeness 1.0.
	candidate := models.Candidate{
		Title:       "CEO",
		Department:  "Executive",
		Email:       "ceo@acme.com",
		Connections: 500,
	}

	single := MemberConfidence(member, candidate, false)
	expected := roundScore(0.6*80 + 0.3*100)
	if single != expected {
		t.Fatalf("single-source confidence expected %.2f, got %.2f", expected, single)
	}

	multi := MemberConfidence(member, candidate, true)
	if multi != roundScore(expected+10) {
		t.Fatalf("agreement bonus expected %.2f, got %.2f", expected+10, multi)
	}
	if multi <= single {
		t.Fatal("cross-source agreement must raise confidence")
	}
}

func TestMemberConfidenceIncompleteData(t *testing.T) {
	member := &models.BuyerGroupMember{Score: 80}
	sparse := models.Candidate{Title: "CEO"} // completeness 0.25

	full := MemberConfidence(member, models.Candidate{
		Title: "CEO", Department: "Executive", Email: "x@y.com", Connections: 100,
	}, false)
	partial := MemberConfidence(member, sparse, false)
	if partial >= full {
		t.Fatalf("less complete data must lower confidence: partial=%.2f full=%.2f", partial, full)
	}
}

func TestOverallConfidenceEmptyGroup(t *testing.T) {
	if got := OverallConfidence(nil, nil); got != 0 {
		t.Fatalf("empty group must have confidence 0, got %.2f", got)
	}
	// Even with an unresolved critical role, empty stays exactly 0.
	if got := OverallConfidence(nil, []models.BuyerGroupRole{models.BuyerGroupRoleDecisionMaker}); got != 0 {
		t.Fatalf("empty group must have confidence 0, got %.2f", got)
	}
}

func TestOverallConfidencePenalties(t *testing.T) {
	members := []*models.BuyerGroupMember{
		{Confidence: 80},
		{Confidence: 60},
	}

	base := OverallConfidence(members, nil)
	if base != 70 {
		t.Fatalf("expected mean 70, got %.2f", base)
	}

	noDM := OverallConfidence(members, []models.BuyerGroupRole{models.BuyerGroupRoleDecisionMaker})
	if noDM != 35 {
		t.Fatalf("missing decision maker must halve confidence, got %.2f", noDM)
	}

	noChampion := OverallConfidence(members, []models.BuyerGroupRole{models.BuyerGroupRoleChampion})
	if noChampion != roundScore(70*0.75) {
		t.Fatalf("missing mandatory champion must multiply by 0.75, got %.2f", noChampion)
	}

	both := OverallConfidence(members, []models.BuyerGroupRole{
		models.BuyerGroupRoleDecisionMaker,
		models.BuyerGroupRoleChampion,
	})
	if both != roundScore(70*0.5*0.75) {
		t.Fatalf("both penalties must stack, got %.2f", both)
	}
}
