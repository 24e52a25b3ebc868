package domain_test

import (
	"testing"
	"time"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

func testParams() domain.NewConventionParams {
	return domain.NewConventionParams{
		AgencyID:        "agency-1",
		Siret:           "12345678901234",
		AppellationCode: "11573",
		DateStart:       time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		DateEnd:         time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		Beneficiary: domain.Beneficiary{
			FirstName: "Jeanne",
			LastName:  "Durand",
			Email:     "jeanne.durand@example.com",
			Birthdate: time.Date(1998, 7, 12, 0, 0, 0, 0, time.UTC),
		},
		Signatories: domain.Signatories{
			Beneficiary:                 domain.Signatory{Role: domain.RoleBeneficiary, Name: "Jeanne Durand"},
			EstablishmentRepresentative: domain.Signatory{Role: domain.RoleEstablishmentRepresentative, Name: "Paul Martin"},
		},
	}
}

func TestNewConvention(t *testing.T) {
	before := time.Now().UTC()
	c := domain.NewConvention("id-1", testParams())
	after := time.Now().UTC()

	if c.ID != "id-1" {
		t.Errorf("ID = %q, want %q", c.ID, "id-1")
	}
	if c.Status != domain.StatusDraft {
		t.Errorf("Status = %q, want %q", c.Status, domain.StatusDraft)
	}
	if c.AgencyID != "agency-1" {
		t.Errorf("AgencyID = %q, want %q", c.AgencyID, "agency-1")
	}
	if c.CreatedAt.Before(before) || c.CreatedAt.After(after) {
		t.Errorf("CreatedAt = %v, want between %v and %v", c.CreatedAt, before, after)
	}
	if c.UpdatedAt != c.CreatedAt {
		t.Errorf("UpdatedAt should equal CreatedAt on a new convention")
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[domain.Status]bool{
		domain.StatusRejected:   true,
		domain.StatusCancelled:  true,
		domain.StatusDeprecated: true,
	}
	for _, s := range domain.AllStatuses {
		if got := s.Terminal(); got != terminal[s] {
			t.Errorf("%q.Terminal() = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestStatus_RequiresJustification(t *testing.T) {
	for _, s := range domain.AllStatuses {
		want := s == domain.StatusRejected || s == domain.StatusCancelled || s == domain.StatusDeprecated
		if got := s.RequiresJustification(); got != want {
			t.Errorf("%q.RequiresJustification() = %v, want %v", s, got, want)
		}
	}
}

func TestTransitions_NoTransitionLeavesTerminalState(t *testing.T) {
	for _, tr := range domain.Transitions {
		for _, src := range tr.Src {
			if src.Terminal() {
				t.Errorf("transition to %q allows terminal source %q", tr.Requested, src)
			}
		}
	}
}

func TestTransitions_JustificationStatusesRequireIt(t *testing.T) {
	for _, tr := range domain.Transitions {
		if tr.Requested.RequiresJustification() && !tr.NeedsJustification {
			t.Errorf("transition to %q should require a justification", tr.Requested)
		}
	}
}

func TestTransitionTo(t *testing.T) {
	if tr := domain.TransitionTo(domain.StatusAcceptedByValidator); tr == nil {
		t.Fatal("expected a transition row for ACCEPTED_BY_VALIDATOR")
	} else if !tr.NeedsAllSignatures {
		t.Error("ACCEPTED_BY_VALIDATOR must require all signatures")
	}

	if tr := domain.TransitionTo(domain.StatusDraft); tr != nil {
		t.Errorf("no transition should target DRAFT, got %+v", tr)
	}
}

func TestSignatories_AllSigned(t *testing.T) {
	now := time.Now().UTC()

	s := domain.Signatories{
		Beneficiary:                 domain.Signatory{Role: domain.RoleBeneficiary},
		EstablishmentRepresentative: domain.Signatory{Role: domain.RoleEstablishmentRepresentative, SignedAt: &now},
	}
	if s.AllSigned() {
		t.Error("AllSigned() = true with unsigned beneficiary")
	}
	if !s.AnySigned() {
		t.Error("AnySigned() = false with one signature")
	}

	s.Beneficiary.SignedAt = &now
	if !s.AllSigned() {
		t.Error("AllSigned() = false with both mandatory parties signed")
	}

	// A declared optional signatory becomes mandatory.
	s.BeneficiaryRepresentative = &domain.Signatory{Role: domain.RoleBeneficiaryRepresentative}
	if s.AllSigned() {
		t.Error("AllSigned() = true with unsigned declared representative")
	}
	s.BeneficiaryRepresentative.SignedAt = &now
	if !s.AllSigned() {
		t.Error("AllSigned() = false with every declared party signed")
	}
}

func TestSignatories_ByRole(t *testing.T) {
	s := domain.Signatories{
		Beneficiary:                 domain.Signatory{Role: domain.RoleBeneficiary},
		EstablishmentRepresentative: domain.Signatory{Role: domain.RoleEstablishmentRepresentative},
	}

	if got := s.ByRole(domain.RoleBeneficiary); got == nil {
		t.Error("ByRole(beneficiary) = nil")
	}
	if got := s.ByRole(domain.RoleBeneficiaryCurrentEmployer); got != nil {
		t.Errorf("ByRole(undeclared employer) = %+v, want nil", got)
	}
	if got := s.ByRole(domain.RoleValidator); got != nil {
		t.Errorf("ByRole(validator) = %+v, want nil", got)
	}
}

func TestRole_Signatory(t *testing.T) {
	signing := []domain.Role{
		domain.RoleBeneficiary,
		domain.RoleEstablishmentRepresentative,
		domain.RoleBeneficiaryRepresentative,
		domain.RoleBeneficiaryCurrentEmployer,
	}
	for _, r := range signing {
		if !r.Signatory() {
			t.Errorf("%q.Signatory() = false", r)
		}
	}
	for _, r := range []domain.Role{domain.RoleCounsellor, domain.RoleValidator, domain.RoleBackOffice} {
		if r.Signatory() {
			t.Errorf("%q.Signatory() = true", r)
		}
	}
}
