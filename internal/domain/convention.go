package domain

import "time"

// Status represents the lifecycle state of a convention.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusReadyToSign          Status = "READY_TO_SIGN"
	StatusPartiallySigned      Status = "PARTIALLY_SIGNED"
	StatusInReview             Status = "IN_REVIEW"
	StatusAcceptedByCounsellor Status = "ACCEPTED_BY_COUNSELLOR"
	StatusAcceptedByValidator  Status = "ACCEPTED_BY_VALIDATOR"
	StatusRejected             Status = "REJECTED"
	StatusCancelled            Status = "CANCELLED"
	StatusDeprecated           Status = "DEPRECATED"
)

// AllStatuses lists every lifecycle state. Adapters that must cover the
// whole vocabulary (wire mappings, API enums) iterate this slice so an
// added status cannot be silently skipped.
var AllStatuses = []Status{
	StatusDraft,
	StatusReadyToSign,
	StatusPartiallySigned,
	StatusInReview,
	StatusAcceptedByCounsellor,
	StatusAcceptedByValidator,
	StatusRejected,
	StatusCancelled,
	StatusDeprecated,
}

// Terminal reports whether no further transition may leave the status.
// ACCEPTED_BY_VALIDATOR is not terminal: a validated convention can
// still be cancelled or deprecated before the immersion completes.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusDeprecated:
		return true
	}
	return false
}

// RequiresJustification reports whether a convention in this status must
// carry a non-empty status justification.
func (s Status) RequiresJustification() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusDeprecated:
		return true
	}
	return false
}

// Role identifies the capacity in which an actor interacts with a
// convention. Signatory roles sign; agency roles review and validate.
type Role string

const (
	RoleBeneficiary                 Role = "beneficiary"
	RoleEstablishmentRepresentative Role = "establishment-representative"
	RoleBeneficiaryRepresentative   Role = "beneficiary-representative"
	RoleBeneficiaryCurrentEmployer  Role = "beneficiary-current-employer"
	RoleCounsellor                  Role = "counsellor"
	RoleValidator                   Role = "validator"
	RoleBackOffice                  Role = "back-office"
)

// Signatory reports whether the role is a signing party on the convention.
func (r Role) Signatory() bool {
	switch r {
	case RoleBeneficiary, RoleEstablishmentRepresentative,
		RoleBeneficiaryRepresentative, RoleBeneficiaryCurrentEmployer:
		return true
	}
	return false
}

// Actor is the authenticated party requesting an operation. AgencyID is
// only meaningful for agency roles (counsellor, validator).
type Actor struct {
	ID       string
	Role     Role
	AgencyID string
}

// Signatory is one signing party. SignedAt is nil until the party signs.
type Signatory struct {
	Role     Role       `json:"role"`
	Name     string     `json:"name"`
	SignedAt *time.Time `json:"signedAt,omitempty"`
}

// Signed reports whether the party has signed.
func (s Signatory) Signed() bool { return s.SignedAt != nil }

// Signatories is the fixed set of signing parties. Beneficiary and the
// establishment representative are always present; the two optional
// parties become mandatory once declared.
type Signatories struct {
	Beneficiary                 Signatory  `json:"beneficiary"`
	EstablishmentRepresentative Signatory  `json:"establishmentRepresentative"`
	BeneficiaryRepresentative   *Signatory `json:"beneficiaryRepresentative,omitempty"`
	BeneficiaryCurrentEmployer  *Signatory `json:"beneficiaryCurrentEmployer,omitempty"`
}

// ByRole returns the signatory holding the given role, or nil when that
// party is not declared on this convention.
func (s *Signatories) ByRole(r Role) *Signatory {
	switch r {
	case RoleBeneficiary:
		return &s.Beneficiary
	case RoleEstablishmentRepresentative:
		return &s.EstablishmentRepresentative
	case RoleBeneficiaryRepresentative:
		return s.BeneficiaryRepresentative
	case RoleBeneficiaryCurrentEmployer:
		return s.BeneficiaryCurrentEmployer
	}
	return nil
}

// mandatory returns the parties whose signature is required.
func (s *Signatories) mandatory() []*Signatory {
	out := []*Signatory{&s.Beneficiary, &s.EstablishmentRepresentative}
	if s.BeneficiaryRepresentative != nil {
		out = append(out, s.BeneficiaryRepresentative)
	}
	if s.BeneficiaryCurrentEmployer != nil {
		out = append(out, s.BeneficiaryCurrentEmployer)
	}
	return out
}

// AllSigned reports whether every mandatory signatory has signed.
func (s *Signatories) AllSigned() bool {
	for _, sig := range s.mandatory() {
		if !sig.Signed() {
			return false
		}
	}
	return true
}

// AnySigned reports whether at least one mandatory signatory has signed.
func (s *Signatories) AnySigned() bool {
	for _, sig := range s.mandatory() {
		if sig.Signed() {
			return true
		}
	}
	return false
}

// Beneficiary identifies the person undertaking the immersion period.
type Beneficiary struct {
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Birthdate time.Time `json:"birthdate"`
}

// Renewal is a non-owning back-reference to a previously validated
// convention this one renews. Lookup only, never containment.
type Renewal struct {
	FromID        string `json:"from"`
	Justification string `json:"justification"`
}

// Convention is the aggregate root: a tripartite agreement between a
// beneficiary, a host establishment, and a sponsoring agency.
type Convention struct {
	ID                  string
	Status              Status
	AgencyID            string
	Siret               string
	AppellationCode     string
	DateStart           time.Time
	DateEnd             time.Time
	Beneficiary         Beneficiary
	Signatories         Signatories
	Validators          []string
	StatusJustification string
	Renewed             *Renewal
	FederatedIdentity   string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewConventionParams carries the fields supplied at submission time.
type NewConventionParams struct {
	AgencyID          string
	Siret             string
	AppellationCode   string
	DateStart         time.Time
	DateEnd           time.Time
	Beneficiary       Beneficiary
	Signatories       Signatories
	FederatedIdentity string
	Renewed           *Renewal
}

// NewConvention creates a convention in the initial DRAFT state.
func NewConvention(id string, p NewConventionParams) Convention {
	now := time.Now().UTC()
	return Convention{
		ID:                id,
		Status:            StatusDraft,
		AgencyID:          p.AgencyID,
		Siret:             p.Siret,
		AppellationCode:   p.AppellationCode,
		DateStart:         p.DateStart,
		DateEnd:           p.DateEnd,
		Beneficiary:       p.Beneficiary,
		Signatories:       p.Signatories,
		FederatedIdentity: p.FederatedIdentity,
		Renewed:           p.Renewed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Transition defines a legal status change: the Requested status is
// reachable from any status in Src, by an actor holding one of Roles.
type Transition struct {
	Requested Status
	Src       []Status
	// Roles allowed to request the transition. AgencyScoped restricts
	// agency roles to the convention's own agency.
	Roles        []Role
	AgencyScoped bool
	// NeedsJustification requires a non-empty status justification.
	NeedsJustification bool
	// NeedsAllSignatures requires every mandatory signatory to have signed.
	NeedsAllSignatures bool
}

var (
	signatoryRoles = []Role{
		RoleBeneficiary,
		RoleEstablishmentRepresentative,
		RoleBeneficiaryRepresentative,
		RoleBeneficiaryCurrentEmployer,
	}
	agencyRoles = []Role{RoleCounsellor, RoleValidator}
)

// Transitions is the complete transition graph. Any (current, requested)
// pair not covered here is illegal. This is domain knowledge consumed by
// the FSM adapter.
var Transitions = []Transition{
	{
		Requested: StatusReadyToSign,
		Src:       []Status{StatusDraft},
		Roles:     signatoryRoles,
	},
	{
		Requested: StatusPartiallySigned,
		Src:       []Status{StatusReadyToSign},
		Roles:     signatoryRoles,
	},
	{
		Requested:          StatusInReview,
		Src:                []Status{StatusPartiallySigned},
		Roles:              signatoryRoles,
		NeedsAllSignatures: true,
	},
	{
		Requested:    StatusAcceptedByCounsellor,
		Src:          []Status{StatusInReview},
		Roles:        []Role{RoleCounsellor},
		AgencyScoped: true,
	},
	{
		Requested:          StatusAcceptedByValidator,
		Src:                []Status{StatusAcceptedByCounsellor},
		Roles:              []Role{RoleValidator},
		AgencyScoped:       true,
		NeedsAllSignatures: true,
	},
	{
		Requested: StatusRejected,
		Src: []Status{
			StatusDraft, StatusReadyToSign, StatusPartiallySigned,
			StatusInReview, StatusAcceptedByCounsellor,
		},
		Roles:              agencyRoles,
		AgencyScoped:       true,
		NeedsJustification: true,
	},
	{
		Requested: StatusCancelled,
		Src: []Status{
			StatusDraft, StatusReadyToSign, StatusPartiallySigned,
			StatusInReview, StatusAcceptedByCounsellor, StatusAcceptedByValidator,
		},
		Roles:              append(append([]Role{}, signatoryRoles...), RoleCounsellor, RoleValidator, RoleBackOffice),
		NeedsJustification: true,
	},
	{
		Requested: StatusDeprecated,
		Src: []Status{
			StatusDraft, StatusReadyToSign, StatusPartiallySigned,
			StatusInReview, StatusAcceptedByCounsellor, StatusAcceptedByValidator,
		},
		Roles:              []Role{RoleBackOffice},
		NeedsJustification: true,
	},
}

// TransitionTo returns the transition row targeting the requested status,
// or nil when no row exists.
func TransitionTo(requested Status) *Transition {
	for i := range Transitions {
		if Transitions[i].Requested == requested {
			return &Transitions[i]
		}
	}
	return nil
}
