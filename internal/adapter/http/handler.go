package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/gip-inclusion/immersion-facile-sub021/internal/app"
	"github.com/gip-inclusion/immersion-facile-sub021/internal/domain"
)

// ActorParams carries the authenticated caller's identity. Authentication
// itself happens upstream; these headers are the trusted result.
type ActorParams struct {
	ActorID  string `header:"X-Actor-ID" doc:"Authenticated actor identifier"`
	Role     string `header:"X-Actor-Role" doc:"Actor role (beneficiary, establishment-representative, counsellor, validator, back-office, ...)"`
	AgencyID string `header:"X-Agency-ID" required:"false" doc:"Agency the actor acts for (agency roles only)"`
}

func (p ActorParams) actor() domain.Actor {
	return domain.Actor{ID: p.ActorID, Role: domain.Role(p.Role), AgencyID: p.AgencyID}
}

// SignatoryBody is one signing party in a submission.
type SignatoryBody struct {
	Name string `json:"name" minLength:"1" doc:"Full name of the signing party"`
}

// ConventionResponse is the API representation of a convention.
type ConventionResponse struct {
	ID                  string              `json:"id" doc:"Unique identifier"`
	Status              string              `json:"status" doc:"Lifecycle state"`
	AgencyID            string              `json:"agencyId" doc:"Sponsoring agency"`
	Siret               string              `json:"siret" doc:"Host establishment SIRET"`
	AppellationCode     string              `json:"appellationCode" doc:"Immersion job appellation code"`
	DateStart           time.Time           `json:"dateStart" doc:"Immersion start"`
	DateEnd             time.Time           `json:"dateEnd" doc:"Immersion end"`
	Beneficiary         BeneficiaryResponse `json:"beneficiary"`
	Signatures          map[string]bool     `json:"signatures" doc:"Signature state per declared party"`
	Validators          []string            `json:"validators,omitempty" doc:"Names recorded at validation"`
	StatusJustification string              `json:"statusJustification,omitempty"`
	RenewedFrom         string              `json:"renewedFrom,omitempty" doc:"Convention this one renews"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

type BeneficiaryResponse struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
}

func toConventionResponse(c domain.Convention) ConventionResponse {
	signatures := map[string]bool{
		string(domain.RoleBeneficiary):                 c.Signatories.Beneficiary.Signed(),
		string(domain.RoleEstablishmentRepresentative): c.Signatories.EstablishmentRepresentative.Signed(),
	}
	if s := c.Signatories.BeneficiaryRepresentative; s != nil {
		signatures[string(domain.RoleBeneficiaryRepresentative)] = s.Signed()
	}
	if s := c.Signatories.BeneficiaryCurrentEmployer; s != nil {
		signatures[string(domain.RoleBeneficiaryCurrentEmployer)] = s.Signed()
	}

	resp := ConventionResponse{
		ID:              c.ID,
		Status:          string(c.Status),
		AgencyID:        c.AgencyID,
		Siret:           c.Siret,
		AppellationCode: c.AppellationCode,
		DateStart:       c.DateStart,
		DateEnd:         c.DateEnd,
		Beneficiary: BeneficiaryResponse{
			FirstName: c.Beneficiary.FirstName,
			LastName:  c.Beneficiary.LastName,
			Email:     c.Beneficiary.Email,
		},
		Signatures:          signatures,
		Validators:          c.Validators,
		StatusJustification: c.StatusJustification,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
	if c.Renewed != nil {
		resp.RenewedFrom = c.Renewed.FromID
	}
	return resp
}

// --- Create ---

type CreateConventionBody struct {
	AgencyID        string    `json:"agencyId" minLength:"1" doc:"Sponsoring agency"`
	Siret           string    `json:"siret" minLength:"14" maxLength:"14" doc:"Host establishment SIRET"`
	AppellationCode string    `json:"appellationCode" minLength:"1" doc:"Immersion job appellation code"`
	DateStart       time.Time `json:"dateStart"`
	DateEnd         time.Time `json:"dateEnd"`
	Beneficiary     struct {
		FirstName string    `json:"firstName" minLength:"1"`
		LastName  string    `json:"lastName" minLength:"1"`
		Email     string    `json:"email,omitempty" format:"email"`
		Birthdate time.Time `json:"birthdate"`
	} `json:"beneficiary"`
	Signatories struct {
		Beneficiary                 SignatoryBody  `json:"beneficiary"`
		EstablishmentRepresentative SignatoryBody  `json:"establishmentRepresentative"`
		BeneficiaryRepresentative   *SignatoryBody `json:"beneficiaryRepresentative,omitempty"`
		BeneficiaryCurrentEmployer  *SignatoryBody `json:"beneficiaryCurrentEmployer,omitempty"`
	} `json:"signatories"`
	FederatedIdentity string `json:"federatedIdentity,omitempty" doc:"External identity token (France Travail Connect)"`
}

func (b CreateConventionBody) params() domain.NewConventionParams {
	signatories := domain.Signatories{
		Beneficiary: domain.Signatory{
			Role: domain.RoleBeneficiary,
			Name: b.Signatories.Beneficiary.Name,
		},
		EstablishmentRepresentative: domain.Signatory{
			Role: domain.RoleEstablishmentRepresentative,
			Name: b.Signatories.EstablishmentRepresentative.Name,
		},
	}
	if s := b.Signatories.BeneficiaryRepresentative; s != nil {
		signatories.BeneficiaryRepresentative = &domain.Signatory{
			Role: domain.RoleBeneficiaryRepresentative,
			Name: s.Name,
		}
	}
	if s := b.Signatories.BeneficiaryCurrentEmployer; s != nil {
		signatories.BeneficiaryCurrentEmployer = &domain.Signatory{
			Role: domain.RoleBeneficiaryCurrentEmployer,
			Name: s.Name,
		}
	}

	return domain.NewConventionParams{
		AgencyID:        b.AgencyID,
		Siret:           b.Siret,
		AppellationCode: b.AppellationCode,
		DateStart:       b.DateStart,
		DateEnd:         b.DateEnd,
		Beneficiary: domain.Beneficiary{
			FirstName: b.Beneficiary.FirstName,
			LastName:  b.Beneficiary.LastName,
			Email:     b.Beneficiary.Email,
			Birthdate: b.Beneficiary.Birthdate,
		},
		Signatories:       signatories,
		FederatedIdentity: b.FederatedIdentity,
	}
}

type CreateConventionInput struct {
	Body CreateConventionBody
}

type CreateConventionOutput struct {
	Body struct {
		Convention ConventionResponse `json:"convention"`
		SimilarIDs []string           `json:"similarIds,omitempty" doc:"Likely duplicates, advisory only"`
	}
}

// --- Get / List ---

type GetConventionInput struct {
	ID string `path:"id" doc:"Convention ID"`
}

type GetConventionOutput struct {
	Body ConventionResponse
}

type ListConventionsInput struct {
	Status   string `query:"status" required:"false" doc:"Filter by lifecycle state"`
	AgencyID string `query:"agencyId" required:"false" doc:"Filter by sponsoring agency"`
	Limit    int    `query:"limit" required:"false" default:"50" doc:"Max results"`
	Offset   int    `query:"offset" required:"false" default:"0" doc:"Pagination offset"`
}

type ListConventionsOutput struct {
	Body []ConventionResponse
}

// --- Sign ---

type SignConventionInput struct {
	ActorParams
	ID string `path:"id" doc:"Convention ID"`
}

type SignConventionOutput struct {
	Body ConventionResponse
}

// --- Status transition ---

type TransitionInput struct {
	ActorParams
	ID   string `path:"id" doc:"Convention ID"`
	Body struct {
		Status        string `json:"status" doc:"Requested lifecycle state" enum:"READY_TO_SIGN,IN_REVIEW,ACCEPTED_BY_COUNSELLOR,ACCEPTED_BY_VALIDATOR,REJECTED,CANCELLED,DEPRECATED"`
		Justification string `json:"justification,omitempty" doc:"Required for REJECTED, CANCELLED and DEPRECATED"`
		ValidatorName string `json:"validatorName,omitempty" doc:"Recorded when validating"`
	}
}

type TransitionOutput struct {
	Body ConventionResponse
}

// --- Renew ---

type RenewConventionInput struct {
	ID   string `path:"id" doc:"Validated convention to renew"`
	Body struct {
		Justification string               `json:"justification" minLength:"1" doc:"Why the immersion is renewed"`
		Convention    CreateConventionBody `json:"convention"`
	}
}

type RenewConventionOutput struct {
	Body struct {
		Convention ConventionResponse `json:"convention"`
		SimilarIDs []string           `json:"similarIds,omitempty"`
	}
}

// --- Similarity probe ---

type FindSimilarInput struct {
	Siret           string    `query:"siret" minLength:"14" maxLength:"14"`
	AppellationCode string    `query:"appellationCode" minLength:"1"`
	LastName        string    `query:"beneficiaryLastName" minLength:"1"`
	Birthdate       time.Time `query:"beneficiaryBirthdate"`
	DateStart       time.Time `query:"dateStart"`
}

type FindSimilarOutput struct {
	Body struct {
		SimilarIDs []string `json:"similarIds"`
	}
}

// --- Quarantine ---

type ListQuarantinedInput struct {
	Limit int `query:"limit" required:"false" default:"50" doc:"Max results"`
}

type QuarantinedEventResponse struct {
	ID             string    `json:"id"`
	Topic          string    `json:"topic"`
	ConventionID   string    `json:"conventionId"`
	OccurredAt     time.Time `json:"occurredAt"`
	AttemptCount   int       `json:"attemptCount"`
	LastError      string    `json:"lastError,omitempty"`
	FeedbackStatus int       `json:"feedbackStatus,omitempty" doc:"HTTP status reported by the failing subscriber"`
	FeedbackBody   string    `json:"feedbackBody,omitempty"`
}

type ListQuarantinedOutput struct {
	Body []QuarantinedEventResponse
}

// Register adds all convention API routes to the Huma API.
func Register(api huma.API, svc *app.ConventionService) {
	huma.Register(api, huma.Operation{
		OperationID: "create-convention",
		Method:      http.MethodPost,
		Path:        "/api/v1/conventions",
		Summary:     "Submit a new immersion convention",
		Tags:        []string{"Conventions"},
	}, func(ctx context.Context, input *CreateConventionInput) (*CreateConventionOutput, error) {
		result, err := svc.Create(ctx, input.Body.params())
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &CreateConventionOutput{}
		out.Body.Convention = toConventionResponse(result.Convention)
		out.Body.SimilarIDs = result.SimilarIDs
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-convention",
		Method:      http.MethodGet,
		Path:        "/api/v1/conventions/{id}",
		Summary:     "Get a convention by ID",
		Tags:        []string{"Conventions"},
	}, func(ctx context.Context, input *GetConventionInput) (*GetConventionOutput, error) {
		c, err := svc.GetByID(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetConventionOutput{Body: toConventionResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conventions",
		Method:      http.MethodGet,
		Path:        "/api/v1/conventions",
		Summary:     "List conventions",
		Tags:        []string{"Conventions"},
	}, func(ctx context.Context, input *ListConventionsInput) (*ListConventionsOutput, error) {
		filter := domain.ListFilter{
			AgencyID: input.AgencyID,
			Limit:    input.Limit,
			Offset:   input.Offset,
		}
		if input.Status != "" {
			s := domain.Status(input.Status)
			filter.Status = &s
		}

		conventions, err := svc.List(ctx, filter)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]ConventionResponse, len(conventions))
		for i, c := range conventions {
			resp[i] = toConventionResponse(c)
		}
		return &ListConventionsOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-convention",
		Method:      http.MethodPost,
		Path:        "/api/v1/conventions/{id}/sign",
		Summary:     "Record the caller's signature",
		Tags:        []string{"Conventions"},
	}, func(ctx context.Context, input *SignConventionInput) (*SignConventionOutput, error) {
		c, err := svc.Sign(ctx, input.ID, input.actor())
		if err != nil {
			return nil, toHumaError(err)
		}
		return &SignConventionOutput{Body: toConventionResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-convention",
		Method:      http.MethodPost,
		Path:        "/api/v1/conventions/{id}/status",
		Summary:     "Request a status transition",
		Tags:        []string{"Conventions"},
	}, func(ctx context.Context, input *TransitionInput) (*TransitionOutput, error) {
		requested := domain.Status(input.Body.Status)
		actor := input.actor()

		var c domain.Convention
		var err error
		if requested == domain.StatusAcceptedByValidator {
			c, err = svc.AcceptByValidator(ctx, input.ID, actor, input.Body.ValidatorName)
		} else {
			c, err = svc.Transition(ctx, input.ID, requested, actor, input.Body.Justification)
		}
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TransitionOutput{Body: toConventionResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "renew-convention",
		Method:      http.MethodPost,
		Path:        "/api/v1/conventions/{id}/renew",
		Summary:     "Create a new convention renewing a validated one",
		Tags:        []string{"Conventions"},
	}, func(ctx context.Context, input *RenewConventionInput) (*RenewConventionOutput, error) {
		result, err := svc.Renew(ctx, input.ID, input.Body.Justification, input.Body.Convention.params())
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &RenewConventionOutput{}
		out.Body.Convention = toConventionResponse(result.Convention)
		out.Body.SimilarIDs = result.SimilarIDs
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "find-similar-conventions",
		Method:      http.MethodGet,
		Path:        "/api/v1/conventions/similar",
		Summary:     "Probe for likely duplicate conventions",
		Tags:        []string{"Conventions"},
	}, func(ctx context.Context, input *FindSimilarInput) (*FindSimilarOutput, error) {
		ids, err := svc.FindSimilar(ctx, domain.SimilarityQuery{
			Siret:                input.Siret,
			AppellationCode:      input.AppellationCode,
			BeneficiaryLastName:  input.LastName,
			BeneficiaryBirthdate: input.Birthdate,
			DateStart:            input.DateStart,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &FindSimilarOutput{}
		out.Body.SimilarIDs = ids
		if out.Body.SimilarIDs == nil {
			out.Body.SimilarIDs = []string{}
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quarantined-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/outbox/quarantined",
		Summary:     "List events parked for operator remediation",
		Tags:        []string{"Outbox"},
	}, func(ctx context.Context, input *ListQuarantinedInput) (*ListQuarantinedOutput, error) {
		events, err := svc.ListQuarantined(ctx, input.Limit)
		if err != nil {
			return nil, toHumaError(err)
		}

		resp := make([]QuarantinedEventResponse, len(events))
		for i, e := range events {
			resp[i] = QuarantinedEventResponse{
				ID:           e.ID,
				Topic:        string(e.Topic),
				ConventionID: e.ConventionID,
				OccurredAt:   e.OccurredAt,
				AttemptCount: e.AttemptCount,
				LastError:    e.LastError,
			}
			if e.Feedback != nil {
				resp[i].FeedbackStatus = e.Feedback.StatusCode
				resp[i].FeedbackBody = e.Feedback.Body
			}
		}
		return &ListQuarantinedOutput{Body: resp}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrConventionNotFound) {
		return huma.Error404NotFound("convention not found")
	}

	var denied *domain.TransitionDeniedError
	if errors.As(err, &denied) {
		if denied.Reason == domain.ReasonForbiddenRole {
			return huma.Error403Forbidden(denied.Error())
		}
		return huma.Error422UnprocessableEntity(denied.Error())
	}

	var conflict *domain.ConcurrentModificationError
	if errors.As(err, &conflict) {
		return huma.Error409Conflict(conflict.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
