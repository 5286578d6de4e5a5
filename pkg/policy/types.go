package policy

import (
	"time"

	"github.com/openfroyo/webplane/pkg/engine"
)

// Policy is a Rego module whose deny set refuses access requests.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the module source. Its deny rule yields strings or
	// objects with a message field.
	Rego string `json:"rego"`

	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with webplane; a file policy with the
	// same name replaces one.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was read from.
	Source string `json:"source,omitempty"`

	Tags []string `json:"tags,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Denial is one reason a request was refused.
type Denial struct {
	Policy  string `json:"policy"`
	Message string `json:"message"`
}

// Decision is the result of evaluating every enabled policy against one
// request.
type Decision struct {
	Allowed           bool          `json:"allowed"`
	Denials           []Denial      `json:"denials,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Caller      CallerInput    `json:"caller"`
	Operation   string         `json:"operation"`
	Address     string         `json:"address"`
	Elements    []ElementInput `json:"elements"`
	Constraints []string       `json:"constraints"`
	ReadOnly    bool           `json:"read_only"`
}

// CallerInput identifies the caller. An empty user is the server itself.
type CallerInput struct {
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

// ElementInput is one address element.
type ElementInput struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// NewInput renders req as policy input.
func NewInput(req engine.AccessRequest) Input {
	in := Input{
		Caller: CallerInput{
			User:  req.Caller.User,
			Roles: append([]string{}, req.Caller.Roles...),
		},
		Operation:   req.Operation,
		Address:     req.Address.String(),
		Elements:    make([]ElementInput, len(req.Address)),
		Constraints: append([]string{}, req.Constraints...),
		ReadOnly:    req.ReadOnly,
	}
	for i, e := range req.Address {
		in.Elements[i] = ElementInput{Type: e.Type, Name: e.Name}
	}
	return in
}
