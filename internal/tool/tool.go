// Package tool defines the closed set of callable tools, their argument
// schemas and the per-tool security contract.
//
// Each tool is a typed variant with its own argument struct and its own
// validation against the episode scope; the registry maps tool names to
// variants for dispatch.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/capitalize-ai/assistant-core/internal/scope"
	"github.com/capitalize-ai/assistant-core/internal/search"
	"github.com/capitalize-ai/assistant-core/internal/store"
)

// ErrScopeViolation marks a tool call whose target does not match the active
// context. Callers record it as an error result; it never aborts the episode
// and never reaches the collaborator service.
var ErrScopeViolation = errors.New("tool call outside active context")

// Definition is the schema surface handed to the model provider.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Variant is one member of the closed tool set.
type Variant interface {
	Name() string
	Description() string
	ArgsSchema() json.RawMessage

	// Execute parses arguments, enforces the security contract against the
	// scope, and runs the call. A scope mismatch returns ErrScopeViolation
	// before any collaborator is touched.
	Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error)
}

// Services are the collaborators tool execution acts on.
type Services struct {
	Entities *store.EntityStore
	Search   *search.Client
}

// Registry maps tool names to variants.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry builds the full tool registry over the given services.
func NewRegistry(svc Services) *Registry {
	r := &Registry{variants: make(map[string]Variant)}
	for _, v := range []Variant{
		&getUseCase{svc},
		&updateUseCase{svc},
		&listUseCases{svc},
		&getOrganization{svc},
		&updateOrganization{svc},
		&getFolder{svc},
		&readDocument{svc},
		&webSearch{svc},
		&webExtract{svc},
	} {
		r.variants[v.Name()] = v
	}
	return r
}

// Lookup returns the variant for a tool name.
func (r *Registry) Lookup(name string) (Variant, bool) {
	v, ok := r.variants[name]
	return v, ok
}

// Definitions returns the schema surface for the tools a scope allows.
func (r *Registry) Definitions(sc *scope.Scope) []Definition {
	var defs []Definition
	for name, v := range r.variants {
		if !sc.Allows(name) {
			continue
		}
		defs = append(defs, Definition{
			Name:        name,
			Description: v.Description(),
			InputSchema: v.ArgsSchema(),
		})
	}
	return defs
}

// reflectSchema generates the JSON schema for an argument struct.
func reflectSchema(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal tool schema: %v", err))
	}
	return data
}

// parseArgs decodes the model-supplied argument JSON into a typed struct.
func parseArgs(arguments string, v any) error {
	if arguments == "" {
		arguments = "{}"
	}
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func marshalResult(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return data, nil
}
