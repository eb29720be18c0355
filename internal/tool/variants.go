package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/capitalize-ai/assistant-core/internal/scope"
)

// --- use cases ---

type getUseCaseArgs struct {
	UseCaseID string `json:"use_case_id" jsonschema:"required,description=Id of the use case to read"`
}

type getUseCase struct{ svc Services }

func (t *getUseCase) Name() string { return "get_use_case" }
func (t *getUseCase) Description() string {
	return "Read a use case: title, summary and body."
}
func (t *getUseCase) ArgsSchema() json.RawMessage { return reflectSchema(&getUseCaseArgs{}) }

func (t *getUseCase) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args getUseCaseArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	if !sc.CanReadUseCase(args.UseCaseID) {
		// Folder scope may read any use case inside its folder.
		if sc.FolderID == "" {
			return nil, fmt.Errorf("%w: use case %s", ErrScopeViolation, args.UseCaseID)
		}
		uc, err := t.svc.Entities.GetUseCase(ctx, args.UseCaseID)
		if err != nil || uc.FolderID != sc.FolderID {
			return nil, fmt.Errorf("%w: use case %s", ErrScopeViolation, args.UseCaseID)
		}
		return marshalResult(uc)
	}
	uc, err := t.svc.Entities.GetUseCase(ctx, args.UseCaseID)
	if err != nil {
		return nil, err
	}
	return marshalResult(uc)
}

type updateUseCaseArgs struct {
	UseCaseID string `json:"use_case_id" jsonschema:"required,description=Id of the use case to update"`
	Title     string `json:"title,omitempty" jsonschema:"description=New title if changed"`
	Summary   string `json:"summary,omitempty" jsonschema:"description=New summary if changed"`
	Body      string `json:"body,omitempty" jsonschema:"description=New body if changed"`
}

type updateUseCase struct{ svc Services }

func (t *updateUseCase) Name() string { return "update_use_case" }
func (t *updateUseCase) Description() string {
	return "Update the title, summary or body of the use case being worked on."
}
func (t *updateUseCase) ArgsSchema() json.RawMessage { return reflectSchema(&updateUseCaseArgs{}) }

func (t *updateUseCase) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args updateUseCaseArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	// Mutations only ever target the pinned use case of the scope.
	if args.UseCaseID != sc.UseCaseID || sc.UseCaseID == "" {
		return nil, fmt.Errorf("%w: use case %s", ErrScopeViolation, args.UseCaseID)
	}

	uc, err := t.svc.Entities.GetUseCase(ctx, args.UseCaseID)
	if err != nil {
		return nil, err
	}
	if args.Title != "" {
		uc.Title = args.Title
	}
	if args.Summary != "" {
		uc.Summary = args.Summary
	}
	if args.Body != "" {
		uc.Body = args.Body
	}
	uc.UpdatedAt = time.Now().UTC()

	if err := t.svc.Entities.PutUseCase(ctx, uc); err != nil {
		return nil, err
	}
	return marshalResult(uc)
}

type listUseCasesArgs struct {
	FolderID string `json:"folder_id" jsonschema:"required,description=Id of the folder to list"`
}

type listUseCases struct{ svc Services }

func (t *listUseCases) Name() string { return "list_use_cases" }
func (t *listUseCases) Description() string {
	return "List the use cases of the active folder."
}
func (t *listUseCases) ArgsSchema() json.RawMessage { return reflectSchema(&listUseCasesArgs{}) }

func (t *listUseCases) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args listUseCasesArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	if args.FolderID != sc.FolderID || sc.FolderID == "" {
		return nil, fmt.Errorf("%w: folder %s", ErrScopeViolation, args.FolderID)
	}
	cases, err := t.svc.Entities.ListUseCases(ctx, args.FolderID)
	if err != nil {
		return nil, err
	}
	return marshalResult(cases)
}

// --- organizations and folders ---

type getOrganizationArgs struct {
	OrganizationID string `json:"organization_id" jsonschema:"required,description=Id of the organization to read"`
}

type getOrganization struct{ svc Services }

func (t *getOrganization) Name() string { return "get_organization" }
func (t *getOrganization) Description() string {
	return "Read the organization linked to the active context."
}
func (t *getOrganization) ArgsSchema() json.RawMessage { return reflectSchema(&getOrganizationArgs{}) }

func (t *getOrganization) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args getOrganizationArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	if args.OrganizationID != sc.OrganizationID || sc.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization %s", ErrScopeViolation, args.OrganizationID)
	}
	org, err := t.svc.Entities.GetOrganization(ctx, args.OrganizationID)
	if err != nil {
		return nil, err
	}
	return marshalResult(org)
}

type updateOrganizationArgs struct {
	OrganizationID string `json:"organization_id" jsonschema:"required,description=Id of the organization to update"`
	Name           string `json:"name,omitempty" jsonschema:"description=New name if changed"`
	Description    string `json:"description,omitempty" jsonschema:"description=New description if changed"`
	Website        string `json:"website,omitempty" jsonschema:"description=New website if changed"`
}

type updateOrganization struct{ svc Services }

func (t *updateOrganization) Name() string { return "update_organization" }
func (t *updateOrganization) Description() string {
	return "Update the organization linked to the active context."
}
func (t *updateOrganization) ArgsSchema() json.RawMessage {
	return reflectSchema(&updateOrganizationArgs{})
}

func (t *updateOrganization) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args updateOrganizationArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	// In folder scope the only legal target is the organization linked to
	// that folder; in organization scope, the pinned organization itself.
	if args.OrganizationID != sc.OrganizationID || sc.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization %s", ErrScopeViolation, args.OrganizationID)
	}

	org, err := t.svc.Entities.GetOrganization(ctx, args.OrganizationID)
	if err != nil {
		return nil, err
	}
	if args.Name != "" {
		org.Name = args.Name
	}
	if args.Description != "" {
		org.Description = args.Description
	}
	if args.Website != "" {
		org.Website = args.Website
	}
	org.UpdatedAt = time.Now().UTC()

	if err := t.svc.Entities.PutOrganization(ctx, org); err != nil {
		return nil, err
	}
	return marshalResult(org)
}

type getFolderArgs struct {
	FolderID string `json:"folder_id" jsonschema:"required,description=Id of the folder to read"`
}

type getFolder struct{ svc Services }

func (t *getFolder) Name() string { return "get_folder" }
func (t *getFolder) Description() string {
	return "Read the folder linked to the active context."
}
func (t *getFolder) ArgsSchema() json.RawMessage { return reflectSchema(&getFolderArgs{}) }

func (t *getFolder) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args getFolderArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	if args.FolderID != sc.FolderID || sc.FolderID == "" {
		return nil, fmt.Errorf("%w: folder %s", ErrScopeViolation, args.FolderID)
	}
	folder, err := t.svc.Entities.GetFolder(ctx, args.FolderID)
	if err != nil {
		return nil, err
	}
	return marshalResult(folder)
}

// --- documents ---

type readDocumentArgs struct {
	DocumentID string `json:"document_id" jsonschema:"required,description=Id of the document to read"`
}

type readDocument struct{ svc Services }

func (t *readDocument) Name() string { return "read_document" }
func (t *readDocument) Description() string {
	return "Read the text of a stored reference document."
}
func (t *readDocument) ArgsSchema() json.RawMessage { return reflectSchema(&readDocumentArgs{}) }

func (t *readDocument) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args readDocumentArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	doc, err := t.svc.Entities.GetDocument(ctx, args.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.WorkspaceID != sc.WorkspaceID {
		return nil, fmt.Errorf("%w: document %s", ErrScopeViolation, args.DocumentID)
	}
	return marshalResult(doc)
}

// --- web ---

type webSearchArgs struct {
	Query      string `json:"query" jsonschema:"required,description=Search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of results (default 5)"`
}

type webSearch struct{ svc Services }

func (t *webSearch) Name() string { return "web_search" }
func (t *webSearch) Description() string {
	return "Search the web and return the top results with snippets."
}
func (t *webSearch) ArgsSchema() json.RawMessage { return reflectSchema(&webSearchArgs{}) }

func (t *webSearch) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args webSearchArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	results, err := t.svc.Search.Search(ctx, args.Query, args.MaxResults)
	if err != nil {
		return nil, err
	}
	return marshalResult(results)
}

type webExtractArgs struct {
	URL string `json:"url" jsonschema:"required,description=URL to fetch and extract text from"`
}

type webExtract struct{ svc Services }

func (t *webExtract) Name() string { return "web_extract" }
func (t *webExtract) Description() string {
	return "Fetch a web page and return its cleaned text content."
}
func (t *webExtract) ArgsSchema() json.RawMessage { return reflectSchema(&webExtractArgs{}) }

func (t *webExtract) Execute(ctx context.Context, sc *scope.Scope, arguments string) (json.RawMessage, error) {
	var args webExtractArgs
	if err := parseArgs(arguments, &args); err != nil {
		return nil, err
	}
	extraction, err := t.svc.Search.Extract(ctx, args.URL)
	if err != nil {
		return nil, err
	}
	return marshalResult(extraction)
}
