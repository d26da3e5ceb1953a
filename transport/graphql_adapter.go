package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-connectors/core"
)

const KindGraphQL = "graphql"

// graphQLDocument is the POST body sent to the endpoint.
type graphQLDocument struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// GraphQLAdapter posts a query document read from Metadata["query"] or the
// request body. Metadata["variables"] and Metadata["operation_name"] are
// forwarded when present.
//
// Servers report query failures inside a 200 response. When the reply
// carries an errors array the response metadata gains graphql_errors (the
// count) and graphql_error (the first message).
type GraphQLAdapter struct {
	Endpoint string
	REST     *RESTAdapter
}

func NewGraphQLAdapter(endpoint string, client HTTPDoer) *GraphQLAdapter {
	return &GraphQLAdapter{Endpoint: strings.TrimSpace(endpoint), REST: NewRESTAdapter(client)}
}

func (*GraphQLAdapter) Kind() string {
	return KindGraphQL
}

func (a *GraphQLAdapter) Do(ctx context.Context, req Request) (Response, error) {
	meta := map[string]any{"adapter": KindGraphQL}
	if a == nil || a.REST == nil {
		return Response{}, transportError("transport: graphql adapter has no rest transport", core.ErrorKindInternal, meta)
	}

	endpoint := firstNonBlank(req.URL, a.Endpoint)
	if endpoint == "" {
		return Response{}, transportError("transport: graphql endpoint is required", core.ErrorKindValidation, meta)
	}
	meta["endpoint"] = endpoint

	document, err := newGraphQLDocument(req)
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorKindValidation, "transport: graphql document", meta)
	}
	body, err := json.Marshal(document)
	if err != nil {
		return Response{}, transportWrapError(err, core.ErrorKindValidation, "transport: encode graphql document", meta)
	}

	headers := cloneHeaders(req.Headers)
	if _, set := headers["Content-Type"]; !set {
		headers["Content-Type"] = "application/json"
	}
	req.Method = http.MethodPost
	req.URL = endpoint
	req.Query = nil
	req.Headers = headers
	req.Body = body

	response, err := a.REST.Do(ctx, req)
	if err != nil {
		return Response{}, err
	}
	response.Metadata = cloneMetadata(response.Metadata)
	response.Metadata["kind"] = KindGraphQL
	annotateGraphQLErrors(response)
	return response, nil
}

func newGraphQLDocument(req Request) (graphQLDocument, error) {
	document := graphQLDocument{
		Query:         metadataString(req.Metadata, "query"),
		OperationName: metadataString(req.Metadata, "operation_name"),
	}
	if document.Query == "" {
		document.Query = strings.TrimSpace(string(req.Body))
	}
	if document.Query == "" {
		return document, fmt.Errorf("query is required")
	}
	if variables, ok := req.Metadata["variables"].(map[string]any); ok && len(variables) > 0 {
		document.Variables = cloneMetadata(variables)
	}
	return document, nil
}

func annotateGraphQLErrors(response Response) {
	if len(response.Body) == 0 || response.Body[0] != '{' {
		return
	}
	var reply struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if json.Unmarshal(response.Body, &reply) != nil || len(reply.Errors) == 0 {
		return
	}
	response.Metadata["graphql_errors"] = len(reply.Errors)
	response.Metadata["graphql_error"] = reply.Errors[0].Message
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func metadataString(metadata map[string]any, key string) string {
	value, ok := metadata[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
