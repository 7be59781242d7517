// Package server exposes the enforcer decision chain as an Envoy
// external authorization gRPC service.
package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	ext_authz_v3_core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	ext_authz_v3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	envoy_type_v3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	log "github.com/sirupsen/logrus"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/wso2/product-microgateway-sub011/filters"
	"github.com/wso2/product-microgateway-sub011/metrics"
	"github.com/wso2/product-microgateway-sub011/model"
	"github.com/wso2/product-microgateway-sub011/response"
	"github.com/wso2/product-microgateway-sub011/subscription"
)

// AuthServer answers Envoy ext_authz checks with the outcome of the
// filter chain.
type AuthServer struct {
	apis  *subscription.APIStore
	chain *filters.Chain

	// SOAPErrorsEnabled switches denial bodies to SOAP faults for SOAP
	// callers.
	soapErrors bool
}

var _ ext_authz_v3.AuthorizationServer = &AuthServer{}

// NewAuthServer builds the check handler.
func NewAuthServer(apis *subscription.APIStore, chain *filters.Chain, soapErrors bool) *AuthServer {
	return &AuthServer{apis: apis, chain: chain, soapErrors: soapErrors}
}

// Check implements the ext_authz Authorization service.
func (s *AuthServer) Check(ctx context.Context, req *ext_authz_v3.CheckRequest) (resp *ext_authz_v3.CheckResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in check: %v\n%s", r, debug.Stack())
			resp = deniedResponse(&model.RequestContext{
				StatusCode:       http.StatusInternalServerError,
				ErrorCode:        900900,
				ErrorMessage:     "Internal Server Error",
				ErrorDescription: "Request processing failed",
			}, s.soapErrors)
			err = nil
		}
	}()

	rc := s.requestContext(req)

	if rc.API == nil {
		rc.Deny(http.StatusNotFound, 900906, "No matching resource found in the API for the given request",
			"Check the API documentation and add a proper REST resource path to the invocation URL")
		metrics.Decisions.WithLabelValues("denied").Inc()
		return deniedResponse(rc, s.soapErrors), nil
	}
	if rc.Resource == nil {
		rc.Deny(http.StatusNotFound, 900906, "No matching resource found in the API for the given request",
			"Check the API documentation and add a proper REST resource path to the invocation URL")
		metrics.Decisions.WithLabelValues("denied").Inc()
		return deniedResponse(rc, s.soapErrors), nil
	}

	if s.chain.Process(rc) {
		metrics.Decisions.WithLabelValues("ok").Inc()
		return okResponse(rc), nil
	}
	metrics.Decisions.WithLabelValues("denied").Inc()
	return deniedResponse(rc, s.soapErrors), nil
}

// requestContext translates the check request attributes.
func (s *AuthServer) requestContext(req *ext_authz_v3.CheckRequest) *model.RequestContext {
	rc := model.NewRequestContext()

	httpReq := req.GetAttributes().GetRequest().GetHttp()
	rc.Method = httpReq.GetMethod()
	rc.RawPath = httpReq.GetPath()
	rc.Host = httpReq.GetHost()
	rc.Path, rc.Query = splitPath(rc.RawPath)
	for k, v := range httpReq.GetHeaders() {
		rc.Headers[strings.ToLower(k)] = v
	}
	rc.ClientIP = req.GetAttributes().GetSource().GetAddress().GetSocketAddress().GetAddress()
	if xff := rc.Header("x-forwarded-for"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		rc.ClientIP = strings.TrimSpace(xff)
	}

	rc.API, rc.Resource = s.apis.Match(rc.Path, rc.Method)
	return rc
}

func splitPath(raw string) (string, map[string]string) {
	query := map[string]string{}
	path := raw
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		path = raw[:i]
		for _, pair := range strings.Split(raw[i+1:], "&") {
			if pair == "" {
				continue
			}
			if j := strings.IndexByte(pair, '='); j >= 0 {
				query[pair[:j]] = pair[j+1:]
			} else {
				query[pair] = ""
			}
		}
	}
	return path, query
}

func okResponse(rc *model.RequestContext) *ext_authz_v3.CheckResponse {
	ok := &ext_authz_v3.OkHttpResponse{
		Headers:         headerOptions(rc.AddHeaders),
		HeadersToRemove: rc.RemoveHeaders,
	}
	if rc.QueryModified {
		ok.Headers = append(ok.Headers, headerOption(":path", rc.PathWithQuery()))
	}

	return &ext_authz_v3.CheckResponse{
		Status:          &status.Status{Code: int32(codes.OK)},
		HttpResponse:    &ext_authz_v3.CheckResponse_OkResponse{OkResponse: ok},
		DynamicMetadata: dynamicMetadata(rc),
	}
}

func dynamicMetadata(rc *model.RequestContext) *structpb.Struct {
	if len(rc.Metadata) == 0 {
		return nil
	}
	fields := make(map[string]*structpb.Value, len(rc.Metadata))
	for k, v := range rc.Metadata {
		fields[k] = structpb.NewStringValue(v)
	}
	return &structpb.Struct{Fields: fields}
}

func deniedResponse(rc *model.RequestContext, soapErrors bool) *ext_authz_v3.CheckResponse {
	// a stopped chain with a 2xx status is a direct response, not an
	// error, CORS preflights end up here
	var body []byte
	headers := headerOptions(rc.AddHeaders)
	if rc.ErrorCode != 0 {
		format := response.Negotiate(rc.Header("content-type"), rc.Header("soapaction"), soapErrors)
		var contentType string
		body, contentType = response.Render(response.Error{
			Code:        rc.ErrorCode,
			Message:     rc.ErrorMessage,
			Description: rc.ErrorDescription,
		}, format)
		headers = append(headers, headerOption("Content-Type", contentType))
		if rc.StatusCode == http.StatusUnauthorized {
			headers = append(headers, headerOption("WWW-Authenticate",
				`Bearer realm="API Gateway", error="invalid_token"`))
		}
	}

	grpcCode := rpcCode(rc.StatusCode)
	if grpcCode == codes.OK {
		// a direct response still needs a non-OK rpc code, otherwise
		// Envoy forwards the request upstream
		grpcCode = codes.PermissionDenied
	}
	return &ext_authz_v3.CheckResponse{
		Status: &status.Status{Code: int32(grpcCode)},
		HttpResponse: &ext_authz_v3.CheckResponse_DeniedResponse{
			DeniedResponse: &ext_authz_v3.DeniedHttpResponse{
				Status:  &envoy_type_v3.HttpStatus{Code: envoy_type_v3.StatusCode(rc.StatusCode)},
				Headers: headers,
				Body:    string(body),
			},
		},
		DynamicMetadata: dynamicMetadata(rc),
	}
}

func rpcCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusOK:
		return codes.OK
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

func headerOptions(h map[string]string) []*ext_authz_v3_core.HeaderValueOption {
	opts := make([]*ext_authz_v3_core.HeaderValueOption, 0, len(h))
	for k, v := range h {
		opts = append(opts, headerOption(k, v))
	}
	return opts
}

func headerOption(key, value string) *ext_authz_v3_core.HeaderValueOption {
	return &ext_authz_v3_core.HeaderValueOption{
		Header:       &ext_authz_v3_core.HeaderValue{Key: key, Value: value},
		AppendAction: ext_authz_v3_core.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
	}
}
