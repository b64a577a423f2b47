// Package client talks to the upload service over gRPC.
//
// # Overview
//
//  1. Client is the transport-agnostic contract used by the CLI.
//  2. GRPCClient implements it. An interceptor attaches the access token to
//     every call; when the server reports an expired token and a TokenSource
//     is configured, a fresh token is minted and the call is retried once.
//  3. Follow polls task progress until the task reaches a terminal status.
//
// # Error Handling
//
// gRPC status codes are mapped to errors callers can match with errors.Is:
// ErrUnauthorized, ErrUnavailable, common.ErrorNotFound, common.ErrValidation
// and common.ErrInvalidTransition.
package client
