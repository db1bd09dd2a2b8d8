// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderNoDefault       Code = "provider.routing.no_default"
	CodeProviderInvalidModelRef Code = "provider.routing.invalid_model_ref"

	CodeAgentTurnFailure      Code = "agent.turn.failure"
	CodeAgentTurnInvalidInput Code = "agent.turn.invalid_input"
	CodeAgentToolTimeout      Code = "agent.tool.timeout"
	CodeAgentToolNotFound     Code = "agent.tool.not_found"
	CodeAgentRegistryNotFound Code = "agent.registry.not_found"
	CodeAgentRegistryInvalid  Code = "agent.registry.parse.invalid"
	CodeAgentInternalFailure  Code = "agent.internal.failure"

	CodeSubagentRateLimited     Code = "subagent.concurrency.rate_limited"
	CodeSubagentTimeout         Code = "subagent.run.timeout"
	CodeSubagentSessionNotFound Code = "subagent.session.not_found"
	CodeSubagentContinueInvalid Code = "subagent.continue.invalid_input"

	CodeSecurityPatternInvalid Code = "security.pattern.invalid_input"

	CodeStoreDatabaseFailure    Code = "store.database.failure"
	CodeStoreBackendUnsupported Code = "store.backend.unsupported"
	CodeStoreInvalidInput       Code = "store.invalid_input"

	CodeSecretNotFound       Code = "secret.resolve.not_found"
	CodeSecretInvalidInput   Code = "secret.resolve.invalid_input"
	CodeSecretBackendFailure Code = "secret.backend.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionID(value string) Attr {
	return Field("session_id", value)
}

func FieldTurnID(value string) Attr {
	return Field("turn_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldAgentType(value string) Attr {
	return Field("agent_type", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeAgentInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsRateLimited(err error) bool {
	return reason(CodeOf(err)) == "rate_limited"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

func Join(errs ...error) error {
	return oops.Code(CodeAgentInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
