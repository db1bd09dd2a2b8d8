// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package secrets

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	crucerr "github.com/crucible-dev/crucible/pkg/errors"
)

const (
	keyringScheme = "keyring://"
	envScheme     = "env://"
)

// IsRef reports whether value uses one of the secret reference schemes.
func IsRef(value string) bool {
	return strings.HasPrefix(value, keyringScheme) || strings.HasPrefix(value, envScheme)
}

// ParseKeyringRef extracts service and key from a keyring://service/key
// reference. Returns an error if the reference is malformed.
func ParseKeyringRef(ref string) (service, key string, err error) {
	if !strings.HasPrefix(ref, keyringScheme) {
		return "", "", crucerr.Errorf(crucerr.CodeSecretInvalidInput, "not a keyring reference: %q", ref)
	}

	path := strings.TrimPrefix(ref, keyringScheme)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", crucerr.Errorf(crucerr.CodeSecretInvalidInput,
			"invalid keyring reference %q: expected keyring://service/key", ref)
	}

	return parts[0], parts[1], nil
}

// Resolve resolves a single config value to its secret. keyring://
// references go through the store, env:// references through the
// process environment, and anything else is returned unchanged.
func Resolve(store Store, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, keyringScheme):
		service, key, err := ParseKeyringRef(value)
		if err != nil {
			return "", err
		}
		secret, err := store.Retrieve(service, key)
		if err != nil {
			return "", crucerr.Wrapf(err, crucerr.CodeSecretBackendFailure,
				"resolving keyring reference %q", value)
		}
		return secret, nil

	case strings.HasPrefix(value, envScheme):
		name := strings.TrimPrefix(value, envScheme)
		if name == "" {
			return "", crucerr.Errorf(crucerr.CodeSecretInvalidInput,
				"invalid env reference %q: expected env://VAR", value)
		}
		secret, ok := os.LookupEnv(name)
		if !ok {
			return "", crucerr.Errorf(crucerr.CodeSecretNotFound,
				"environment variable %s not set", name)
		}
		return secret, nil

	default:
		return value, nil
	}
}

// ResolveViperSecrets walks all keys in a Viper instance and resolves
// any string values that use a secret reference scheme. This is a
// post-load resolution step, not a Viper decoder hook.
//
// Resolution failures are logged as warnings and the original reference
// is kept in place, allowing the application to surface the error later
// when the config value is actually used.
func ResolveViperSecrets(v *viper.Viper, store Store) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsRef(val) {
			continue
		}

		resolved, err := Resolve(store, val)
		if err != nil {
			slog.Warn("failed to resolve secret reference, keeping original value",
				"config_key", key,
				"error", err,
			)
			continue
		}

		v.Set(key, resolved)
	}
}
