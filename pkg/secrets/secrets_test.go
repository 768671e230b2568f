// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package secrets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGetRoundTrips(t *testing.T) {
	s := NewStore()
	defer s.Destroy()

	require.NoError(t, s.Put(SecretAnthropicAPIKey, "sk-test-123"))
	v, err := s.Get(SecretAnthropicAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", v)
	assert.True(t, s.Has(SecretAnthropicAPIKey))
}

func TestGetUnknownSecretReturnsErrSecretNotFound(t *testing.T) {
	s := NewStore()
	defer s.Destroy()

	_, err := s.Get("NOPE")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestLoadFromEnvSkipsUnsetVariables(t *testing.T) {
	t.Setenv(SecretOpenAIAPIKey, "sk-env-456")

	s := NewStore()
	defer s.Destroy()

	loaded, err := s.LoadFromEnv(SecretOpenAIAPIKey, SecretWeaviateAPIKey)
	require.NoError(t, err)
	assert.Equal(t, []string{SecretOpenAIAPIKey}, loaded)
	assert.False(t, s.Has(SecretWeaviateAPIKey))
}

func TestDestroyWipesSecretsAndRejectsFurtherUse(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Put(SecretAnthropicAPIKey, "sk-test-789"))

	s.Destroy()
	s.Destroy() // idempotent

	_, err := s.Get(SecretAnthropicAPIKey)
	assert.ErrorIs(t, err, ErrStoreDestroyed)
	assert.ErrorIs(t, s.Put("x", "y"), ErrStoreDestroyed)
}

func TestTokenIssuerIssuesAndVerifiesToken(t *testing.T) {
	s := NewStore()
	defer s.Destroy()

	issuer, err := NewTokenIssuer(s, time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("agent-1")
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.Subject)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	s := NewStore()
	defer s.Destroy()

	issuer, err := NewTokenIssuer(s, -time.Minute)
	require.NoError(t, err)

	token, err := issuer.Issue("agent-1")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuerRejectsTamperedToken(t *testing.T) {
	s := NewStore()
	defer s.Destroy()

	issuer, err := NewTokenIssuer(s, time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("agent-1")
	require.NoError(t, err)

	tampered := token + "x"
	_, err = issuer.Verify(tampered)
	assert.Error(t, err)
}
