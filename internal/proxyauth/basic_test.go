package proxyauth_test

import (
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relaykit/relayproxy/internal/proxyauth"
)

func authenticator() proxyauth.Authenticator {
	return proxyauth.AuthenticatorFunc(func(user, pass string) bool {
		return user == "alice" && pass == "secret"
	})
}

func withAuth(user, pass string) *http.Request {
	req := &http.Request{Header: http.Header{}}
	creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	req.Header.Set("Proxy-Authorization", "Basic "+creds)
	return req
}

func TestCheckNilAuthenticatorAllows(t *testing.T) {
	req := &http.Request{Header: http.Header{}}
	assert.True(t, proxyauth.Check(req, nil))
}

func TestCheckValidCredentials(t *testing.T) {
	req := withAuth("alice", "secret")
	assert.True(t, proxyauth.Check(req, authenticator()))
}

func TestCheckInvalidCredentials(t *testing.T) {
	req := withAuth("alice", "wrong")
	assert.False(t, proxyauth.Check(req, authenticator()))
}

func TestCheckMissingHeader(t *testing.T) {
	req := &http.Request{Header: http.Header{}}
	assert.False(t, proxyauth.Check(req, authenticator()))
}

func TestCheckStripsHeaderRegardlessOfOutcome(t *testing.T) {
	req := withAuth("alice", "secret")
	proxyauth.Check(req, authenticator())
	assert.Empty(t, req.Header.Get("Proxy-Authorization"))

	req2 := withAuth("alice", "wrong")
	proxyauth.Check(req2, authenticator())
	assert.Empty(t, req2.Header.Get("Proxy-Authorization"))
}

func TestCheckNonBasicScheme(t *testing.T) {
	req := &http.Request{Header: http.Header{}}
	req.Header.Set("Proxy-Authorization", "Bearer sometoken")
	assert.False(t, proxyauth.Check(req, authenticator()))
}

func TestCheckReasonNilAuthenticatorAllows(t *testing.T) {
	req := &http.Request{Header: http.Header{}}
	assert.NoError(t, proxyauth.CheckReason(req, nil))
}

func TestCheckReasonMissingHeaderIsAuthRequired(t *testing.T) {
	req := &http.Request{Header: http.Header{}}
	err := proxyauth.CheckReason(req, authenticator())
	assert.True(t, errors.Is(err, proxyauth.ErrAuthRequired))
}

func TestCheckReasonInvalidCredentialsIsAuthFailed(t *testing.T) {
	req := withAuth("alice", "wrong")
	err := proxyauth.CheckReason(req, authenticator())
	assert.True(t, errors.Is(err, proxyauth.ErrAuthFailed))
}

func TestCheckReasonValidCredentialsIsNil(t *testing.T) {
	req := withAuth("alice", "secret")
	assert.NoError(t, proxyauth.CheckReason(req, authenticator()))
}
