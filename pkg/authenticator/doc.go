// Package authenticator drives OAuth2 grant exchanges against a
// Keycloak-style authorization server and turns the responses into
// account.Account records.
//
// An Authenticator owns one client configuration. Its configuration hash
// identifies "the same setup" across runs without depending on secrets.
// GetToken decides between reusing a stored token, refreshing it and running
// the primary grant again. The grant specific parts are supplied by a
// Strategy, chosen once from the Credentials passed to New.
package authenticator
