// Package autherr defines the coded error taxonomy shared by the token stores,
// the authenticators and the auth facade.
package autherr
