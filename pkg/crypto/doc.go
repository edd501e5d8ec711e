// Package crypto holds the small primitives the token stores build on: a
// key-order independent JSON hash and the AES-128-CBC codec used for the
// token files.
package crypto
