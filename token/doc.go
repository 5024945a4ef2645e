// Package token issues and verifies the signed SCA session tokens handed out
// after a completed challenge.
//
// A token binds subject id, session id, issue time and expiry under an HMAC
// signature. Signature and expiry checks live here; the store-copy check that
// makes tokens revocable lives in the engine.
package token
