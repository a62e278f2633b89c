// Package auth implements parley's phone sign-in.
//
// Sign-in is a simulated one-time-password flow: RequestOTP opens a challenge
// for a well-formed phone number and VerifyOTP accepts any 4 to 6 digit code.
// A verified challenge yields a PASETO v4.public access token that carries the
// user id, session id and display name.
//
// No code is actually sent and no secret is checked; the flow exists so the
// chat surface has an authenticated display name.
package auth
