// Package auth is the identity and access control core of trailblaze.
//
// Accounts:
//   - Account rows carry a role set, an AccountStatus and a profile Visibility.
//     Civic registrations start ACTIVE; institutional accounts are created by
//     an elevated caller and start PENDING_ACTIVATION.
//   - AccountStateMachine owns every status change. Each transition checks
//     that the target exists before checking that the caller may manage it,
//     runs the before hooks, persists inside a transaction and then runs the
//     after hooks. Removing an account deletes the row and, unless disabled,
//     revokes every token issued to it.
//
// Tokens:
//   - TokenService signs HS256 JWTs with a kid header from the KeyProvider and
//     registers each token as active before returning it. Validation checks
//     the signature, then expiry, then the revocation list.
//   - SessionManager lists and revokes the active tokens of an account. The
//     legacy opaque session flow lives in LegacyAuthenticator.
//
// Activity sinks:
//   - ActivitySink receives login, logout and lifecycle events. Sinks are best
//     effort; errors are logged and never fail the operation. See the
//     activitymap package for a normalized audit record.
package auth
