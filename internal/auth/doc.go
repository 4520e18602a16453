// Package auth provides operator authentication and authorisation for the
// playout API.
//
// Operators present HS256 JWT access tokens issued with the configured
// secret. Each token carries one role (viewer, operator or admin) which maps
// statically to permissions:
//
//	viewer    playout:read
//	operator  playout:read, playout:operate
//	admin     playout:read, playout:operate, rundown:ingest
//
// The service stores no credentials; tokens are minted by playoutctl or an
// external identity service sharing the secret.
package auth
