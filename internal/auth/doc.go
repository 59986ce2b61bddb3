// Package auth protects the HTTP API with static bearer tokens. Each token
// maps to a named principal holding read and/or trade permissions.
package auth
