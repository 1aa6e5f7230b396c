// Package model holds the plain value types shared by every layer of the
// migration: who acts (Identity), what is moved (Object) and what is attached
// to it (AVU, AccessLevel).
package model
