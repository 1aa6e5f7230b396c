/*
Package session implements the per-runner execution context: a pair of
endpoint sessions (source and destination) that is logged in either as the
elevated service identity or on behalf of one impersonated object owner.

Connections are established lazily. Changing identity mode always tears both
connections down and authenticates afresh; one open connection never serves
two identities.
*/
package session
