/*
Package migrate implements the migration steps: the closed set of task.Step
variants that together move one collection or data item from the source to
the destination endpoint.

Each object gets a chain of steps linked by precondition keys on its source
path:

	collection: create -> grant-access -> copy-metadata -> check-republication -> log-done
	data item:  copy-content -> grant-access -> copy-metadata -> log-done

A collection's children wait on the parent's keys: sub-collections on
ObjectExists(parent), data items on AdminAccess(parent).
*/
package migrate
