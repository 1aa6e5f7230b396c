/*
Package builder turns a source inventory into the task graph of one run.

Build adds every task as blocked before signaling anything, in three passes:

 1. Objects already recorded as done in the completion log are skipped.
 2. Every remaining object gets its chain of migration steps, each blocked on
    the precondition produced by the previous step or by its parent.
 3. The entry keys are signaled: the source root's own keys, and the keys of
    skipped collections whose descendants still have work to do.

An object runs on behalf of its owner when the owner is mappable on both
endpoints; otherwise every step runs as the elevated identity.
*/
package builder
