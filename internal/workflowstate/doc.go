// Package workflowstate persists the durable per-workflow checkpoint
// document that phase commands share.
//
// Each workflow owns one state.json under <dir>/<workflow_id>/. The
// document carries only the whitelisted core fields; anything else in a
// loaded file or an update map is dropped with a warning. A later phase
// can therefore always trust the field set it reads.
//
// Saves are atomic (write to a temp file, then rename) so a crashed
// writer never leaves a half-written checkpoint behind.
package workflowstate
