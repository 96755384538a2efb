// Package handover implements transactional transfer of chat ownership
// between assistant configurations. Hand-over pushes the current
// configuration onto the chat's context stack and installs the target;
// hand-back pops the stack and restores the prior tenure.
package handover
