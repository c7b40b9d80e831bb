// Package recovery finds orphaned raw stream files left behind by crashed
// sessions and drives them through the merge encoder to produce the
// deliverable they were recording toward.
package recovery
