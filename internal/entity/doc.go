// ABOUTME: Package entity defines polymorphic participant references
// ABOUTME: A Ref is a (type, id) pair; a Registry resolves refs to display profiles

// Package entity provides the polymorphic reference type used to address
// conversation participants, plus a capability registry that maps type tags
// to host-supplied profile loaders.
package entity
