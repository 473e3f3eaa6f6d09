package idgen

import "github.com/google/uuid"

// NewFunc produces identifiers for decisions, local run records and request
// correlation. Tests swap it for a deterministic sequence.
var NewFunc = func() string { return uuid.New().String() }

// New returns NewFunc().
func New() string { return NewFunc() }
