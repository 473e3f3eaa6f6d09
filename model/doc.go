// Package model contains the in-memory representation of workflow plans: the
// agent goal, its ordered steps and the tools it may invoke.
//
// A plan is typically loaded from a YAML document by the dao/plan service.
// The model is read-only once a run starts against it; accessors hand out
// copies and Validate only checks structural shape – step semantics belong
// to the execution backend.
package model
