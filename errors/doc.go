// Package errors provides standardized error handling for the reactive
// framework. It defines the construction, propagation and delivery error
// taxonomy as sentinel variables, an error classification scheme, and
// helper functions for consistent error wrapping across packages.
//
// Construction-time errors (graph mutation, declarative validation) are
// invalid: the operation is rejected and the graph is left unchanged.
// Propagation-time compute failures are carried by ComputeError so the
// failing node is identifiable. Delivery-time errors are transient and
// scoped to the affected subscription.
package errors
