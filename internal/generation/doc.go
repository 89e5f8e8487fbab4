// Package generation defines the capability interfaces through which the
// pipeline talks to external AI providers, together with the failure
// taxonomy every implementation must classify its errors against.
package generation
