// Package gemini implements the pipeline's generation capabilities on
// Google's Gemini API: story decomposition through a text model returning
// structured JSON, and panel image synthesis through an image model.
//
// Implementations perform a single provider call per invocation and map
// provider errors onto the classification in internal/generation; all
// retrying is left to the pipeline's retry policy.
package gemini
