// Package embeddings turns text into fixed-dimension, L2-normalised vectors.
//
// Two providers are available: FastEmbed runs ONNX models in-process (cgo
// builds only) and TEI calls a text-embeddings-inference server. Cached and
// Instrumented decorate any Embedder, and Pool bounds how many embedding
// calls run at once.
package embeddings
