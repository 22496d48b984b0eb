// Package embeddings turns record content into vectors.
//
// Two providers: "fastembed" runs a local ONNX model (cgo builds only),
// "tei" calls an OpenAI-compatible /embeddings endpoint such as
// text-embeddings-inference or OpenAI itself. Every provider is wrapped
// with OpenTelemetry latency and error metrics.
package embeddings
