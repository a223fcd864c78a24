package ir

// RuntimeVersion is the evactor runtime version, reported by the CLI and
// attached to exported spans.
const RuntimeVersion = "0.1.0"
