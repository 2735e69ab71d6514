package types

// Version is the canonical project version.
// The SDK, the live-channel wire contract and the CLI share this version.
const Version = "0.3.0"

// WireVersion is the live-channel contract version sent with every fetch frame.
// Lockstep with Version.
const WireVersion = Version
