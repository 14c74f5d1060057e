package shared

// Version is stamped at build time with -ldflags "-X .../shared.Version=...".
var Version = "0.3.0-dev"
