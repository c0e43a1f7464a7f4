package cmd

// Version is the CLI version, overridable at build time with
// -ldflags "-X .../internal/cmd.Version=...".
var Version = "0.3.0-dev"
