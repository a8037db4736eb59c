package version

// Version is stamped at build time with -ldflags "-X ...version.Version=".
var Version = "dev"
