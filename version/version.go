package version

// Version is the current release of the haven server
const Version = "0.2.0"
