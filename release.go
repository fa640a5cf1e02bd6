//go:build release

package blambda

// releaseBuild elides sub-error log levels at compile time.
const releaseBuild = true
