// Package reelsmith turns a documentary topic into narrated chapters, scene
// stills and voice-over, and renders the result into a finished video.
package reelsmith

// Version is the current release.
const Version = "0.4.0"
