package jobs

// Chapter count limits
const (
	MinChapters     = 1
	MaxChapters     = 30
	DefaultChapters = 5
)

// ClampChapters ensures the chapter count is within valid bounds.
// Zero selects the default.
func ClampChapters(n int) int {
	if n == 0 {
		return DefaultChapters
	}
	if n < MinChapters {
		return MinChapters
	}
	if n > MaxChapters {
		return MaxChapters
	}
	return n
}

// ValidImageSources contains the accepted image sourcing modes.
var ValidImageSources = []ImageSource{ImagesGenerated, ImagesStock}

// IsValidImageSource returns true if src is a known mode.
func IsValidImageSource(src ImageSource) bool {
	for _, valid := range ValidImageSources {
		if src == valid {
			return true
		}
	}
	return false
}
