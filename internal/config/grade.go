package config

// ValidColorGrades are the looks the timeline builder can apply to every clip.
var ValidColorGrades = []string{
	"none",
	"grayscale",
	"sepia",
	"vintage", // default for documentary renders
	"warm",
	"cool",
}

// DefaultColorGrade is used when render.color_grade is unset or unknown.
const DefaultColorGrade = "vintage"

// IsValidColorGrade returns true if grade is a known look.
func IsValidColorGrade(grade string) bool {
	for _, valid := range ValidColorGrades {
		if grade == valid {
			return true
		}
	}
	return false
}

// ValidateColorGrade returns grade if valid, or the default otherwise.
func ValidateColorGrade(grade string) string {
	if IsValidColorGrade(grade) {
		return grade
	}
	return DefaultColorGrade
}
