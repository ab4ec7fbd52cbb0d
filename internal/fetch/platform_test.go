package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		url      string
		expected Platform
	}{
		{"https://job-boards.greenhouse.io/doordashusa/jobs/7063751", PlatformGreenhouse},
		{"https://boards.greenhouse.io/company/jobs/123", PlatformGreenhouse},
		{"https://jobs.lever.co/company/job-id", PlatformLever},
		{"https://company.wd5.myworkdayjobs.com/en-US/External", PlatformWorkday},
		{"https://jobs.ashbyhq.com/acme/123", PlatformAshby},
		{"https://notgreenhouse.io.example.com/jobs", PlatformUnknown},
		{"https://example.com/careers", PlatformUnknown},
		{"://bad", PlatformUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectPlatform(tt.url))
		})
	}
}

func TestPlatformSelectors(t *testing.T) {
	assert.Equal(t, JobPostingSelectors(), PlatformContentSelectors(PlatformUnknown))
	assert.Contains(t, PlatformContentSelectors(PlatformGreenhouse), ".job__description")

	greenhouse := PlatformNoiseSelectors(PlatformGreenhouse)
	assert.Contains(t, greenhouse, "form")
	assert.Contains(t, greenhouse, ".post-apply")
	assert.NotContains(t, PlatformNoiseSelectors(PlatformUnknown), ".post-apply")
	assert.Len(t, PlatformNoiseSelectors(PlatformUnknown), len(commonNoise))
}
