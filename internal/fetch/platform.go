package fetch

import (
	"net/url"
	"strings"
)

// Platform is a known applicant tracking system.
type Platform string

// Known platforms
const (
	PlatformGreenhouse Platform = "greenhouse"
	PlatformLever      Platform = "lever"
	PlatformWorkday    Platform = "workday"
	PlatformAshby      Platform = "ashby"
	PlatformUnknown    Platform = "unknown"
)

var platformHosts = []struct {
	suffix   string
	platform Platform
}{
	{"greenhouse.io", PlatformGreenhouse},
	{"lever.co", PlatformLever},
	{"myworkdayjobs.com", PlatformWorkday},
	{"workday.com", PlatformWorkday},
	{"ashbyhq.com", PlatformAshby},
}

// DetectPlatform identifies the job board from a URL's host.
func DetectPlatform(urlStr string) Platform {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return PlatformUnknown
	}
	host := strings.ToLower(parsed.Hostname())
	for _, h := range platformHosts {
		if host == h.suffix || strings.HasSuffix(host, "."+h.suffix) {
			return h.platform
		}
	}
	return PlatformUnknown
}

// PlatformContentSelectors returns content selectors for a platform, most specific first.
func PlatformContentSelectors(platform Platform) []string {
	switch platform {
	case PlatformGreenhouse:
		return []string{".job__description.body", ".job__description", ".job-description__content", "#content", ".job-post-container"}
	case PlatformLever:
		return []string{".posting-page", ".section-wrapper.page-full-width", ".posting-description", ".content"}
	case PlatformWorkday:
		return []string{"[data-automation-id='jobDescription']", ".gwt-HTML", ".job-description"}
	case PlatformAshby:
		return []string{".ashby-job-posting-right-pane", "[class*='_descriptionText']", "main"}
	default:
		return JobPostingSelectors()
	}
}

// commonNoise covers application forms, EEO blocks, share widgets and consent banners.
var commonNoise = []string{
	"form", "#application-form", ".application-form", ".application--container",
	".apply-button-container", "[data-testid='application-form']",
	".voluntary-disclosure", ".eeo-statement", ".eeo-section", "[data-testid='eeo']",
	".legal-disclosure", ".self-identification",
	".social-share", ".share-buttons", ".social-links",
	".cookie-banner", ".cookie-consent", ".gdpr-notice",
}

// PlatformNoiseSelectors returns selectors removed before extraction.
func PlatformNoiseSelectors(platform Platform) []string {
	out := append([]string(nil), commonNoise...)
	switch platform {
	case PlatformGreenhouse:
		return append(out, ".application--wrapper", ".voluntary-self-id", "#usa_self_id_section", ".post-apply")
	case PlatformLever:
		return append(out, ".apply-section", ".lever-application-form", ".posting-apply")
	case PlatformWorkday:
		return append(out, "[data-automation-id='applyButton']", ".application-section")
	case PlatformAshby:
		return append(out, ".ashby-application-form-container")
	}
	return out
}
