// Package validation checks the external tools and credentials lecturekit
// depends on and turns common failures into troubleshooting steps.
package validation

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/asr"
	"github.com/tshigata/lecture-ai-engineering/internal/config"
)

// MinFFmpegMajor is the oldest ffmpeg release known to handle every
// supported container.
const MinFFmpegMajor = 4

// ValidationResult contains the result of one check.
type ValidationResult struct {
	OK       bool
	Message  string
	Issues   []string
	Warnings []string
	Fixes    []string
}

var ffmpegVersion = regexp.MustCompile(`ffmpeg version n?(\d+)\.(\d+)`)

// ValidateFFmpegVersion parses the first line of `ffmpeg -version`.
// Git builds ("ffmpeg version N-112233-g...") are accepted with a warning.
func ValidateFFmpegVersion(versionLine string) *ValidationResult {
	result := &ValidationResult{OK: true}

	if strings.Contains(versionLine, "ffmpeg version N-") {
		result.Message = "ffmpeg development build"
		result.Warnings = append(result.Warnings, "could not verify the ffmpeg version of a git build")
		return result
	}
	m := ffmpegVersion.FindStringSubmatch(versionLine)
	if len(m) < 3 {
		result.OK = false
		result.Message = fmt.Sprintf("Could not parse ffmpeg version: %q", strings.TrimSpace(versionLine))
		result.Issues = append(result.Issues, "Unrecognized ffmpeg -version output")
		result.Fixes = append(result.Fixes, "Install ffmpeg from https://ffmpeg.org or your package manager")
		return result
	}

	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	if major < MinFFmpegMajor {
		result.OK = false
		result.Message = fmt.Sprintf("ffmpeg %d.%d requires update to %d.0+", major, minor, MinFFmpegMajor)
		result.Issues = append(result.Issues, fmt.Sprintf("ffmpeg %d.%d is too old", major, minor))
		result.Fixes = append(result.Fixes, fmt.Sprintf("Upgrade ffmpeg to %d.0 or later", MinFFmpegMajor))
		return result
	}

	result.Message = fmt.Sprintf("ffmpeg %d.%d is compatible", major, minor)
	return result
}

// CheckFFmpeg runs `<path> -version` and validates the output.
func CheckFFmpeg(ctx context.Context, path string) *ValidationResult {
	if path == "" {
		path = "ffmpeg"
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return &ValidationResult{
			Message: fmt.Sprintf("ffmpeg not runnable at %q", path),
			Issues:  []string{err.Error()},
			Fixes:   SuggestedFixes(err),
		}
	}
	first, _, _ := strings.Cut(string(out), "\n")
	return ValidateFFmpegVersion(first)
}

// ValidateCredentials reports which commands the current credentials
// allow. Missing keys are warnings unless the configured backend needs them.
func ValidateCredentials(cfg *config.Config, creds config.Credentials) *ValidationResult {
	result := &ValidationResult{OK: true, Message: "credentials checked"}

	if creds.GoogleAPIKey == "" {
		result.Warnings = append(result.Warnings, "GOOGLE_API_KEY is not set; analyze is unavailable")
		result.Fixes = append(result.Fixes, "Add GOOGLE_API_KEY=... to .env or ~/.config/lecturekit/.env")
	}

	needs := map[string]bool{cfg.ASR.Backend: true, cfg.ASR.FallbackBackend: true}
	if needs["assemblyai"] && creds.AssemblyAIKey == "" {
		issue := "ASSEMBLYAI_API_KEY is not set but assemblyai is configured"
		if cfg.ASR.Backend == "assemblyai" {
			result.OK = false
			result.Issues = append(result.Issues, issue)
		} else {
			result.Warnings = append(result.Warnings, issue)
		}
		result.Fixes = append(result.Fixes, "Add ASSEMBLYAI_API_KEY=... to .env")
	}
	if needs["google_stt"] && creds.GoogleCredentialsFile == "" {
		result.Warnings = append(result.Warnings, "GOOGLE_APPLICATION_CREDENTIALS is not set; google_stt falls back to application default credentials")
	}
	if !result.OK {
		result.Message = "credentials incomplete"
	}
	return result
}

// CheckBackends folds backend health into one result. Only the primary
// backend failing makes the result fail.
func CheckBackends(primary string, statuses []*asr.HealthStatus) *ValidationResult {
	result := &ValidationResult{OK: true}
	var messages []string
	for _, st := range statuses {
		messages = append(messages, fmt.Sprintf("%s: %s", st.Backend, st.Message))
		if st.OK {
			continue
		}
		if st.Backend == primary {
			result.OK = false
			result.Issues = append(result.Issues, fmt.Sprintf("primary backend %s is unhealthy: %s", st.Backend, st.Message))
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s is unhealthy: %s", st.Backend, st.Message))
		}
	}
	result.Message = strings.Join(messages, " | ")
	return result
}

// Merge combines results; the merged result fails if any input does.
func Merge(results ...*ValidationResult) *ValidationResult {
	out := &ValidationResult{OK: true}
	var messages []string
	for _, r := range results {
		if r == nil {
			continue
		}
		if !r.OK {
			out.OK = false
		}
		messages = append(messages, r.Message)
		out.Issues = append(out.Issues, r.Issues...)
		out.Warnings = append(out.Warnings, r.Warnings...)
		out.Fixes = append(out.Fixes, r.Fixes...)
	}
	out.Message = strings.Join(messages, " | ")
	if out.OK {
		out.Message = "health check passed: " + out.Message
	} else {
		out.Message = "health check FAILED: " + out.Message
	}
	return out
}

// SuggestedFixes returns troubleshooting steps for common errors.
func SuggestedFixes(err error) []string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var fixes []string

	switch {
	case errors.Is(err, config.ErrMissingCredential):
		fixes = append(fixes, "A required API key is missing.")
		fixes = append(fixes, "  1. Copy .env.example to .env (or ~/.config/lecturekit/.env)")
		fixes = append(fixes, "  2. Fill in GOOGLE_API_KEY and/or ASSEMBLYAI_API_KEY")
		fixes = append(fixes, "  3. Run lecturekit health to confirm")

	case errors.Is(err, exec.ErrNotFound) || strings.Contains(msg, "executable file not found"):
		fixes = append(fixes, "An external program was not found on PATH.")
		fixes = append(fixes, "  - ffmpeg: install it, or set media.ffmpeg_path in config.yaml")
		fixes = append(fixes, "  - whisper: install it, or set asr.local.binary_path")

	case strings.Contains(msg, "429") || strings.Contains(msg, "ResourceExhausted") || strings.Contains(strings.ToLower(msg), "quota"):
		fixes = append(fixes, "The remote API rejected the request for rate or quota reasons.")
		fixes = append(fixes, "  1. Wait a minute and retry")
		fixes = append(fixes, "  2. Check the quota page of your Google Cloud or AssemblyAI account")

	case strings.Contains(msg, "inline recognition accepts at most"):
		fixes = append(fixes, "The audio is too large for inline Cloud Speech recognition.")
		fixes = append(fixes, "  - Use the local_whisper or assemblyai backend for long lectures")

	case errors.Is(err, context.DeadlineExceeded):
		fixes = append(fixes, "The operation timed out.")
		fixes = append(fixes, "  - Raise analysis.timeout_seconds or asr.*.timeout_seconds in config.yaml")
	}
	return fixes
}
