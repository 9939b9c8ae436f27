// Package integrity implements the line-count ratio check (C10) run after a
// translation completes, before the job runner writes the target file.
package integrity

import (
	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/pkg/subs"
)

// Tolerance is the fraction of lines a translated file is allowed to lose
// relative to its source before the check fails (5%).
const Tolerance = 0.05

// Check reads sourcePath and targetPath through the codec and fails if
// target_count < source_count * (1 - Tolerance). IO errors are logged and
// treated as a pass, so infrastructure problems never block a completed
// translation that the codec itself never touched.
func Check(log zerolog.Logger, sourcePath, targetPath string) bool {
	src, err := subs.OpenFile(sourcePath)
	if err != nil {
		log.Warn().Err(err).Str("path", sourcePath).Msg("integrity check: could not read source, treating as valid")
		return true
	}
	tgt, err := subs.OpenFile(targetPath)
	if err != nil {
		log.Warn().Err(err).Str("path", targetPath).Msg("integrity check: could not read target, treating as valid")
		return true
	}

	sourceCount := len(src.Items())
	targetCount := len(tgt.Items())
	minimum := int(float64(sourceCount) * (1 - Tolerance))

	ok := targetCount >= minimum
	ev := log.Info()
	if !ok {
		ev = log.Warn()
	}
	ev.Int("source_count", sourceCount).
		Int("target_count", targetCount).
		Int("minimum", minimum).
		Bool("valid", ok).
		Msg("integrity check")
	return ok
}
