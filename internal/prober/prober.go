// Package prober enumerates embedded subtitle streams inside a media
// container and extracts a chosen stream to a sidecar file (C3). It wraps
// ffprobe and ffmpeg as subprocesses, following the same subprocess-wrapping
// idiom the original media pipeline used for its own container tool calls,
// retargeted at the ffprobe JSON output shape.
package prober

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/pkg/subs"
)

// videoExtensions are the container extensions ResolvePath tries, in order,
// since domain.MediaCommon.BaseFilename is stored without one.
var videoExtensions = []string{
	".mkv", ".mp4", ".avi", ".m4v", ".webm", ".ts", ".m2ts", ".mov", ".wmv", ".flv",
}

// ResolvePath turns a (directory, base filename) pair — the extensionless
// shape media is stored under — into the actual on-disk container path, by
// trying each known video extension and falling back to a glob for anything
// else sharing the base filename. Returns an error if nothing matches.
func ResolvePath(directory, baseFilename string) (string, error) {
	for _, ext := range videoExtensions {
		candidate := filepath.Join(directory, baseFilename+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(directory, baseFilename+".*"))
	if err == nil && len(matches) > 0 {
		return matches[0], nil
	}
	return "", fmt.Errorf("prober: no container file found for %s", filepath.Join(directory, baseFilename))
}

// textCodecs and imageCodecs classify subtitle codec names;
// anything not in either set is treated as image-based (conservative default,
// since image-based tracks are never selected as a translation source).
var textCodecs = map[string]bool{
	"ass": true, "ssa": true, "srt": true, "subrip": true,
	"webvtt": true, "vtt": true, "mov_text": true, "text": true,
}

var imageCodecs = map[string]bool{
	"hdmv_pgs_subtitle": true, "dvd_subtitle": true, "dvb_subtitle": true,
	"xsub": true, "pgssub": true,
}

// Prober probes containers via ffprobe and extracts streams via ffmpeg.
type Prober struct {
	FFProbePath string
	FFMpegPath  string
}

// New returns a Prober using the given binary paths, defaulting to the
// binaries on PATH when empty.
func New(ffprobePath, ffmpegPath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Prober{FFProbePath: ffprobePath, FFMpegPath: ffmpegPath}
}

// IsAvailable reports whether ffprobe can be located on the system.
func (p *Prober) IsAvailable() bool {
	_, err := exec.LookPath(p.FFProbePath)
	return err == nil
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeStream struct {
	Index       int               `json:"index"`
	CodecName   string            `json:"codec_name"`
	CodecType   string            `json:"codec_type"`
	Disposition map[string]int    `json:"disposition"`
	Tags        map[string]string `json:"tags"`
}

// Probe invokes ffprobe on path and returns one EmbeddedSubtitle per subtitle
// stream, with StreamIndex re-numbered within the subtitle-only subset; this
// is distinct from ffprobe's own container-wide index, which extraction
// still needs and is tracked separately via ContainerIndex.
//
// If ffprobe is unavailable, or the subprocess fails, Probe returns an empty
// slice rather than an error: a missing tool is logged upstream, not treated
// as fatal to the indexing pass.
func (p *Prober) Probe(ctx context.Context, path string) []domain.EmbeddedSubtitle {
	if !p.IsAvailable() {
		return nil
	}

	out, err := p.runFFProbe(ctx, path)
	if err != nil {
		return nil
	}

	var result []domain.EmbeddedSubtitle
	subIdx := 0
	for _, s := range out.Streams {
		if s.CodecType != "subtitle" {
			continue
		}
		codec := strings.ToLower(s.CodecName)
		es := domain.EmbeddedSubtitle{
			StreamIndex: subIdx,
			Language:    s.Tags["language"],
			Title:       s.Tags["title"],
			CodecName:   codec,
			IsDefault:   s.Disposition["default"] == 1,
			IsForced:    s.Disposition["forced"] == 1,
			IsTextBased: classifyTextBased(codec),
		}
		es.ContainerIndex = s.Index
		result = append(result, es)
		subIdx++
	}
	return result
}

func classifyTextBased(codec string) bool {
	if textCodecs[codec] {
		return true
	}
	if imageCodecs[codec] {
		return false
	}
	return false // unknown codecs are treated as image-based
}

func (p *Prober) runFFProbe(ctx context.Context, path string) (*ffprobeOutput, error) {
	cmd := exec.CommandContext(ctx, p.FFProbePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", path, err, stderr.String())
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output for %s: %w", path, err)
	}
	return &out, nil
}

// Extract writes the subtitle stream at containerIndex to
// "<basename>.<langOrStreamN>.<ext>" next to path, where ext is ".srt" for
// text codecs except ASS/SSA (which keep their native extension). After
// extracting an SRT, the codec's cleanup pass runs over the result. Returns
// the output path, or "" if the stream is not text-based (image-based
// streams are never extracted — OCR is explicitly unsupported).
func (p *Prober) Extract(ctx context.Context, containerPath string, containerIndex int, codec, lang string) (string, error) {
	codec = strings.ToLower(codec)
	if !classifyTextBased(codec) {
		return "", nil
	}

	ext := ".srt"
	switch codec {
	case "ass":
		ext = ".ass"
	case "ssa":
		ext = ".ssa"
	}

	tag := lang
	if tag == "" {
		tag = fmt.Sprintf("stream%d", containerIndex)
	}
	base := strings.TrimSuffix(containerPath, filepath.Ext(containerPath))
	outPath := fmt.Sprintf("%s.%s%s", base, tag, ext)

	cmd := exec.CommandContext(ctx, p.FFMpegPath,
		"-loglevel", "error",
		"-y",
		"-i", containerPath,
		"-map", fmt.Sprintf("0:%d", containerIndex),
		outPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg extract stream %d from %s: %w: %s", containerIndex, containerPath, err, stderr.String())
	}

	if ext == ".srt" {
		if err := subs.CleanupExtractedSRT(outPath); err != nil {
			return outPath, fmt.Errorf("cleaning up extracted subtitle %s: %w", outPath, err)
		}
	}
	return outPath, nil
}
