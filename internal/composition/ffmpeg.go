package composition

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// probe is the subset of ffprobe's stream/format output composition cares
// about (§4.6 "Validate"/"Verify").
type probe struct {
	Width       int
	Height      int
	FPS         float64
	DurationSec float64
	Codec       string
}

// ffprobeJSON mirrors the shape of `ffprobe -of json`, the same invocation
// style the teacher uses in GetAudioDuration/GetVideoDuration, generalized
// here to also read stream dimensions/codec/frame rate.
type ffprobeJSON struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func probeFile(ctx context.Context, path string) (*probe, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "stream=codec_type,codec_name,width,height,r_frame_rate:format=duration",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var parsed ffprobeJSON
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	p := &probe{}
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
		p.DurationSec = d
	}
	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		p.Width = s.Width
		p.Height = s.Height
		p.Codec = s.CodecName
		p.FPS = parseFrameRate(s.RFrameRate)
		break
	}
	if p.Width == 0 || p.Height == 0 {
		return nil, fmt.Errorf("ffprobe found no video stream in %s", path)
	}
	return p, nil
}

func probeDuration(ctx context.Context, path string) (float64, error) {
	p, err := probeFile(ctx, path)
	if err != nil {
		return 0, err
	}
	return p.DurationSec, nil
}

// parseFrameRate converts ffprobe's "24/1" or "30000/1001" rational into a
// float fps.
func parseFrameRate(raw string) float64 {
	var num, den float64
	if _, err := fmt.Sscanf(raw, "%f/%f", &num, &den); err != nil || den == 0 {
		return 0
	}
	return num / den
}

func runFFmpeg(ctx context.Context, args ...string) error {
	full := append(append([]string{}, args...), "-y")
	cmd := exec.CommandContext(ctx, "ffmpeg", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, truncate(string(out), 2000))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// normalizeClip scales to the target resolution preserving aspect ratio
// with letterbox padding, re-fps, and re-encodes to the target
// codec/CRF/preset (§4.6 "Normalize"), the same scale+pad+setsar idiom the
// teacher's zoompan output stage uses, generalized to arbitrary source
// clips instead of a single still image.
func normalizeClip(ctx context.Context, inPath, outPath string, cfg Config) error {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d",
		cfg.TargetWidth, cfg.TargetHeight, cfg.TargetWidth, cfg.TargetHeight, cfg.TargetFPS,
	)
	return runFFmpeg(ctx,
		"-i", inPath,
		"-vf", vf,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(cfg.CRF),
		"-preset", cfg.Preset,
		"-an",
		outPath,
	)
}

// beatAlignClip trims a normalized clip to its planned beat-aligned
// duration when it runs long, or freezes the last frame and fades out
// when it runs short (§4.6 "Beat-align trim/extend").
func beatAlignClip(ctx context.Context, inPath, outPath string, actualDur, plannedDur float64, fps int) error {
	if actualDur >= plannedDur {
		return runFFmpeg(ctx, "-i", inPath, "-t", fmt.Sprintf("%.3f", plannedDur), "-c", "copy", outPath)
	}
	shortfall := plannedDur - actualDur
	fadeStart := plannedDur - shortfall*0.5
	vf := fmt.Sprintf(
		"tpad=stop_mode=clone:stop_duration=%.3f,fade=t=out:st=%.3f:d=%.3f",
		shortfall, fadeStart, shortfall*0.5,
	)
	return runFFmpeg(ctx, "-i", inPath, "-vf", vf, "-r", strconv.Itoa(fps), outPath)
}

// concatenateClips stitches already-normalized (same codec/resolution/
// fps) clips with the stream-copy concat demuxer, identical to the
// teacher's ConcatenateClips.
func concatenateClips(ctx context.Context, paths []string, outPath string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}
	listPath := outPath + ".list.txt"
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(f, "file '%s'\n", abs)
	}
	f.Close()
	defer os.Remove(listPath)

	return runFFmpeg(ctx, "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", outPath)
}

// applyVideoFilter runs a single -vf filter expression against a
// video-only input, re-encoding the result (used for the beat-effects
// step).
func applyVideoFilter(ctx context.Context, inPath, outPath, filter string) error {
	return runFFmpeg(ctx, "-i", inPath, "-vf", filter, "-c:v", "libx264", "-an", outPath)
}

// extendLastFrame freezes the final frame for extendSec, used in mux when
// the video falls short of the audio by no more than max_extend.
func extendLastFrame(ctx context.Context, inPath, outPath string, extendSec float64) error {
	vf := fmt.Sprintf("tpad=stop_mode=clone:stop_duration=%.3f", extendSec)
	return runFFmpeg(ctx, "-i", inPath, "-vf", vf, "-an", outPath)
}

// muxAudioVideo combines the visual track with the original audio,
// truncating to targetDur (§4.6 "Mux").
func muxAudioVideo(ctx context.Context, videoPath, audioPath, outPath string, targetDur float64) error {
	return runFFmpeg(ctx,
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-t", fmt.Sprintf("%.3f", targetDur),
		outPath,
	)
}
