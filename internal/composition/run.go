package composition

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vibecraft/orchestrator/internal/models"
	"github.com/vibecraft/orchestrator/internal/observability"
	"github.com/vibecraft/orchestrator/internal/orchestration"
	"github.com/vibecraft/orchestrator/internal/storage"
)

// jobRun holds the mutable state threaded through one Run's steps. Kept
// separate from Engine so Engine stays a stateless, reusable dispatcher.
type jobRun struct {
	engine  *Engine
	job     *models.CompositionJob
	workDir string

	song        *models.Song
	clips       []models.Clip
	beatTimes   []float64
	targetDur   float64 // selected song-region duration, the mux target
	sourcePaths []string
	normPaths   []string
	alignedPath []string // post beat-align paths, parallel to normPaths
	concatPath  string
	effectsPath string
	audioPath   string
	muxedPath   string
}

// validate probes nothing yet (clips aren't downloaded) but checks the
// preconditions the rest of the pipeline assumes: the song, its clip set,
// and the song-duration cap (§4.6 "Validate").
func (r *jobRun) validate(ctx context.Context) error {
	song, err := r.engine.db.GetSong(ctx, r.job.SongID)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "validate", "failed to load song", err)
	}
	r.song = song

	if len(r.job.ClipIDs) == 0 {
		return orchestration.Wrap(orchestration.KindValidation, "composition", "validate", "composition job has no clips", nil)
	}

	clips := make([]models.Clip, 0, len(r.job.ClipIDs))
	for _, id := range r.job.ClipIDs {
		c, err := r.engine.db.GetClip(ctx, id)
		if err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "composition", "validate", "failed to load clip", err)
		}
		if !c.IsComplete() {
			return orchestration.Wrap(orchestration.KindPrecondition, "composition", "validate",
				fmt.Sprintf("clip %s is not completed", c.ID), nil)
		}
		clips = append(clips, *c)
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].PlanIndex < clips[j].PlanIndex })
	r.clips = clips

	start, end := song.EffectiveRegion()
	r.targetDur = end - start
	if r.targetDur <= 0 {
		return orchestration.Wrap(orchestration.KindValidation, "composition", "validate", "song has no effective region", nil)
	}
	if r.targetDur > r.engine.cfg.MaxSongDurationSec {
		return orchestration.Wrap(orchestration.KindValidation, "composition", "validate",
			fmt.Sprintf("selected duration %.1fs exceeds the %.0fs cap", r.targetDur, r.engine.cfg.MaxSongDurationSec), nil)
	}

	var plannedTotal float64
	for _, c := range r.clips {
		plannedTotal += float64(c.RequestedFrames) / float64(c.RequestedFPS)
	}
	const epsilon = 0.25
	if plannedTotal < r.targetDur-epsilon || plannedTotal > r.targetDur+r.engine.cfg.MaxExtendSec {
		// §9 Open Question decision: over/under-length compositions fail
		// outright rather than best-effort trimming (see DESIGN.md).
		return orchestration.Wrap(orchestration.KindValidation, "composition", "validate",
			fmt.Sprintf("planned clip total %.1fs is outside [%.1fs-eps, %.1fs+max_extend] of selected duration %.1fs",
				plannedTotal, r.targetDur, r.targetDur, r.targetDur), nil)
	}

	if analysis, err := r.engine.db.GetLatestAnalysis(ctx, r.job.SongID); err == nil {
		r.beatTimes = []float64(analysis.BeatTimes)
	}

	return nil
}

// download fetches the song's source audio and every clip's rendered
// video from the blob store into the job's temp work dir.
func (r *jobRun) download(ctx context.Context) error {
	audioPath := filepath.Join(r.workDir, "source.audio")
	audioBytes, err := r.engine.storage.Download(ctx, r.song.SourceBlobKey)
	if err != nil {
		return orchestration.Wrap(orchestration.KindTransientExternal, "composition", "download", "failed to download source audio", err)
	}
	if err := os.WriteFile(audioPath, audioBytes, 0o644); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "download", "failed to write source audio", err)
	}
	r.audioPath = audioPath

	paths := make([]string, len(r.clips))
	for i, c := range r.clips {
		key := storage.ClipKey(c.ID)
		data, err := r.engine.storage.Download(ctx, key)
		if err != nil {
			return orchestration.Wrap(orchestration.KindTransientExternal, "composition", "download",
				fmt.Sprintf("failed to download clip %s", c.ID), err)
		}
		p := filepath.Join(r.workDir, fmt.Sprintf("src_%03d.mp4", i))
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "composition", "download", "failed to write clip", err)
		}
		paths[i] = p
	}
	r.sourcePaths = paths
	return nil
}

// normalize scales/letterboxes/re-fps/re-encodes every clip to the target
// profile, in a bounded worker pool run via errgroup (§4.6 "Executed in
// parallel with bounded worker pool"), checkpointing cancellation between
// units of work as each completes.
func (r *jobRun) normalize(ctx context.Context) error {
	out := make([]string, len(r.sourcePaths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.engine.cfg.NormalizeWorkerPoolSize)

	for i, src := range r.sourcePaths {
		i, src := i, src
		g.Go(func() error {
			if canceled, err := r.engine.checkpoint(gctx, r.job.ID); err != nil {
				return err
			} else if canceled {
				return errCanceled
			}
			dst := filepath.Join(r.workDir, fmt.Sprintf("norm_%03d.mp4", i))
			if err := normalizeClip(gctx, src, dst, r.engine.cfg); err != nil {
				return orchestration.Wrap(orchestration.KindInternal, "composition", "normalize",
					fmt.Sprintf("failed to normalize clip %d", i), err)
			}
			out[i] = dst
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if err == errCanceled {
			return errCanceled
		}
		return err
	}
	r.normPaths = out
	return nil
}

// beatAlign trims or extends each normalized clip to its planned
// beat-aligned duration, skipped entirely when the feature flag is off
// (§4.6 "optionally beat-aligning").
func (r *jobRun) beatAlign(ctx context.Context) error {
	if !r.engine.cfg.BeatAlignedTransitionsEnabled {
		r.alignedPath = r.normPaths
		return nil
	}

	aligned := make([]string, len(r.normPaths))
	for i, p := range r.normPaths {
		if canceled, err := r.engine.checkpoint(ctx, r.job.ID); err != nil {
			return err
		} else if canceled {
			return errCanceled
		}

		plannedDur := float64(r.clips[i].RequestedFrames) / float64(r.clips[i].RequestedFPS)
		actualDur, err := probeDuration(ctx, p)
		if err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "composition", "beatAlign", "failed to probe normalized clip", err)
		}

		dst := filepath.Join(r.workDir, fmt.Sprintf("aligned_%03d.mp4", i))
		if err := beatAlignClip(ctx, p, dst, actualDur, plannedDur, r.engine.cfg.TargetFPS); err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "composition", "beatAlign",
				fmt.Sprintf("failed to align clip %d", i), err)
		}
		aligned[i] = dst
	}
	r.alignedPath = aligned
	return nil
}

func (r *jobRun) concatenate(ctx context.Context) error {
	out := filepath.Join(r.workDir, "concatenated.mp4")
	if err := concatenateClips(ctx, r.alignedPath, out); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "concatenate", "failed to concatenate clips", err)
	}
	r.concatPath = out
	return nil
}

func (r *jobRun) applyBeatEffects(ctx context.Context) error {
	if !r.engine.cfg.BeatEffectEnabled || len(r.beatTimes) == 0 {
		r.effectsPath = r.concatPath
		return nil
	}
	out := filepath.Join(r.workDir, "effects.mp4")
	filter := buildBeatEffectFilter(r.beatTimes, r.engine.cfg.TargetFPS, r.engine.cfg.BeatEffectType)
	if err := applyVideoFilter(ctx, r.concatPath, out, filter); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "applyBeatEffects", "failed to apply beat effects", err)
	}
	r.effectsPath = out
	return nil
}

// mux combines the effects video with the original audio, extending the
// video by freezing its last frame when it falls short of the audio by no
// more than max_extend, and failing otherwise (§4.6 "Mux").
func (r *jobRun) mux(ctx context.Context) error {
	videoDur, err := probeDuration(ctx, r.effectsPath)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "mux", "failed to probe video duration", err)
	}

	videoPath := r.effectsPath
	shortfall := r.targetDur - videoDur
	if shortfall > 0 {
		if shortfall > r.engine.cfg.MaxExtendSec {
			return orchestration.Wrap(orchestration.KindValidation, "composition", "mux",
				fmt.Sprintf("video %.2fs short of audio %.2fs beyond max_extend %.1fs", videoDur, r.targetDur, r.engine.cfg.MaxExtendSec), nil)
		}
		extended := filepath.Join(r.workDir, "extended.mp4")
		if err := extendLastFrame(ctx, videoPath, extended, shortfall); err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "composition", "mux", "failed to extend video", err)
		}
		videoPath = extended
	}

	out := filepath.Join(r.workDir, "muxed.mp4")
	if err := muxAudioVideo(ctx, videoPath, r.audioPath, out, r.targetDur); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "mux", "failed to mux audio/video", err)
	}
	r.muxedPath = out
	return nil
}

// verify re-probes the muxed output and confirms it matches the target
// profile within tolerance (§4.6 "Verify").
func (r *jobRun) verify(ctx context.Context) error {
	probe, err := probeFile(ctx, r.muxedPath)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "verify", "failed to probe output", err)
	}
	if probe.Width != r.engine.cfg.TargetWidth || probe.Height != r.engine.cfg.TargetHeight {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "verify",
			fmt.Sprintf("output resolution %dx%d does not match target %dx%d", probe.Width, probe.Height, r.engine.cfg.TargetWidth, r.engine.cfg.TargetHeight), nil)
	}
	frameTolerance := 1.0 / float64(r.engine.cfg.TargetFPS)
	if math.Abs(probe.DurationSec-r.targetDur) > frameTolerance {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "verify",
			fmt.Sprintf("output duration %.3fs differs from target %.3fs by more than one frame", probe.DurationSec, r.targetDur), nil)
	}
	return nil
}

func (r *jobRun) upload(ctx context.Context) error {
	data, err := os.ReadFile(r.muxedPath)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "upload", "failed to read muxed output", err)
	}
	probe, err := probeFile(ctx, r.muxedPath)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "upload", "failed to probe final output", err)
	}

	video := &models.ComposedVideo{
		SongID:           r.job.SongID,
		Width:            probe.Width,
		Height:           probe.Height,
		FPS:              r.engine.cfg.TargetFPS,
		DurationSec:      probe.DurationSec,
		ByteSize:         int64(len(data)),
		CompositionJobID: r.job.ID,
		ClipIDs:          r.job.ClipIDs,
	}
	video.ID = uuid.New()
	video.BlobKey = storage.ComposedVideoKey(video.ID)

	if err := r.engine.storage.Upload(ctx, video.BlobKey, data, "video/mp4"); err != nil {
		return orchestration.Wrap(orchestration.KindTransientExternal, "composition", "upload", "failed to upload composed video", err)
	}
	if err := r.engine.db.CreateComposedVideo(ctx, video); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "upload", "failed to persist composed video record", err)
	}

	observability.L().Info("composition uploaded", observability.SongID(r.job.SongID.String()), observability.JobID(r.job.ID.String()))
	return nil
}
