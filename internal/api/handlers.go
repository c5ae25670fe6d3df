package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/beatalign"
	"github.com/vibecraft/orchestrator/internal/clipcoordinator"
	"github.com/vibecraft/orchestrator/internal/db"
	"github.com/vibecraft/orchestrator/internal/models"
	"github.com/vibecraft/orchestrator/internal/orchestration"
	"github.com/vibecraft/orchestrator/internal/orchestrator"
	"github.com/vibecraft/orchestrator/internal/queue"
	"github.com/vibecraft/orchestrator/internal/storage"
)

// Handler implements the §6 HTTP surface. It holds no pipeline logic of
// its own — every operation delegates to orchestrator/clipcoordinator/
// beatalign/db, mirroring the teacher's thin-handler, service-owns-logic
// split.
type Handler struct {
	db           *db.DB
	queue        *queue.Queue
	storage      *storage.Storage
	orchestrator *orchestrator.Orchestrator
	clips        *clipcoordinator.Coordinator
	targetFPS    int
	minClipSec   float64
	maxClipSec   float64
}

func NewHandler(
	database *db.DB,
	q *queue.Queue,
	stor *storage.Storage,
	orch *orchestrator.Orchestrator,
	clipCoordinator *clipcoordinator.Coordinator,
	targetFPS int,
	minClipSec, maxClipSec float64,
) *Handler {
	return &Handler{
		db:           database,
		queue:        q,
		storage:      stor,
		orchestrator: orch,
		clips:        clipCoordinator,
		targetFPS:    targetFPS,
		minClipSec:   minClipSec,
		maxClipSec:   maxClipSec,
	}
}

// UploadSong handles POST /v1/songs/.
func (h *Handler) UploadSong(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing audio file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read audio file")
		return
	}

	ext := extensionOf(header.Filename)
	blobKey := storage.SongSourceKey(uuid.New(), ext)
	if err := h.storage.Upload(r.Context(), blobKey, data, contentTypeForExt(ext)); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to upload source audio")
		return
	}

	song, err := h.orchestrator.UploadSong(r.Context(), blobKey)
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}

	if charFile, charHeader, err := r.FormFile("character_image"); err == nil {
		defer charFile.Close()
		charData, readErr := io.ReadAll(charFile)
		if readErr == nil {
			charKey := storage.CharacterReferenceKey(song.ID)
			if upErr := h.storage.Upload(r.Context(), charKey, charData, contentTypeForExt(extensionOf(charHeader.Filename))); upErr == nil {
				_ = h.db.SetCharacterReference(r.Context(), song.ID, charKey)
				song.CharacterRefBlobKey = &charKey
			}
		}
	}

	readURL, err := h.storage.GetSignedURL(r.Context(), song.SourceBlobKey, 3600)
	if err != nil {
		readURL = ""
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       song.ID,
		"read_url": readURL,
	})
}

// GetSong handles GET /v1/songs/{id}.
func (h *Handler) GetSong(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	song, err := h.db.GetSong(r.Context(), songID)
	if err != nil {
		respondError(w, http.StatusNotFound, "song not found")
		return
	}
	respondJSON(w, http.StatusOK, song)
}

type videoTypeRequest struct {
	VideoType models.VideoType `json:"video_type"`
}

// SetVideoType handles PATCH /v1/songs/{id}/video-type.
func (h *Handler) SetVideoType(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	var req videoTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.VideoType {
	case models.VideoTypeFullLength, models.VideoTypeShortForm:
	default:
		respondError(w, http.StatusBadRequest, "video_type must be full_length or short_form")
		return
	}

	if err := h.orchestrator.SetVideoType(r.Context(), songID, req.VideoType); err != nil {
		respondOrchestrationError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type audioSelectionRequest struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// SetAudioSelection handles PATCH /v1/songs/{id}/audio-selection.
func (h *Handler) SetAudioSelection(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	var req audioSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	duration := req.EndSec - req.StartSec
	if duration < 1 || duration > 30 {
		respondError(w, http.StatusBadRequest, "selection duration must be within [1, 30] seconds")
		return
	}
	if err := h.orchestrator.SetAudioSelection(r.Context(), songID, req.StartSec, req.EndSec); err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StartAnalysis handles POST /v1/songs/{id}/analyze.
func (h *Handler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	job, err := h.orchestrator.StartAnalysis(r.Context(), songID)
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": job.ID})
}

// GetAnalysis handles GET /v1/songs/{id}/analysis.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	analysis, err := h.db.GetLatestAnalysis(r.Context(), songID)
	if err != nil {
		if err == db.ErrNotFound {
			respondError(w, http.StatusNotFound, "no analysis exists for this song")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}

// GetBeatAlignedBoundaries handles GET /v1/songs/{id}/beat-aligned-boundaries?fps=F.
func (h *Handler) GetBeatAlignedBoundaries(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	fps := h.targetFPS
	if raw := r.URL.Query().Get("fps"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			fps = parsed
		}
	}

	song, err := h.db.GetSong(r.Context(), songID)
	if err != nil {
		respondError(w, http.StatusNotFound, "song not found")
		return
	}
	analysis, err := h.db.GetLatestAnalysis(r.Context(), songID)
	if err != nil {
		if err == db.ErrNotFound {
			respondError(w, http.StatusNotFound, "no analysis exists for this song")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}

	start, end := song.EffectiveRegion()
	result, err := beatalign.Align(beatalign.Params{
		BeatTimes:  analysis.BeatTimes,
		Duration:   end,
		MinClipSec: h.minClipSec,
		MaxClipSec: h.maxClipSec,
		TargetFPS:  float64(fps),
		StartSec:   start,
		EndSec:     end,
	})
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PlanClips handles POST /v1/songs/{id}/clips/plan?clip_count=N&max_clip_sec=S.
// clip_count is accepted for API compatibility but the planner derives the
// actual clip count from the beat grid (§4.2); max_clip_sec overrides the
// configured upper bound for this plan only.
func (h *Handler) PlanClips(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}

	ok, reason, err := h.orchestrator.CanPlanClips(r.Context(), songID)
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusConflict, reason)
		return
	}

	maxClipSec := h.maxClipSec
	if raw := r.URL.Query().Get("max_clip_sec"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil && parsed >= h.minClipSec {
			maxClipSec = parsed
		}
	}

	song, err := h.db.GetSong(r.Context(), songID)
	if err != nil {
		respondError(w, http.StatusNotFound, "song not found")
		return
	}
	plan, err := h.clips.Plan(r.Context(), song, h.targetFPS, h.minClipSec, maxClipSec)
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// GenerateClips handles POST /v1/songs/{id}/clips/generate.
func (h *Handler) GenerateClips(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	count, err := h.clips.Generate(r.Context(), songID)
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"enqueued": count})
}

// RetryClip handles POST /v1/songs/{id}/clips/{clip_id}/retry.
func (h *Handler) RetryClip(w http.ResponseWriter, r *http.Request) {
	clipID, err := uuid.Parse(chi.URLParam(r, "clip_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid clip id")
		return
	}
	clip, err := h.db.GetClip(r.Context(), clipID)
	if err != nil {
		respondError(w, http.StatusNotFound, "clip not found")
		return
	}
	if err := h.clips.Retry(r.Context(), clip); err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// CancelClip handles POST /v1/songs/{id}/clips/{clip_id}/cancel.
func (h *Handler) CancelClip(w http.ResponseWriter, r *http.Request) {
	clipID, err := uuid.Parse(chi.URLParam(r, "clip_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid clip id")
		return
	}
	if err := h.clips.Cancel(r.Context(), clipID); err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// ClipsStatus handles GET /v1/songs/{id}/clips/status.
func (h *Handler) ClipsStatus(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	summary, err := h.clips.Status(r.Context(), songID)
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ClipsJob handles GET /v1/songs/{id}/clips/job.
func (h *Handler) ClipsJob(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	job, err := h.orchestrator.LatestJobStatus(r.Context(), songID, queue.KindGenerateClip)
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// ComposeAsync handles POST /v1/songs/{id}/clips/compose/async.
func (h *Handler) ComposeAsync(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	job, err := h.orchestrator.StartComposition(r.Context(), songID)
	if err != nil {
		respondOrchestrationError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": job.ID})
}

// CancelComposition handles POST /v1/songs/{id}/clips/compose/cancel
// (§5: cooperative cancellation via status=canceling).
func (h *Handler) CancelComposition(w http.ResponseWriter, r *http.Request) {
	songID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	active, err := h.db.ActiveCompositionJob(r.Context(), songID)
	if err != nil {
		if err == db.ErrNotFound {
			respondError(w, http.StatusNotFound, "no active composition for this song")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to look up composition job")
		return
	}
	if err := h.db.RequestCancelComposition(r.Context(), active.ID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

// GetJob handles GET /v1/jobs/{job_id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := h.db.GetJob(r.Context(), jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// Health check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondOrchestrationError maps an internal/orchestration.Error's Kind to
// an HTTP status (§7): Validation->400, Precondition->409,
// TransientExternal/Resource->503, PermanentExternal->502, and Internal
// (or any unwrapped error)->500 with the message elided in favor of a
// trace id.
func respondOrchestrationError(w http.ResponseWriter, err error) {
	switch orchestration.KindOf(err) {
	case orchestration.KindValidation:
		respondError(w, http.StatusBadRequest, err.Error())
	case orchestration.KindPrecondition:
		respondError(w, http.StatusConflict, err.Error())
	case orchestration.KindTransientExternal, orchestration.KindResource:
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case orchestration.KindPermanentExternal:
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		var traceID string
		if oe, ok := err.(*orchestration.Error); ok {
			traceID = oe.TraceID
		}
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":    "internal error",
			"trace_id": traceID,
		})
	}
}

func extensionOf(filename string) string {
	for i := len(filename) - 1; i >= 0 && i > len(filename)-8; i-- {
		if filename[i] == '.' {
			return filename[i+1:]
		}
	}
	return "bin"
}

func contentTypeForExt(ext string) string {
	switch ext {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "m4a":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	case "ogg":
		return "audio/ogg"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
