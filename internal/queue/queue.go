// Package queue implements the named FIFO job queue (§2 "Job Queue"):
// at-least-once delivery over Redis lists, with clip generation using a
// dedicated per-environment queue and analysis/composition sharing the
// default queue (§9 "Queue identity").
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// QueueDefault carries analysis and composition jobs. ClipGenerationQueue
// names the clip queue per environment so multiple environments sharing one Redis
// instance don't cross-dequeue each other's clip jobs.
const (
	QueueDefault = "queue:default"
)

func ClipGenerationQueue(env string) string {
	return fmt.Sprintf("%s:clip-generation", env)
}

// Job kinds enqueued onto the queues above.
const (
	KindAnalyzeSong    = "analyze_song"
	KindGenerateClip   = "generate_clip"
	KindComposeVideo   = "compose_video"
)

type Queue struct {
	client *redis.Client
}

// Job is the envelope written to a queue. Data carries kind-specific
// payload fields (e.g. attempt number for generate_clip).
type Job struct {
	ID        uuid.UUID              `json:"id"`
	Kind      string                 `json:"kind"`
	SongID    uuid.UUID              `json:"song_id"`
	ClipID    *uuid.UUID             `json:"clip_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

// Dequeue blocks up to timeout waiting for a job; a nil, nil result means
// the timeout elapsed with nothing available (the caller should loop).
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) Length(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueAnalysis enqueues a song analysis job onto the default queue.
func (q *Queue) EnqueueAnalysis(ctx context.Context, songID, jobID uuid.UUID) error {
	return q.Enqueue(ctx, QueueDefault, &Job{ID: jobID, Kind: KindAnalyzeSong, SongID: songID})
}

// EnqueueClipGeneration enqueues one per-clip job onto the named
// clip-generation queue for the given environment.
func (q *Queue) EnqueueClipGeneration(ctx context.Context, env string, songID, clipID, jobID uuid.UUID, attempt int) error {
	job := &Job{
		ID:     jobID,
		Kind:   KindGenerateClip,
		SongID: songID,
		ClipID: &clipID,
		Data:   map[string]interface{}{"attempt": attempt},
	}
	return q.Enqueue(ctx, ClipGenerationQueue(env), job)
}

// EnqueueComposition enqueues a composition job onto the default queue.
func (q *Queue) EnqueueComposition(ctx context.Context, songID, jobID uuid.UUID) error {
	return q.Enqueue(ctx, QueueDefault, &Job{ID: jobID, Kind: KindComposeVideo, SongID: songID})
}
