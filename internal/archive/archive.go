// Package archive uploads finished recordings to S3-compatible storage and
// enforces filename-date retention on recordings.
package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/meetscribe/meetscribe/internal/config"
	"github.com/meetscribe/meetscribe/internal/events"
)

const (
	// queueSize bounds pending uploads; Enqueue drops when the queue is full
	// rather than blocking the capture path.
	queueSize = 16

	uploadTimeout  = 5 * time.Minute
	cleanupTimeout = 5 * time.Minute
)

// datePattern matches the date stamp in recording filenames like
// meeting-2026-08-25-14-30-00.wav.
var datePattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

type uploadRequest struct {
	localPath string
	key       string
	size      int64
}

// Uploader queues finished recordings for background upload to a bucket.
type Uploader struct {
	cfg     config.ArchiveConfig
	journal *events.Logger
	log     zerolog.Logger
	client  *s3.Client

	queue  chan uploadRequest
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewUploader creates an uploader and starts its worker. journal may be nil.
func NewUploader(cfg config.ArchiveConfig, journal *events.Logger, logger zerolog.Logger) (*Uploader, error) {
	if !cfg.IsConfigured() {
		return nil, errors.New("archive is not configured")
	}

	u := &Uploader{
		cfg:     cfg,
		journal: journal,
		log:     logger.With().Str("component", "archive").Logger(),
		client:  newS3Client(cfg),
		queue:   make(chan uploadRequest, queueSize),
		stopCh:  make(chan struct{}),
	}
	u.wg.Add(1)
	go u.worker()
	return u, nil
}

// newS3Client builds a client for the configured endpoint with static
// credentials. Custom endpoints use path-style addressing.
func newS3Client(cfg config.ArchiveConfig) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}
	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// Enqueue schedules path for upload. A full queue drops the request with a
// warning.
func (u *Uploader) Enqueue(path string) {
	info, err := os.Stat(path)
	if err != nil {
		u.log.Warn().Err(err).Str("path", path).Msg("Skipping upload of unreadable file")
		return
	}

	req := uploadRequest{
		localPath: path,
		key:       u.objectKey(filepath.Base(path)),
		size:      info.Size(),
	}

	select {
	case u.queue <- req:
		u.log.Info().Str("key", req.key).Msg("Queued recording for upload")
	default:
		u.log.Warn().Str("path", path).Msg("Upload queue full, dropping")
	}
}

// Stop drains queued uploads and waits for the worker to finish.
func (u *Uploader) Stop() {
	close(u.stopCh)
	u.wg.Wait()
}

// worker processes the queue, draining remaining items on shutdown.
func (u *Uploader) worker() {
	defer u.wg.Done()

	for {
		select {
		case <-u.stopCh:
			for {
				select {
				case req := <-u.queue:
					u.upload(req)
				default:
					return
				}
			}
		case req := <-u.queue:
			u.upload(req)
		}
	}
}

func (u *Uploader) upload(req uploadRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	file, err := os.Open(req.localPath)
	if err != nil {
		u.log.Error().Err(err).Str("path", req.localPath).Msg("Failed to open file for upload")
		u.logEvent(events.UploadFailed, req, err)
		return
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(req.key),
		Body:          file,
		ContentLength: aws.Int64(req.size),
		ContentType:   aws.String(contentTypeFor(req.localPath)),
	})
	if err != nil {
		u.log.Error().Err(err).Str("key", req.key).Msg("Upload failed")
		u.logEvent(events.UploadFailed, req, err)
		return
	}

	u.log.Info().Str("key", req.key).Msg("Upload completed")
	u.logEvent(events.UploadCompleted, req, nil)

	if u.cfg.DeleteLocal {
		if err := os.Remove(req.localPath); err != nil {
			u.log.Warn().Err(err).Str("path", req.localPath).Msg("Failed to delete local file after upload")
		}
	}
}

func (u *Uploader) logEvent(kind events.EventType, req uploadRequest, cause error) {
	if u.journal == nil {
		return
	}
	e := &events.Event{Event: kind, Path: req.localPath, Message: req.key}
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := u.journal.Log(e); err != nil {
		u.log.Warn().Err(err).Msg("Failed to journal upload event")
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".srt":
		return "application/x-subrip"
	default:
		return "application/octet-stream"
	}
}

// objectKey places filename under the configured prefix.
func (u *Uploader) objectKey(filename string) string {
	if u.cfg.Prefix == "" {
		return filename
	}
	return strings.TrimSuffix(u.cfg.Prefix, "/") + "/" + filename
}

// CleanupRemote deletes bucket objects under the configured prefix whose
// filename date is older than retentionDays. Returns the number deleted.
func (u *Uploader) CleanupRemote(ctx context.Context, retentionDays int) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()

	var deleted int
	var continuationToken *string
	for {
		input := &s3.ListObjectsV2Input{Bucket: aws.String(u.cfg.Bucket)}
		if u.cfg.Prefix != "" {
			input.Prefix = aws.String(strings.TrimSuffix(u.cfg.Prefix, "/") + "/")
		}
		if continuationToken != nil {
			input.ContinuationToken = continuationToken
		}

		output, err := u.client.ListObjectsV2(ctx, input)
		if err != nil {
			u.log.Warn().Err(err).Msg("Retention sweep failed to list bucket objects")
			return deleted
		}

		for _, obj := range output.Contents {
			key := aws.ToString(obj.Key)
			fileDate, ok := extractDate(filepath.Base(key))
			if !ok || !fileDate.Before(cutoff) {
				continue
			}
			if _, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(u.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				u.log.Warn().Err(err).Str("key", key).Msg("Retention sweep failed to delete object")
				continue
			}
			deleted++
		}

		if !aws.ToBool(output.IsTruncated) {
			break
		}
		continuationToken = output.NextContinuationToken
	}

	if deleted > 0 {
		u.log.Info().Int("count", deleted).Msg("Retention sweep deleted old bucket objects")
	}
	return deleted
}

// CleanupLocal deletes files in dir whose filename date is older than
// retentionDays. Files without a date stamp are left alone, as is skipPath
// (the active recording). Returns the number deleted.
func CleanupLocal(dir string, retentionDays int, skipPath string, logger zerolog.Logger) int {
	if retentionDays <= 0 {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("Retention sweep could not read directory")
		return 0
	}

	var deleted int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileDate, ok := extractDate(entry.Name())
		if !ok || !fileDate.Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if path == skipPath {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Retention sweep failed to delete file")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		logger.Info().Int("count", deleted).Str("dir", dir).Msg("Retention sweep deleted old recordings")
	}
	return deleted
}

// extractDate pulls the YYYY-MM-DD stamp from a recording filename.
func extractDate(filename string) (time.Time, bool) {
	matches := datePattern.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return time.Time{}, false
	}

	date, err := time.Parse(time.DateOnly, matches[1])
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}
