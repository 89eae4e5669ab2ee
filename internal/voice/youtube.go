package voice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kkdai/youtube/v2"
)

// Track describes a resolved YouTube video.
type Track struct {
	ID       string
	Title    string
	Author   string
	Duration time.Duration
	URL      string
}

// YouTube turns links or video ids into queue items. Audio is fetched only
// when the item reaches the head of the queue.
type YouTube struct {
	Client *youtube.Client
	now    func() time.Time
}

// NewYouTube returns a resolver with a 15s HTTP timeout.
func NewYouTube() *YouTube {
	return &YouTube{
		Client: &youtube.Client{HTTPClient: &http.Client{Timeout: 15 * time.Second}},
		now:    time.Now,
	}
}

// Item looks up the video behind query and returns a lazily resolved item
// with its Track as metadata.
func (y *YouTube) Item(ctx context.Context, query string) (*QueueItem, Track, error) {
	id, err := youtube.ExtractVideoID(query)
	if err != nil {
		return nil, Track{}, fmt.Errorf("parse video id: %w", err)
	}
	video, err := y.Client.GetVideoContext(ctx, id)
	if err != nil {
		return nil, Track{}, fmt.Errorf("fetch video %s: %w", id, err)
	}

	track := Track{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
		URL:      "https://www.youtube.com/watch?v=" + video.ID,
	}
	item := &QueueItem{
		EnqueuedAt: y.now(),
		Metadata:   track,
		Resolve: func(ctx context.Context) (Source, error) {
			// Stream URLs expire, so the video is fetched again when it is due.
			fresh, err := y.Client.GetVideoContext(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("refresh video %s: %w", id, err)
			}
			formats := fresh.Formats.WithAudioChannels()
			if len(formats) == 0 {
				return nil, errors.New("no audio formats found for video")
			}
			stream, _, err := y.Client.GetStreamContext(ctx, fresh, &formats[0])
			if err != nil {
				return nil, fmt.Errorf("get stream: %w", err)
			}
			src, err := FFmpeg(stream)
			if err != nil {
				_ = stream.Close()
				return nil, err
			}
			return src, nil
		},
	}
	return item, track, nil
}
