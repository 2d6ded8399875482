package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"

	"github.com/vadim/neo-autopost/internal/domain/post/entity"
	"github.com/vadim/neo-autopost/internal/domain/post/planner"
	"github.com/vadim/neo-autopost/internal/domain/post/policy"
	"github.com/vadim/neo-autopost/internal/storage"
)

// sniffLen is how many leading bytes filetype needs to recognise a container
const sniffLen = 262

var allowedTypes = map[string]entity.MediaType{
	"jpg":  entity.MediaTypeImage,
	"png":  entity.MediaTypeImage,
	"webp": entity.MediaTypeImage,
	"mp4":  entity.MediaTypeVideo,
	"mov":  entity.MediaTypeVideo,
	"m4v":  entity.MediaTypeVideo,
}

// Queue is the part of the post policy ingestion feeds
type Queue interface {
	QueueFile(ctx context.Context, in policy.QueueInput) (*entity.Post, bool, error)
	PlanNow(ctx context.Context) (*planner.PlanResult, error)
}

// Uploader stores media where the platforms can fetch it
type Uploader interface {
	Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadOutput, error)
}

// Media is a sniffed media file
type Media struct {
	Type types.Type
	Kind entity.MediaType
}

// Sniff detects the media kind from the leading bytes of a file.
// Only images and videos the platforms accept pass.
func Sniff(head []byte) (*Media, error) {
	kind, err := filetype.Match(head)
	if err != nil || kind == types.Unknown {
		return nil, fmt.Errorf("%w: unrecognised file content", entity.ErrInvalidMediaType)
	}
	mt, ok := allowedTypes[kind.Extension]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrInvalidMediaType, kind.MIME.Value)
	}
	return &Media{Type: kind, Kind: mt}, nil
}

// Ingester turns raw media into queued posts
type Ingester struct {
	queue    Queue
	uploader Uploader // nil serves files from baseURL
	baseURL  string
	logger   *slog.Logger
}

// Option configures the Ingester
type Option func(*Ingester)

// WithUploader uploads media before queueing
func WithUploader(u Uploader) Option {
	return func(i *Ingester) {
		i.uploader = u
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingester) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewIngester creates an ingester. Without an uploader the media reference is
// baseURL joined with the file name.
func NewIngester(queue Queue, baseURL string, opts ...Option) *Ingester {
	i := &Ingester{
		queue:   queue,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// File is one media file to ingest
type File struct {
	Name   string
	Body   io.ReadSeeker
	Size   int64
	Source string // ingest, upload
}

// Ingest sniffs, stores and queues one file. created is false when a post for the
// file name is already pending.
func (i *Ingester) Ingest(ctx context.Context, f File) (*entity.Post, bool, error) {
	name := filepath.Base(strings.TrimSpace(f.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, false, entity.ErrEmptyFilename
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, false, fmt.Errorf("reading %s: %w", name, err)
	}
	media, err := Sniff(head[:n])
	if err != nil {
		return nil, false, err
	}
	if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
		return nil, false, fmt.Errorf("rewinding %s: %w", name, err)
	}

	mediaRef, err := i.store(ctx, name, media, f)
	if err != nil {
		return nil, false, err
	}

	return i.queue.QueueFile(ctx, policy.QueueInput{
		Filename:  name,
		MediaRef:  mediaRef,
		MediaType: media.Kind,
		Source:    f.Source,
	})
}

// IngestBytes ingests an in-memory file
func (i *Ingester) IngestBytes(ctx context.Context, name string, data []byte, source string) (*entity.Post, bool, error) {
	return i.Ingest(ctx, File{Name: name, Body: bytes.NewReader(data), Size: int64(len(data)), Source: source})
}

func (i *Ingester) store(ctx context.Context, name string, media *Media, f File) (string, error) {
	if i.uploader == nil {
		return i.baseURL + "/" + url.PathEscape(name), nil
	}

	out, err := i.uploader.Upload(ctx, storage.UploadInput{
		Reader:      f.Body,
		ContentType: media.Type.MIME.Value,
		Size:        f.Size,
		Filename:    name,
	})
	if err != nil {
		return "", fmt.Errorf("%w: uploading %s: %w", entity.ErrInternal, name, err)
	}
	i.logger.Info("media uploaded", "filename", name, "key", out.Key, "size", out.Size)
	return out.URL, nil
}
