package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/okian/maap/internal/domain/model"
	"github.com/okian/maap/pkg/logger"
	"github.com/okian/maap/pkg/metrics"
)

// Report compression modes.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

const (
	prefix      = "batches/"
	jsonExt     = ".json"
	zstdExt     = ".zst"
	contentJSON = "application/json"
	contentZstd = "application/zstd"
)

// Config selects and configures the blob driver behind a ReportArchive.
type Config struct {
	Driver      string
	FSRoot      string
	Compression string
	S3          S3Config
}

// Open builds the configured archive. DriverNone yields a nil archive and no error.
func Open(ctx context.Context, cfg Config, opts ...Option) (*ReportArchive, error) {
	var (
		blob Blob
		err  error
	)
	switch strings.ToLower(cfg.Driver) {
	case "", DriverNone:
		return nil, nil //nolint:nilnil // archiving disabled
	case DriverMemory:
		blob = NewMemoryBlob()
	case DriverFS:
		blob, err = NewFSBlob(cfg.FSRoot)
	case DriverS3:
		blob, err = NewS3Blob(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewReportArchive(blob, append([]Option{WithCompression(cfg.Compression)}, opts...)...)
}

// ReportArchive writes batch reports as JSON, optionally zstd compressed.
type ReportArchive struct {
	blob        Blob
	compression string
	log         logger.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewReportArchive returns an archive over blob.
func NewReportArchive(blob Blob, opts ...Option) (*ReportArchive, error) {
	a := &ReportArchive{
		blob:        blob,
		compression: CompressionNone,
		log:         logger.Get().Named("archive"),
	}
	for _, opt := range opts {
		opt(a)
	}
	switch a.compression {
	case CompressionNone, CompressionZstd:
	default:
		return nil, fmt.Errorf("archive: unknown compression %q", a.compression)
	}

	var err error
	if a.encoder, err = zstd.NewWriter(nil); err != nil {
		return nil, fmt.Errorf("archive: zstd encoder: %w", err)
	}
	if a.decoder, err = zstd.NewReader(nil); err != nil {
		return nil, fmt.Errorf("archive: zstd decoder: %w", err)
	}
	return a, nil
}

// Driver names the underlying blob driver.
func (a *ReportArchive) Driver() string { return a.blob.Driver() }

// Key returns where r is stored: batches/YYYY/MM/DD/<id>.json[.zst], dated by StartedAt in UTC.
func (a *ReportArchive) Key(r model.Report) string {
	day := r.StartedAt.UTC().Format("2006/01/02")
	key := prefix + day + "/" + r.ID + jsonExt
	if a.compression == CompressionZstd {
		key += zstdExt
	}
	return key
}

// Save stores r and returns its key.
func (a *ReportArchive) Save(ctx context.Context, r model.Report) (string, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("archive: encode report: %w", err)
	}
	contentType := contentJSON
	if a.compression == CompressionZstd {
		body = a.encoder.EncodeAll(body, make([]byte, 0, len(body)))
		contentType = contentZstd
	}

	key := a.Key(r)
	if _, err := a.blob.Put(ctx, key, bytes.NewReader(body), contentType); err != nil {
		metrics.RecordArchiveWrite(a.blob.Driver(), "error", 0)
		a.log.Error(ctx, "report archive failed", logger.String("key", key), logger.Error(err))
		return "", err
	}
	metrics.RecordArchiveWrite(a.blob.Driver(), "success", len(body))
	a.log.Debug(ctx, "report archived", logger.String("key", key), logger.Int("bytes", len(body)))
	return key, nil
}

// Load reads the report stored at key, decompressing by extension.
func (a *ReportArchive) Load(ctx context.Context, key string) (model.Report, error) {
	_, rc, err := a.blob.Get(ctx, key)
	if err != nil {
		return model.Report{}, err
	}
	defer func() { _ = rc.Close() }()

	body, err := io.ReadAll(rc)
	if err != nil {
		return model.Report{}, fmt.Errorf("archive: read %s: %w", key, err)
	}
	if strings.HasSuffix(key, zstdExt) {
		if body, err = a.decoder.DecodeAll(body, nil); err != nil {
			return model.Report{}, fmt.Errorf("archive: decompress %s: %w", key, err)
		}
	}
	var r model.Report
	if err := json.Unmarshal(body, &r); err != nil {
		return model.Report{}, fmt.Errorf("archive: decode %s: %w", key, err)
	}
	return r, nil
}

// Find locates a report by id regardless of date or compression.
func (a *ReportArchive) Find(ctx context.Context, id string) (model.Report, error) {
	infos, err := a.blob.List(ctx, prefix)
	if err != nil {
		return model.Report{}, err
	}
	for _, info := range infos {
		base := path.Base(info.Key)
		if base == id+jsonExt || base == id+jsonExt+zstdExt {
			return a.Load(ctx, info.Key)
		}
	}
	return model.Report{}, fmt.Errorf("%w: report %s", ErrNotFound, id)
}
