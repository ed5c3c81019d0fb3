// Package recorder archives merged book snapshots to S3 as parquet
// files. It subscribes to store changes, flattens each snapshot into
// per-level rows, buffers them per market and flushes on an interval.
package recorder

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"dlobflow/dlob"
	"dlobflow/logger"
	"dlobflow/models"
)

// LevelRecord is one parquet row: a single price level of one
// snapshot side.
type LevelRecord struct {
	Market      string `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Slot        int64  `parquet:"name=slot, type=INT64"`
	Timestamp   int64  `parquet:"name=timestamp, type=INT64"`
	Side        string `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price       int64  `parquet:"name=price, type=INT64"`
	Size        int64  `parquet:"name=size, type=INT64"`
	Level       int32  `parquet:"name=level, type=INT32"`
	OraclePrice int64  `parquet:"name=oracle_price, type=INT64"`
}

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string

	BatchSize     int           // rows per market before an early flush
	FlushInterval time.Duration // periodic flush cadence
	Compression   string        // snappy, gzip or uncompressed
	Version       string        // stamped into object metadata
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 5000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Minute
	}
	return c
}

// Recorder drains store change notifications and uploads parquet
// batches. Construct with New, attach with Attach, then Start.
type Recorder struct {
	config   Config
	store    *dlob.Store
	s3Client *s3.Client
	changes  chan models.MarketId
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	log      *logger.Log
	buffer   map[string][]LevelRecord
	ticker   *time.Ticker
}

func New(cfg Config, store *dlob.Store) (*Recorder, error) {
	cfg = cfg.withDefaults()
	log := logger.GetLogger()

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	r := &Recorder{
		config:   cfg,
		store:    store,
		s3Client: s3Client,
		changes:  make(chan models.MarketId, 1024),
		log:      log,
		buffer:   make(map[string][]LevelRecord),
	}

	log.WithComponent("recorder").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
	}).Info("recorder initialized")

	return r, nil
}

// Attach registers the recorder on the store. Change notifications
// that arrive while the buffer channel is full are dropped.
func (r *Recorder) Attach() {
	r.store.OnChange(func(id models.MarketId) {
		select {
		case r.changes <- id:
		default:
		}
	})
}

func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recorder already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.ticker = time.NewTicker(r.config.FlushInterval)
	r.mu.Unlock()

	log := r.log.WithComponent("recorder").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting recorder")

	r.wg.Add(2)
	go r.drainWorker()
	go r.flushWorker()

	log.Info("recorder started successfully")
	return nil
}

func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.ticker.Stop()

	r.log.WithComponent("recorder").Info("stopping recorder")
	r.wg.Wait()
	r.log.WithComponent("recorder").Info("recorder stopped")
}

func (r *Recorder) drainWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("recorder").WithFields(logger.Fields{"worker": "drain"})
	log.Info("starting drain worker")

	for {
		select {
		case <-r.ctx.Done():
			log.Info("drain worker stopped due to context cancellation")
			return
		case id := <-r.changes:
			r.record(id)
		}
	}
}

func (r *Recorder) flushWorker() {
	defer r.wg.Done()

	log := r.log.WithComponent("recorder").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-r.ctx.Done():
			r.flushBuffers("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-r.ticker.C:
			r.flushBuffers("interval")
		}
	}
}

// record flattens the current snapshot of a market into level rows.
func (r *Recorder) record(id models.MarketId) {
	snap := r.store.StateForMarket(id)
	oracle := r.store.OracleForMarket(id)
	now := time.Now().UnixMilli()
	key := id.Key()

	rows := make([]LevelRecord, 0, len(snap.Bids)+len(snap.Asks))
	for i, lvl := range snap.Bids {
		rows = append(rows, LevelRecord{
			Market:      key,
			Slot:        int64(snap.Slot),
			Timestamp:   now,
			Side:        "bid",
			Price:       lvl.Price,
			Size:        lvl.Size,
			Level:       int32(i + 1),
			OraclePrice: oracle.Price,
		})
	}
	for i, lvl := range snap.Asks {
		rows = append(rows, LevelRecord{
			Market:      key,
			Slot:        int64(snap.Slot),
			Timestamp:   now,
			Side:        "ask",
			Price:       lvl.Price,
			Size:        lvl.Size,
			Level:       int32(i + 1),
			OraclePrice: oracle.Price,
		})
	}
	if len(rows) == 0 {
		return
	}

	r.mu.Lock()
	r.buffer[key] = append(r.buffer[key], rows...)
	full := len(r.buffer[key]) >= r.config.BatchSize
	r.mu.Unlock()

	if full {
		r.flushBuffers("batch_size")
	}
}

func (r *Recorder) flushBuffers(reason string) {
	r.mu.Lock()
	buffers := r.buffer
	r.buffer = make(map[string][]LevelRecord)
	r.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	r.log.WithComponent("recorder").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing buffers")

	for market, rows := range buffers {
		if len(rows) == 0 {
			continue
		}
		r.uploadBatch(market, rows)
	}
}

func (r *Recorder) uploadBatch(market string, rows []LevelRecord) {
	batchID := uuid.New().String()
	now := time.Now().UTC()

	log := r.log.WithComponent("recorder").WithFields(logger.Fields{
		"batch_id":     batchID,
		"market":       market,
		"record_count": len(rows),
		"operation":    "upload_batch",
	})
	log.Info("processing batch")

	s3Key := r.objectKey(market, now)
	log = log.WithFields(logger.Fields{"s3_key": s3Key})

	data, err := r.buildParquet(rows)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.config.Bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"compression":      r.config.Compression,
			"dlobflow-version": r.config.Version,
		},
	}
	ctx := context.WithoutCancel(r.ctx)
	if _, err := r.s3Client.PutObject(ctx, input); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": r.config.Bucket}).
			Error("failed to upload to S3")
		return
	}

	logger.IncrementArchiveWrite(int64(len(data)))
	logger.LogDataFlowEntry(r.log.WithComponent("recorder"), market, "s3", len(rows), "l2_levels")
	log.WithFields(logger.Fields{"file_size": len(data)}).Info("batch processed and uploaded successfully")
}

func (r *Recorder) objectKey(market string, ts time.Time) string {
	parts := []string{
		fmt.Sprintf("market=%s", market),
		fmt.Sprintf("%04d/%02d/%02d/%02d", ts.Year(), ts.Month(), ts.Day(), ts.Hour()),
		fmt.Sprintf("%s_l2_%s.parquet", market, ts.Format("20060102150405")),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

func (r *Recorder) buildParquet(rows []LevelRecord) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(LevelRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch r.config.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}
