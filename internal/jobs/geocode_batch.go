package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rpattn/eventingest/internal/domain"
	"github.com/rpattn/eventingest/internal/geocode"
	"github.com/rpattn/eventingest/internal/validation"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Geocode sources recorded on rows and events.
const (
	SourceCoordinates = "coordinates"
	SourceGeocoder    = geocode.SourceProvider
)

// GeocodeBatchOutput summarises the geocoding stage.
type GeocodeBatchOutput struct {
	Located      int  `json:"located"`
	FromColumns  int  `json:"fromColumns"`
	FromGeocoder int  `json:"fromGeocoder"`
	Failed       int  `json:"failed"`
	Skipped      bool `json:"skipped"`
}

// GeocodeBatch locates every unique row of the import. Rows with detected
// latitude and longitude columns are taken verbatim; otherwise the address
// column is sent to the geocoder, once per distinct address.
func (p *Pipeline) GeocodeBatch(ctx context.Context, task Task) (Result, error) {
	if err := p.requireStore(); err != nil {
		return Result{}, err
	}
	var in JobInput
	if err := decodeInput(task, &in, "Import Job ID is required for geocoding job"); err != nil {
		return Result{}, err
	}

	return p.withStageLock(ctx, in.ImportJobID, func() (Result, error) {
		job, err := p.store.Jobs.GetByID(ctx, in.ImportJobID)
		if err != nil {
			return Result{}, Permanent(fmt.Errorf("load import job %s: %w", in.ImportJobID, err))
		}
		if job.Stage != domain.StageGeocodeBatch {
			return skipped("import job is not at geocoding"), nil
		}

		out, err := p.geocodeJob(ctx, job)
		if err != nil {
			return Result{}, p.fail(ctx, job.ID, contextGeocoding, err)
		}
		return Result{Output: out}, nil
	})
}

func (p *Pipeline) geocodeJob(ctx context.Context, job domain.ImportJob) (GeocodeBatchOutput, error) {
	detection := job.Detection
	canGeocode := detection.AddressColumn != "" && p.deps.Geocoder != nil
	var out GeocodeBatchOutput

	if !detection.HasCoordinates() && !canGeocode {
		out.Skipped = true
		if err := p.finishGeocoding(ctx, job.ID, out, true); err != nil {
			return out, err
		}
		return out, nil
	}

	cache := &addressCache{results: make(map[string]*domain.Point)}
	for index := 0; index < job.BatchCount; index++ {
		batch, err := p.loadBatch(ctx, job.ID, index)
		if err != nil {
			return out, err
		}

		var addresses []string
		for i := range batch.Rows {
			row := &batch.Rows[i]
			if row.Duplicate || row.Hash == "" {
				continue
			}
			if point, ok := pointFromColumns(row.Data, detection); ok {
				row.Location = &point
				row.GeocodeSource = SourceCoordinates
				continue
			}
			if canGeocode {
				if address := addressOf(row.Data, detection.AddressColumn); address != "" && !cache.has(address) {
					addresses = append(addresses, address)
				}
			}
		}

		if err := p.resolveAddresses(ctx, job.ID, cache, uniqueStrings(addresses)); err != nil {
			return out, err
		}

		handled := 0
		for i := range batch.Rows {
			row := &batch.Rows[i]
			if row.Duplicate || row.Hash == "" {
				continue
			}
			handled++
			switch {
			case row.GeocodeSource == SourceCoordinates:
				out.FromColumns++
			case canGeocode:
				if point := cache.get(addressOf(row.Data, detection.AddressColumn)); point != nil {
					pt := *point
					row.Location = &pt
					row.GeocodeSource = SourceGeocoder
					out.FromGeocoder++
				} else {
					out.Failed++
				}
			default:
				out.Failed++
			}
		}
		out.Located = out.FromColumns + out.FromGeocoder

		if err := p.saveBatch(ctx, batch); err != nil {
			return out, err
		}
		if _, err := p.deps.Progress.Advance(ctx, job.ID, domain.StageGeocodeBatch, handled); err != nil {
			return out, err
		}
	}

	if err := p.finishGeocoding(ctx, job.ID, out, false); err != nil {
		return out, err
	}
	return out, nil
}

func (p *Pipeline) resolveAddresses(ctx context.Context, jobID uuid.UUID, cache *addressCache, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.GeocodeConcurrency)
	for _, address := range addresses {
		g.Go(func() error {
			result, err := p.deps.Geocoder.Geocode(gctx, address)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				cache.put(address, nil)
				p.recordIssue(gctx, jobID, domain.StageGeocodeBatch, nil, fmt.Sprintf("geocoding %q failed: %v", address, err))
				return nil
			}
			point := result.Point
			cache.put(address, &point)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) finishGeocoding(ctx context.Context, jobID uuid.UUID, out GeocodeBatchOutput, skip bool) error {
	now := p.now()
	if _, err := p.store.Jobs.Update(ctx, jobID, func(j *domain.ImportJob) error {
		j.GeocodedRows = out.Located
		if skip {
			j.Progress.SkipStage(domain.StageGeocodeBatch, now)
		} else {
			j.Progress.CompleteStage(domain.StageGeocodeBatch, now)
		}
		j.Progress.StartStage(domain.StageCreateEvents, j.Duplicates.Summary.UniqueRows, now)
		j.MoveTo(domain.StageCreateEvents)
		return nil
	}); err != nil {
		return err
	}
	p.jobLogger(jobID, domain.StageGeocodeBatch).WithField("located", out.Located).WithField("failed", out.Failed).Info("geocoding finished")
	return p.enqueue(ctx, TaskCreateEvents, JobInput{ImportJobID: jobID})
}

type addressCache struct {
	mu      sync.Mutex
	results map[string]*domain.Point
}

func (c *addressCache) has(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.results[address]
	return ok
}

func (c *addressCache) get(address string) *domain.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.results[address]
}

func (c *addressCache) put(address string, point *domain.Point) {
	c.mu.Lock()
	c.results[address] = point
	c.mu.Unlock()
}

func pointFromColumns(row domain.Row, detection domain.ColumnDetection) (domain.Point, bool) {
	if !detection.HasCoordinates() {
		return domain.Point{}, false
	}
	lat, ok := validation.CoerceFloat(row[detection.LatitudeColumn])
	if !ok || lat < -90 || lat > 90 {
		return domain.Point{}, false
	}
	lng, ok := validation.CoerceFloat(row[detection.LongitudeColumn])
	if !ok || lng < -180 || lng > 180 {
		return domain.Point{}, false
	}
	return domain.Point{Lat: lat, Lng: lng}, true
}

func addressOf(row domain.Row, column string) string {
	if column == "" {
		return ""
	}
	value, ok := row[column].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
