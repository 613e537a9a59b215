package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"poolwatch/internal/delivery"
	"poolwatch/internal/domain"
	"poolwatch/internal/ingest"
	"poolwatch/internal/window"

	"gitlab.com/nevasik7/alerting/logger"
)

const (
	DefaultLatestLimit = 5
	MaxLatestLimit     = 50
)

type Ingestor interface {
	AcceptBatch(ctx context.Context, payload *domain.WebhookPayload) (*ingest.Result, error)
	SupportsChain(chain domain.Chain) bool
}

type PoolReader interface {
	LatestPools(ctx context.Context, chain domain.Chain, variant domain.Variant, limit int) ([]domain.PoolRecord, error)
}

type AlertReader interface {
	List(ctx context.Context, chain domain.Chain, limit int) ([]domain.AlertRecord, error)
}

type QueueInspector interface {
	Len() int
	State() delivery.State
}

// Dependency is one readiness probe
type Dependency struct {
	Name  string
	Check func(ctx context.Context) error
}

type QueueStatus struct {
	Pending int    `json:"pending"`
	State   string `json:"state"`
}

// PoolwatchService is the single entry point the transport layer talks to:
// ingestion, read queries over the event store and activity windows, readiness
type PoolwatchService struct {
	log      logger.Logger
	ingestor Ingestor
	pools    PoolReader
	activity window.WindowEngine
	alerts   AlertReader
	queue    QueueInspector
	deps     []Dependency
}

func NewPoolwatchService(
	log logger.Logger,
	ingestor Ingestor,
	pools PoolReader,
	activity window.WindowEngine,
	alerts AlertReader,
	queue QueueInspector,
	deps ...Dependency,
) (*PoolwatchService, error) {
	if ingestor == nil || pools == nil || activity == nil || alerts == nil || queue == nil {
		return nil, errors.New("ingestor, pool reader, activity, alert reader and queue are required")
	}

	return &PoolwatchService{
		log:      log,
		ingestor: ingestor,
		pools:    pools,
		activity: activity,
		alerts:   alerts,
		queue:    queue,
		deps:     deps,
	}, nil
}

// Ingest persists one webhook payload. pathChain fills batches that omit their chain.
func (s *PoolwatchService) Ingest(ctx context.Context, pathChain string, payload *domain.WebhookPayload) (*ingest.Result, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrValidation)
	}

	if pathChain != "" {
		chain, err := s.chain(pathChain)
		if err != nil {
			return nil, err
		}
		for i := range payload.Data {
			switch domain.Chain(strings.ToLower(strings.TrimSpace(string(payload.Data[i].Chain)))) {
			case "":
				payload.Data[i].Chain = chain
			case chain:
			default:
				return nil, fmt.Errorf("%w: batch %d chain %q does not match path chain %q",
					domain.ErrValidation, i, payload.Data[i].Chain, chain)
			}
		}
	}

	return s.ingestor.AcceptBatch(ctx, payload)
}

func (s *PoolwatchService) LatestPools(ctx context.Context, chain, variant string, limit int) ([]domain.PoolRecord, error) {
	c, v, err := s.scope(chain, variant)
	if err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultLatestLimit
	case limit > MaxLatestLimit:
		limit = MaxLatestLimit
	}

	return s.pools.LatestPools(ctx, c, v, limit)
}

func (s *PoolwatchService) ActivePools(ctx context.Context, chain, variant string) ([]domain.ActivityWindow, error) {
	c, v, err := s.scope(chain, variant)
	if err != nil {
		return nil, err
	}
	return s.activity.TopActive(ctx, c, v, nowUTC())
}

func (s *PoolwatchService) PoolActivity(ctx context.Context, chain, variant, pool string) (*domain.ActivityWindow, error) {
	c, v, err := s.scope(chain, variant)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pool) == "" {
		return nil, fmt.Errorf("%w: pool address is required", domain.ErrValidation)
	}
	return s.activity.PoolActivity(ctx, c, v, pool, nowUTC())
}

func (s *PoolwatchService) RecentAlerts(ctx context.Context, chain string, limit int) ([]domain.AlertRecord, error) {
	c, err := s.chain(chain)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > MaxLatestLimit {
		limit = MaxLatestLimit
	}
	return s.alerts.List(ctx, c, limit)
}

func (s *PoolwatchService) QueueStatus() QueueStatus {
	return QueueStatus{Pending: s.queue.Len(), State: s.queue.State().String()}
}

// CheckDependency pings every registered dependency and joins the failures
func (s *PoolwatchService) CheckDependency(ctx context.Context) error {
	errDependency := make([]string, 0, len(s.deps))

	for _, d := range s.deps {
		if err := d.Check(ctx); err != nil {
			errDependency = append(errDependency, fmt.Sprintf("%s: %v", d.Name, err))
		}
	}

	if len(errDependency) > 0 {
		return fmt.Errorf("dependency check failed: %s", strings.Join(errDependency, "; "))
	}

	s.log.Debugf("All dependency check passed")
	return nil
}

func (s *PoolwatchService) chain(raw string) (domain.Chain, error) {
	c := domain.Chain(strings.ToLower(strings.TrimSpace(raw)))
	if !s.ingestor.SupportsChain(c) {
		return "", fmt.Errorf("%w: unsupported chain %q", domain.ErrValidation, raw)
	}
	return c, nil
}

func (s *PoolwatchService) scope(chain, variant string) (domain.Chain, domain.Variant, error) {
	c, err := s.chain(chain)
	if err != nil {
		return "", "", err
	}
	v, err := domain.ParseVariant(variant)
	if err != nil {
		return "", "", err
	}
	return c, v, nil
}

var nowUTC = func() time.Time { return time.Now().UTC() }
