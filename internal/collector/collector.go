// Package collector implements the concurrent collection engine: it
// enumerates subsystems from the directory, fans them out over a bounded
// worker pool, discovers SOAP methods and REST services, fetches and
// normalizes their descriptions, and assembles one ordered snapshot.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xroad-catalogue/collector/internal/catalogue"
	"github.com/xroad-catalogue/collector/internal/logger"
	"github.com/xroad-catalogue/collector/internal/metrics"
	"github.com/xroad-catalogue/collector/internal/normalize"
	"github.com/xroad-catalogue/collector/internal/xroad"
	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

// ProtocolClient is the registry access surface the engine drives. It is
// satisfied by xroad.Client; tests substitute a scripted implementation.
type ProtocolClient interface {
	Endpoint() string
	ListSubsystems(ctx context.Context, instance string) ([]xroad.SubsystemID, error)
	ListMethods(ctx context.Context, producer xroad.SubsystemID) ([]xroad.MethodID, error)
	FetchWSDL(ctx context.Context, method xroad.MethodID) (string, error)
	ListServices(ctx context.Context, producer xroad.SubsystemID) ([]xroad.ServiceID, error)
	FetchOpenAPI(ctx context.Context, service xroad.ServiceID) (string, error)
}

// Options configures an Engine.
type Options struct {
	Client     ProtocolClient
	Logger     *logger.Logger
	Metrics    *metrics.Collector
	Normalizer *normalize.Normalizer
	// Instance selects the directory instance; empty means the security
	// server's own instance.
	Instance   string
	Workers    int
	Exclusions Exclusions
	// Now supplies the snapshot timestamp; nil means time.Now.
	Now func() time.Time
}

// Engine runs one collection pass.
type Engine struct {
	client     ProtocolClient
	log        *logger.Logger
	metrics    *metrics.Collector
	normalizer *normalize.Normalizer
	instance   string
	workers    int
	exclusions Exclusions
	now        func() time.Time
	gate       *endpointGate
}

// New builds an Engine from Options.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, apperrors.NewValidationError("client", "protocol client is required", nil)
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		client:     opts.Client,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		normalizer: opts.Normalizer,
		instance:   opts.Instance,
		workers:    workers,
		exclusions: opts.Exclusions,
		now:        now,
		gate:       newEndpointGate(),
	}, nil
}

// Run performs one collection pass and returns the assembled snapshot. An
// error is returned only when the directory itself cannot be enumerated;
// every per-subsystem failure degrades to a status inside the snapshot.
func (e *Engine) Run(ctx context.Context) (*catalogue.Snapshot, error) {
	started := e.now()
	// The timeout cascade is scoped to a single run; an endpoint that timed
	// out last time gets a fresh chance.
	e.gate = newEndpointGate()

	subsystems, err := e.client.ListSubsystems(ctx, e.instance)
	if err != nil {
		return nil, fmt.Errorf("directory query failed: %w", err)
	}
	e.log.WithFields(map[string]any{"subsystems": len(subsystems)}).Info("directory enumerated")

	var targets []xroad.SubsystemID
	for _, subsystem := range subsystems {
		if tag, excluded := e.exclusions.Match(subsystem); excluded {
			e.log.WithFields(map[string]any{
				"subsystem": subsystem.String(),
				"tag":       tag,
			}).Info("subsystem excluded")
			continue
		}
		targets = append(targets, subsystem)
	}

	reports := make(map[string]catalogue.SubsystemReport, len(targets))
	var reportsMu sync.Mutex

	jobs := make(chan xroad.SubsystemID)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for subsystem := range jobs {
				report := e.collectSubsystem(ctx, subsystem)
				reportsMu.Lock()
				reports[subsystem.Key()] = report
				reportsMu.Unlock()
			}
		}()
	}
	for _, subsystem := range targets {
		jobs <- subsystem
	}
	close(jobs)
	wg.Wait()

	snapshot := &catalogue.Snapshot{
		ReportTime: e.now(),
		Subsystems: make([]catalogue.SubsystemReport, 0, len(reports)),
	}
	for _, report := range reports {
		snapshot.Subsystems = append(snapshot.Subsystems, report)
	}
	snapshot.Sort()

	e.metrics.RecordRun(snapshot.ReportTime.Sub(started), len(snapshot.Subsystems), snapshot.ReportTime)

	return snapshot, nil
}

func (e *Engine) collectSubsystem(ctx context.Context, subsystem xroad.SubsystemID) catalogue.SubsystemReport {
	e.log.WithFields(map[string]any{"subsystem": subsystem.String()}).Info("processing subsystem")

	methodStatus, methods := e.collectMethods(ctx, subsystem)
	serviceStatus, services := e.collectServices(ctx, subsystem)

	return catalogue.SubsystemReport{
		ID:              subsystem,
		SubsystemStatus: methodStatus,
		ServicesStatus:  serviceStatus,
		Methods:         methods,
		Services:        services,
	}
}

// classifyQuery maps a query error onto a status and arms the cascade on
// deadline expiry.
func (e *Engine) classifyQuery(err error) catalogue.Status {
	if apperrors.IsTimeout(err) {
		e.gate.Arm(e.client.Endpoint())
		return catalogue.StatusTimeout
	}
	return catalogue.StatusError
}

func (e *Engine) collectMethods(ctx context.Context, subsystem xroad.SubsystemID) (catalogue.Status, []catalogue.MethodReport) {
	log := e.log.WithFields(map[string]any{"subsystem": subsystem.String(), "protocol": "soap"})

	if e.gate.Armed(e.client.Endpoint()) {
		log.Info("skipping method discovery, endpoint timed out earlier")
		e.metrics.RecordQuery(metrics.KindListMethods, catalogue.StatusSkipped)
		return catalogue.StatusSkipped, nil
	}

	methods, err := e.client.ListMethods(ctx, subsystem)
	if err != nil {
		status := e.classifyQuery(err)
		e.metrics.RecordQuery(metrics.KindListMethods, status)
		log.Error(err, "method discovery failed")
		return status, nil
	}
	e.metrics.RecordQuery(metrics.KindListMethods, catalogue.StatusOK)

	index := make(map[string]catalogue.MethodReport)
	for _, method := range methods {
		key := method.String()
		if _, seen := index[key]; seen {
			// Already resolved through an earlier method's WSDL.
			continue
		}

		if e.gate.Armed(e.client.Endpoint()) {
			log.WithFields(map[string]any{"method": key}).Info("skipping method")
			e.metrics.RecordQuery(metrics.KindFetchWSDL, catalogue.StatusSkipped)
			index[key] = catalogue.MethodReport{ID: method, Status: catalogue.StatusSkipped}
			continue
		}

		wsdlText, err := e.client.FetchWSDL(ctx, method)
		if err != nil {
			status := e.classifyQuery(err)
			e.metrics.RecordQuery(metrics.KindFetchWSDL, status)
			log.WithFields(map[string]any{"method": key}).Error(err, "WSDL fetch failed")
			index[key] = catalogue.MethodReport{ID: method, Status: status}
			continue
		}
		e.metrics.RecordQuery(metrics.KindFetchWSDL, catalogue.StatusOK)

		normalized := e.normalizer.Apply(wsdlText)
		document := &catalogue.Document{Content: normalized, Format: catalogue.DocWSDL}

		described, err := xroad.WSDLMethods(normalized)
		if err != nil {
			log.WithFields(map[string]any{"method": key}).Error(err, "WSDL parsing failed")
			index[key] = catalogue.MethodReport{ID: method, Status: catalogue.StatusError}
			continue
		}

		// One WSDL routinely describes several methods of the subsystem;
		// record them all against the same document.
		for _, entry := range described {
			id := xroad.MethodID{
				SubsystemID:    subsystem,
				ServiceCode:    entry.ServiceCode,
				ServiceVersion: entry.ServiceVersion,
			}
			index[id.String()] = catalogue.MethodReport{
				ID:       id,
				Status:   catalogue.StatusOK,
				Document: document,
			}
		}

		if _, found := index[key]; !found {
			log.WithFields(map[string]any{"method": key}).Warn("method missing from its own WSDL")
			index[key] = catalogue.MethodReport{ID: method, Status: catalogue.StatusError}
		}
	}

	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	reports := make([]catalogue.MethodReport, 0, len(keys))
	for _, key := range keys {
		reports = append(reports, index[key])
	}
	return catalogue.StatusOK, reports
}

func (e *Engine) collectServices(ctx context.Context, subsystem xroad.SubsystemID) (catalogue.Status, []catalogue.ServiceReport) {
	log := e.log.WithFields(map[string]any{"subsystem": subsystem.String(), "protocol": "rest"})

	if e.gate.Armed(e.client.Endpoint()) {
		log.Info("skipping service discovery, endpoint timed out earlier")
		e.metrics.RecordQuery(metrics.KindListServices, catalogue.StatusSkipped)
		return catalogue.StatusSkipped, nil
	}

	services, err := e.client.ListServices(ctx, subsystem)
	if err != nil {
		status := e.classifyQuery(err)
		e.metrics.RecordQuery(metrics.KindListServices, status)
		log.Error(err, "service discovery failed")
		return status, nil
	}
	e.metrics.RecordQuery(metrics.KindListServices, catalogue.StatusOK)

	reports := make([]catalogue.ServiceReport, 0, len(services))
	for _, service := range services {
		key := service.String()

		if e.gate.Armed(e.client.Endpoint()) {
			log.WithFields(map[string]any{"service": key}).Info("skipping service")
			e.metrics.RecordQuery(metrics.KindFetchOpenAPI, catalogue.StatusSkipped)
			reports = append(reports, catalogue.ServiceReport{ID: service, Status: catalogue.StatusSkipped})
			continue
		}

		doc, err := e.client.FetchOpenAPI(ctx, service)
		if errors.Is(err, xroad.ErrNotOpenAPIService) {
			// A plain REST service without a description is a valid result.
			e.metrics.RecordQuery(metrics.KindFetchOpenAPI, catalogue.StatusOK)
			reports = append(reports, catalogue.ServiceReport{ID: service, Status: catalogue.StatusOK})
			continue
		}
		if err != nil {
			status := e.classifyQuery(err)
			e.metrics.RecordQuery(metrics.KindFetchOpenAPI, status)
			log.WithFields(map[string]any{"service": key}).Error(err, "OpenAPI fetch failed")
			reports = append(reports, catalogue.ServiceReport{ID: service, Status: status})
			continue
		}

		endpoints, err := xroad.OpenAPIEndpoints(doc)
		if err != nil {
			e.metrics.RecordQuery(metrics.KindFetchOpenAPI, catalogue.StatusError)
			log.WithFields(map[string]any{"service": key}).Error(err, "OpenAPI parsing failed")
			reports = append(reports, catalogue.ServiceReport{ID: service, Status: catalogue.StatusError})
			continue
		}
		e.metrics.RecordQuery(metrics.KindFetchOpenAPI, catalogue.StatusOK)

		reports = append(reports, catalogue.ServiceReport{
			ID:     service,
			Status: catalogue.StatusOK,
			Document: &catalogue.Document{
				Content:     doc,
				Format:      catalogue.DocFormat(xroad.DetectOpenAPIFormat(doc)),
				ServiceCode: service.ServiceCode,
			},
			Endpoints: endpoints,
		})
	}

	return catalogue.StatusOK, reports
}
