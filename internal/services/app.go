package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/Lllllllleong/labelflow/internal/config"
	"github.com/Lllllllleong/labelflow/internal/document"
	"github.com/Lllllllleong/labelflow/internal/gcp"
	"github.com/Lllllllleong/labelflow/internal/inventory"
	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/orderlog"
	"github.com/Lllllllleong/labelflow/internal/registry"
	"github.com/Lllllllleong/labelflow/internal/store"
)

// App holds every service of one process, built from one Config.
type App struct {
	Config config.Config

	DB         *sql.DB
	CatalogDB  *sql.DB
	Firestore  *firestore.Client
	Storage    *storage.Client
	Executions *executions.Client

	Inventory *inventory.Inventory
	Registry  registry.Registry
	Orders    *orderlog.Store

	Fulfiller *Fulfiller
	Splitter  *Splitter
	Purger    *Purger
	Returns   *Returns
	Importer  *CodeImporter
	Reporter  *Reporter
	Publisher *Publisher
	Notifier  Notifier
}

// NewApp opens storage, reconciles inventory and wires the services. Cloud
// clients are only created for the features the configuration enables.
func NewApp(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.DB, err = store.Open(ctx, cfg.DatabasePath, cfg.BusyTimeout); err != nil {
		return nil, err
	}
	if a.CatalogDB, err = store.Open(ctx, cfg.CatalogPath, cfg.BusyTimeout); err != nil {
		return nil, err
	}
	// Firestore backs the registry and mirrors daemon job records.
	if cfg.RegistryBackend == config.BackendFirestore || (cfg.ProjectID != "" && cfg.JobsCollection != "") {
		if a.Firestore, err = gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase); err != nil {
			return nil, err
		}
	}
	if cfg.ArtifactBucket != "" || cfg.InboundBucket != "" {
		if a.Storage, err = storage.NewClient(ctx); err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
	}
	if cfg.WorkflowID != "" {
		if a.Executions, err = gcp.NewExecutionsClient(ctx); err != nil {
			return nil, err
		}
	}

	switch cfg.RegistryBackend {
	case config.BackendSQLite:
		if a.Registry, err = registry.NewSQLite(ctx, a.DB); err != nil {
			return nil, err
		}
	case config.BackendFirestore:
		a.Registry = registry.NewFirestore(a.Firestore, cfg.FirestoreCollection)
	case config.BackendMemory:
		a.Registry = registry.NewMemory()
	default:
		return nil, fmt.Errorf("%w: unknown registry_backend %q", config.ErrInvalidConfig, cfg.RegistryBackend)
	}

	codec, err := document.ForFormat(cfg.DocumentFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	a.Inventory, err = inventory.New(ctx, inventory.Options{
		Root:            cfg.InventoryDir,
		Codec:           codec,
		CatalogDB:       a.CatalogDB,
		TextCacheSize:   cfg.TextCacheSize,
		ScanConcurrency: cfg.ScanConcurrency,
	})
	if err != nil {
		return nil, err
	}
	if err = a.Inventory.Reconcile(ctx); err != nil {
		return nil, err
	}
	if a.Orders, err = orderlog.New(ctx, a.DB); err != nil {
		return nil, err
	}

	a.Fulfiller = NewFulfiller(a.Inventory, a.Registry, cfg.ArtifactDir, a.Orders)
	a.Splitter = NewSplitter(a.Inventory)
	a.Purger = NewPurger(a.Inventory, a.Registry, cfg.ScanConcurrency)
	a.Returns = NewReturns(a.Inventory, a.Registry, a.Splitter)
	a.Importer = NewCodeImporter(a.Registry, cfg.ExceptionPrefixes)
	a.Reporter = NewReporter(a.Inventory, a.Registry, cfg.ScanConcurrency)
	a.Publisher = NewPublisher(a.Storage, cfg.ArtifactBucket)
	if a.Executions != nil {
		a.Notifier = NewWorkflowNotifier(a.Executions, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
	} else {
		a.Notifier = LogNotifier{}
	}

	slog.Info("Application initialized.",
		"inventory", cfg.InventoryDir,
		"registry", cfg.RegistryBackend,
		"format", cfg.DocumentFormat,
		"publishing", a.Publisher != nil,
		"workflowId", cfg.WorkflowID)
	return a, nil
}

// ProcessOrder fulfills an order and publishes its artifact. The returned
// JobResult is ready to hand to the Notifier.
func (a *App) ProcessOrder(ctx context.Context, jobID string, req models.OrderRequest) (*models.FulfillmentResult, models.JobResult, error) {
	jr := models.JobResult{JobID: jobID, CallbackContext: req.CallbackContext}
	res, err := a.Fulfiller.Fulfill(ctx, jobID, req.OrderLines)
	if err != nil {
		jr.Status = models.StatusFailed
		jr.Error = err.Error()
		return nil, jr, err
	}
	uri, err := a.Publisher.Publish(ctx, jobID, res.ArtifactPath)
	if err != nil {
		// The artifact stays on local disk; delivery falls back to the path.
		slog.Error("Failed to publish artifact", "jobId", jobID, "error", err)
	}
	res.ArtifactURI = uri
	jr.Status = models.StatusDone
	jr.ArtifactPath = res.ArtifactPath
	jr.ArtifactURI = res.ArtifactURI
	jr.ShortageText = res.ShortageText
	return res, jr, nil
}

// Close releases every client and database the App opened.
func (a *App) Close() error {
	var errs []error
	if a.Registry != nil {
		errs = append(errs, a.Registry.Close())
	}
	if a.Firestore != nil {
		errs = append(errs, a.Firestore.Close())
	}
	if a.Storage != nil {
		errs = append(errs, a.Storage.Close())
	}
	if a.Executions != nil {
		errs = append(errs, a.Executions.Close())
	}
	if a.CatalogDB != nil {
		errs = append(errs, a.CatalogDB.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
