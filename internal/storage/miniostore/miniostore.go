// Package miniostore persists catalogue versions in an S3-compatible
// object store via the MinIO client. Individual object puts are atomic, so
// the latest pointer and history indices are replaced only after the
// version object itself is durable.
package miniostore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/xroad-catalogue/collector/internal/catalogue"
	"github.com/xroad-catalogue/collector/internal/logger"
	"github.com/xroad-catalogue/collector/internal/storage"
	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

const backendName = "minio"

// Config carries the object store connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	// Path is the key prefix the catalogue tree lives under; empty means
	// the bucket root.
	Path   string
	Secure bool
}

// Store is an object storage backend for one bucket/prefix.
type Store struct {
	client    *minio.Client
	bucket    string
	prefix    string
	retention storage.Retention
	log       *logger.Logger
	now       func() time.Time
}

// New connects to the object store and verifies the bucket exists.
func New(ctx context.Context, cfg Config, retention storage.Retention, log *logger.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, apperrors.NewValidationError("url", "object store endpoint is required", nil)
	}
	if cfg.Bucket == "" {
		return nil, apperrors.NewValidationError("bucket", "bucket name is required", nil)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, apperrors.NewStorageError(backendName, "connect", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, apperrors.NewStorageError(backendName, "check bucket", err)
	}
	if !exists {
		return nil, apperrors.NewStorageError(backendName, "check bucket",
			apperrors.NewValidationError("bucket", "bucket does not exist: "+cfg.Bucket, nil))
	}

	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Path, "/"),
		retention: retention,
		log:       log,
		now:       time.Now,
	}, nil
}

// Persist writes the snapshot as a new catalogue version and then lets the
// cleanup gate decide whether a retention pass runs.
func (s *Store) Persist(ctx context.Context, snapshot *catalogue.Snapshot) error {
	if err := s.writeArtifacts(ctx, snapshot); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshot.Subsystems, "", "  ")
	if err != nil {
		return apperrors.NewStorageError(backendName, "encode version", err)
	}

	versionFile := snapshot.FileName()
	if err := s.writeObject(ctx, versionFile, data, "application/json"); err != nil {
		return err
	}

	history, err := s.readHistory(ctx)
	if err != nil {
		s.log.Info("history index not found, starting a new one")
		history = nil
	}
	history = append(history, catalogue.Version{
		ReportTime: snapshot.ReportTime,
		ReportPath: versionFile,
	})
	catalogue.SortVersions(history)

	if err := s.writeHistory(ctx, storage.HistoryFile, history); err != nil {
		return err
	}

	filtered := storage.FilteredHistory(
		history, s.now(),
		s.retention.FilteredHours, s.retention.FilteredDays, s.retention.FilteredMonths)
	if err := s.writeHistory(ctx, storage.FilteredHistoryFile, filtered); err != nil {
		return err
	}

	if err := s.writeObject(ctx, storage.LatestFile, data, "application/json"); err != nil {
		return err
	}

	status := storage.Status{LastReport: snapshot.ReportTime.Format(catalogue.DateFormat)}
	if err := s.writeJSON(ctx, storage.StatusFile, status); err != nil {
		return err
	}

	s.log.WithFields(map[string]any{
		"version":    versionFile,
		"subsystems": len(snapshot.Subsystems),
	}).Info("catalogue version persisted")

	return s.Cleanup(ctx)
}

// ListHistory returns the version history oldest first, rebuilding it from
// the bucket listing when the history index is missing.
func (s *Store) ListHistory(ctx context.Context) ([]catalogue.Version, error) {
	history, err := s.readHistory(ctx)
	if err == nil {
		return history, nil
	}
	return s.scanVersions(ctx)
}

// Cleanup deletes versions outside the retention window and artifacts no
// retained version references, at most once per configured interval.
func (s *Store) Cleanup(ctx context.Context) error {
	if last, ok := s.readCleanupStatus(ctx); ok {
		if !storage.CleanupDue(last, s.retention.CleanupInterval, s.now()) {
			s.log.Debug("cleanup interval has not passed yet")
			return nil
		}
	}
	s.log.Info("starting cleanup")

	versions, err := s.scanVersions(ctx)
	if err != nil {
		return err
	}

	if len(versions) > 0 {
		if err := s.removeOldVersions(ctx, versions); err != nil {
			return err
		}
		if err := s.removeUnusedDocs(ctx); err != nil {
			return err
		}
	} else {
		s.log.Warn("no catalogue versions found during cleanup")
	}

	status := storage.CleanupStatus{LastCleanup: s.now().Format(catalogue.DateFormat)}
	return s.writeJSON(ctx, storage.CleanupStatusFile, status)
}

// Close releases no resources; the underlying HTTP client is shared.
func (s *Store) Close() error { return nil }

func (s *Store) writeArtifacts(ctx context.Context, snapshot *catalogue.Snapshot) error {
	for i := range snapshot.Subsystems {
		subsystem := &snapshot.Subsystems[i]
		relDir := subsystem.ID.Path()

		wsdlHashes, err := s.loadHashes(ctx, relDir, storage.WSDLHashFile, storage.IsWSDLName)
		if err != nil {
			return err
		}
		openAPIHashes, err := s.loadHashes(ctx, relDir, storage.OpenAPIHashFile, storage.IsOpenAPIName)
		if err != nil {
			return err
		}

		for j := range subsystem.Methods {
			method := &subsystem.Methods[j]
			if method.Document == nil {
				continue
			}
			name, err := s.storeDoc(ctx, relDir, wsdlHashes, method.Document, "text/xml")
			if err != nil {
				return err
			}
			method.WSDLPath = relDir + "/" + name
		}
		for j := range subsystem.Services {
			service := &subsystem.Services[j]
			if service.Document == nil {
				continue
			}
			contentType := "application/json"
			if service.Document.Format == catalogue.DocYAML {
				contentType = "application/x-yaml"
			}
			name, err := s.storeDoc(ctx, relDir, openAPIHashes, service.Document, contentType)
			if err != nil {
				return err
			}
			service.OpenAPIPath = relDir + "/" + name
		}

		if err := s.writeJSON(ctx, relDir+"/"+storage.WSDLHashFile, wsdlHashes); err != nil {
			return err
		}
		if err := s.writeJSON(ctx, relDir+"/"+storage.OpenAPIHashFile, openAPIHashes); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) storeDoc(ctx context.Context, relDir string, hashes map[string]string, doc *catalogue.Document, contentType string) (string, error) {
	name, hash, existing, err := storage.ResolveDocName(hashes, doc)
	if err != nil {
		return "", apperrors.NewStorageError(backendName, "resolve document name", err)
	}
	if existing {
		return name, nil
	}
	if err := s.writeObject(ctx, relDir+"/"+name, []byte(doc.Content), contentType); err != nil {
		return "", err
	}
	hashes[name] = hash
	return name, nil
}

// loadHashes reads a subsystem's hash cache object, rebuilding it from
// artifact content when the cache is missing.
func (s *Store) loadHashes(ctx context.Context, relDir, cacheFile string, match func(string) bool) (map[string]string, error) {
	data, err := s.readObject(ctx, relDir+"/"+cacheFile)
	if err == nil {
		var hashes map[string]string
		if json.Unmarshal(data, &hashes) == nil && hashes != nil {
			return hashes, nil
		}
	}
	return s.hashDocs(ctx, relDir, match)
}

func (s *Store) hashDocs(ctx context.Context, relDir string, match func(string) bool) (map[string]string, error) {
	hashes := make(map[string]string)
	prefix := s.key(relDir) + "/"
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, apperrors.NewStorageError(backendName, "list documents", object.Err)
		}
		name := path.Base(object.Key)
		if !match(name) {
			continue
		}
		data, err := s.readObject(ctx, relDir+"/"+name)
		if err != nil {
			return nil, err
		}
		hashes[name] = storage.DocHash(string(data))
	}
	return hashes, nil
}

func (s *Store) removeOldVersions(ctx context.Context, versions []catalogue.Version) error {
	now := s.now()
	fresh := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -s.retention.DaysToKeep)

	keep := make(map[string]struct{})
	for _, p := range storage.ReportsToKeep(versions, fresh) {
		keep[p] = struct{}{}
	}

	removed := 0
	for _, version := range versions {
		if _, ok := keep[version.ReportPath]; ok {
			continue
		}
		s.log.WithFields(map[string]any{"version": version.ReportPath}).Info("removing old version")
		err := s.client.RemoveObject(ctx, s.bucket, s.key(version.ReportPath), minio.RemoveObjectOptions{})
		if err != nil {
			return apperrors.NewStorageError(backendName, "remove version", err)
		}
		removed++
	}
	if removed == 0 {
		return nil
	}

	remaining, err := s.scanVersions(ctx)
	if err != nil {
		return err
	}
	return s.writeHistory(ctx, storage.HistoryFile, remaining)
}

func (s *Store) removeUnusedDocs(ctx context.Context) error {
	versions, err := s.scanVersions(ctx)
	if err != nil || len(versions) == 0 {
		return err
	}

	used := make(map[string]struct{})
	for _, version := range versions {
		data, err := s.readObject(ctx, version.ReportPath)
		if err != nil {
			return err
		}
		docs, err := storage.UsedDocs(data)
		if err != nil {
			return apperrors.NewStorageError(backendName, "parse version", err)
		}
		for doc := range docs {
			used[doc] = struct{}{}
		}
	}
	if len(used) == 0 {
		s.log.Info("no documents referenced by any version, skipping document sweep")
		return nil
	}

	changedDirs := make(map[string]struct{})
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return apperrors.NewStorageError(backendName, "list documents", object.Err)
		}
		rel := strings.TrimPrefix(object.Key, prefix)
		if !storage.IsArtifactName(path.Base(rel)) {
			continue
		}
		if _, ok := used[rel]; ok {
			continue
		}
		s.log.WithFields(map[string]any{"document": rel}).Info("removing unused document")
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return apperrors.NewStorageError(backendName, "remove document", err)
		}
		changedDirs[path.Dir(rel)] = struct{}{}
	}

	for relDir := range changedDirs {
		wsdlHashes, err := s.hashDocs(ctx, relDir, storage.IsWSDLName)
		if err != nil {
			return err
		}
		if err := s.writeJSON(ctx, relDir+"/"+storage.WSDLHashFile, wsdlHashes); err != nil {
			return err
		}
		openAPIHashes, err := s.hashDocs(ctx, relDir, storage.IsOpenAPIName)
		if err != nil {
			return err
		}
		if err := s.writeJSON(ctx, relDir+"/"+storage.OpenAPIHashFile, openAPIHashes); err != nil {
			return err
		}
	}
	return nil
}

// scanVersions rebuilds the version list from the bucket listing. Version
// objects live directly under the prefix.
func (s *Store) scanVersions(ctx context.Context) ([]catalogue.Version, error) {
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	var versions []catalogue.Version
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, apperrors.NewStorageError(backendName, "list versions", object.Err)
		}
		name := strings.TrimPrefix(object.Key, prefix)
		if version, ok := catalogue.VersionFromFileName(name); ok {
			versions = append(versions, version)
		}
	}
	catalogue.SortVersions(versions)
	return versions, nil
}

func (s *Store) readHistory(ctx context.Context) ([]catalogue.Version, error) {
	data, err := s.readObject(ctx, storage.HistoryFile)
	if err != nil {
		return nil, err
	}
	return storage.DecodeHistory(data)
}

func (s *Store) writeHistory(ctx context.Context, name string, versions []catalogue.Version) error {
	data, err := storage.EncodeHistory(versions)
	if err != nil {
		return apperrors.NewStorageError(backendName, "encode history", err)
	}
	return s.writeObject(ctx, name, data, "application/json")
}

func (s *Store) readCleanupStatus(ctx context.Context) (time.Time, bool) {
	data, err := s.readObject(ctx, storage.CleanupStatusFile)
	if err != nil {
		return time.Time{}, false
	}
	var status storage.CleanupStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return time.Time{}, false
	}
	last, err := time.Parse(catalogue.DateFormat, status.LastCleanup)
	if err != nil {
		return time.Time{}, false
	}
	return last, true
}

func (s *Store) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return s.prefix + "/" + rel
}

func (s *Store) readObject(ctx context.Context, rel string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, s.key(rel), minio.GetObjectOptions{})
	if err != nil {
		return nil, apperrors.NewStorageError(backendName, "read "+rel, err)
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, apperrors.NewStorageError(backendName, "read "+rel, err)
	}
	return data, nil
}

func (s *Store) writeJSON(ctx context.Context, rel string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return apperrors.NewStorageError(backendName, "encode "+rel, err)
	}
	return s.writeObject(ctx, rel, data, "application/json")
}

func (s *Store) writeObject(ctx context.Context, rel string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(rel), bytes.NewReader(data),
		int64(len(data)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return apperrors.NewStorageError(backendName, "write "+rel, err)
	}
	return nil
}
