// Package fsstore persists catalogue versions on a local filesystem. Index
// documents are written through a temp-file-then-rename step so readers of
// the latest pointer and history indices never observe a partial write.
package fsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/xroad-catalogue/collector/internal/catalogue"
	"github.com/xroad-catalogue/collector/internal/logger"
	"github.com/xroad-catalogue/collector/internal/storage"
	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

const backendName = "fs"

// Store is a filesystem storage backend rooted at one output directory.
type Store struct {
	root      string
	retention storage.Retention
	log       *logger.Logger
	now       func() time.Time
}

// New creates a Store rooted at outputPath, creating the directory when
// needed.
func New(outputPath string, retention storage.Retention, log *logger.Logger) (*Store, error) {
	if outputPath == "" {
		return nil, apperrors.NewValidationError("output_path", "output path is required", nil)
	}
	if err := os.MkdirAll(outputPath, 0o755); err != nil {
		return nil, apperrors.NewStorageError(backendName, "create output directory", err)
	}
	return &Store{
		root:      outputPath,
		retention: retention,
		log:       log,
		now:       time.Now,
	}, nil
}

// Persist writes the snapshot as a new catalogue version and then lets the
// cleanup gate decide whether a retention pass runs.
func (s *Store) Persist(ctx context.Context, snapshot *catalogue.Snapshot) error {
	if err := s.writeArtifacts(snapshot); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshot.Subsystems, "", "  ")
	if err != nil {
		return apperrors.NewStorageError(backendName, "encode version", err)
	}

	versionFile := snapshot.FileName()
	if err := s.writeFile(versionFile, data); err != nil {
		return err
	}

	history, err := s.readHistory()
	if err != nil {
		s.log.Info("history index not found, starting a new one")
		history = nil
	}
	history = append(history, catalogue.Version{
		ReportTime: snapshot.ReportTime,
		ReportPath: versionFile,
	})
	catalogue.SortVersions(history)

	if err := s.writeHistory(storage.HistoryFile, history); err != nil {
		return err
	}

	filtered := storage.FilteredHistory(
		history, s.now(),
		s.retention.FilteredHours, s.retention.FilteredDays, s.retention.FilteredMonths)
	if err := s.writeHistory(storage.FilteredHistoryFile, filtered); err != nil {
		return err
	}

	// The latest pointer is replaced only after the version itself and the
	// history indices are durable.
	if err := s.writeFile(storage.LatestFile, data); err != nil {
		return err
	}

	status := storage.Status{LastReport: snapshot.ReportTime.Format(catalogue.DateFormat)}
	if err := s.writeJSON(storage.StatusFile, status); err != nil {
		return err
	}

	s.log.WithFields(map[string]any{
		"version":    versionFile,
		"subsystems": len(snapshot.Subsystems),
	}).Info("catalogue version persisted")

	return s.Cleanup(ctx)
}

// ListHistory returns the version history oldest first, rebuilding it from
// the directory listing when the history index is missing.
func (s *Store) ListHistory(_ context.Context) ([]catalogue.Version, error) {
	history, err := s.readHistory()
	if err == nil {
		return history, nil
	}
	return s.scanVersions()
}

// Cleanup deletes versions outside the retention window and artifacts no
// retained version references. The pass is skipped while the configured
// interval since the last cleanup has not elapsed.
func (s *Store) Cleanup(_ context.Context) error {
	if last, ok := s.readCleanupStatus(); ok {
		if !storage.CleanupDue(last, s.retention.CleanupInterval, s.now()) {
			s.log.Debug("cleanup interval has not passed yet")
			return nil
		}
	}
	s.log.Info("starting cleanup")

	versions, err := s.scanVersions()
	if err != nil {
		return err
	}

	if len(versions) > 0 {
		if err := s.removeOldVersions(versions); err != nil {
			return err
		}
		if err := s.removeUnusedDocs(); err != nil {
			return err
		}
	} else {
		s.log.Warn("no catalogue versions found during cleanup")
	}

	status := storage.CleanupStatus{LastCleanup: s.now().Format(catalogue.DateFormat)}
	return s.writeJSON(storage.CleanupStatusFile, status)
}

// Close releases no resources for the filesystem backend.
func (s *Store) Close() error { return nil }

// writeArtifacts stores every document the snapshot carries and fills the
// relative artifact paths into the reports. Unchanged documents keep the
// artifact name already present in the subsystem's hash cache.
func (s *Store) writeArtifacts(snapshot *catalogue.Snapshot) error {
	for i := range snapshot.Subsystems {
		subsystem := &snapshot.Subsystems[i]
		relDir := subsystem.ID.Path()
		dir := filepath.Join(s.root, filepath.FromSlash(relDir))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.NewStorageError(backendName, "create subsystem directory", err)
		}

		wsdlHashes := s.loadHashes(dir, storage.WSDLHashFile, storage.IsWSDLName)
		openAPIHashes := s.loadHashes(dir, storage.OpenAPIHashFile, storage.IsOpenAPIName)

		for j := range subsystem.Methods {
			method := &subsystem.Methods[j]
			if method.Document == nil {
				continue
			}
			name, err := s.storeDoc(dir, wsdlHashes, method.Document)
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
			name, err := s.storeDoc(dir, openAPIHashes, service.Document)
			if err != nil {
				return err
			}
			service.OpenAPIPath = relDir + "/" + name
		}

		if err := s.writeJSON(filepath.Join(relDir, storage.WSDLHashFile), wsdlHashes); err != nil {
			return err
		}
		if err := s.writeJSON(filepath.Join(relDir, storage.OpenAPIHashFile), openAPIHashes); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) storeDoc(dir string, hashes map[string]string, doc *catalogue.Document) (string, error) {
	name, hash, existing, err := storage.ResolveDocName(hashes, doc)
	if err != nil {
		return "", apperrors.NewStorageError(backendName, "resolve document name", err)
	}
	if existing {
		return name, nil
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(doc.Content), 0o644); err != nil {
		return "", apperrors.NewStorageError(backendName, "write document", err)
	}
	hashes[name] = hash
	return name, nil
}

// loadHashes reads a subsystem's hash cache, rebuilding it from artifact
// content when the cache is missing or unreadable.
func (s *Store) loadHashes(dir, cacheFile string, match func(string) bool) map[string]string {
	data, err := os.ReadFile(filepath.Join(dir, cacheFile))
	if err == nil {
		var hashes map[string]string
		if json.Unmarshal(data, &hashes) == nil && hashes != nil {
			return hashes
		}
	}
	return s.hashDocs(dir, match)
}

func (s *Store) hashDocs(dir string, match func(string) bool) map[string]string {
	hashes := make(map[string]string)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return hashes
	}
	for _, entry := range entries {
		if entry.IsDir() || !match(entry.Name()) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		hashes[entry.Name()] = storage.DocHash(string(content))
	}
	return hashes
}

func (s *Store) removeOldVersions(versions []catalogue.Version) error {
	now := s.now()
	fresh := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -s.retention.DaysToKeep)

	keep := make(map[string]struct{})
	for _, path := range storage.ReportsToKeep(versions, fresh) {
		keep[path] = struct{}{}
	}

	removed := 0
	for _, version := range versions {
		if _, ok := keep[version.ReportPath]; ok {
			continue
		}
		s.log.WithFields(map[string]any{"version": version.ReportPath}).Info("removing old version")
		if err := os.Remove(filepath.Join(s.root, version.ReportPath)); err != nil {
			return apperrors.NewStorageError(backendName, "remove version", err)
		}
		removed++
	}
	if removed == 0 {
		return nil
	}

	remaining, err := s.scanVersions()
	if err != nil {
		return err
	}
	return s.writeHistory(storage.HistoryFile, remaining)
}

func (s *Store) removeUnusedDocs() error {
	versions, err := s.scanVersions()
	if err != nil || len(versions) == 0 {
		return err
	}

	used := make(map[string]struct{})
	for _, version := range versions {
		data, err := os.ReadFile(filepath.Join(s.root, version.ReportPath))
		if err != nil {
			return apperrors.NewStorageError(backendName, "read version", err)
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
	err = filepath.WalkDir(s.root, func(path string, entry os.DirEntry, err error) error {
		if err != nil || entry.IsDir() || !storage.IsArtifactName(entry.Name()) {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := used[rel]; ok {
			return nil
		}
		s.log.WithFields(map[string]any{"document": rel}).Info("removing unused document")
		if err := os.Remove(path); err != nil {
			return err
		}
		changedDirs[filepath.Dir(path)] = struct{}{}
		return nil
	})
	if err != nil {
		return apperrors.NewStorageError(backendName, "sweep documents", err)
	}

	for dir := range changedDirs {
		rel, err := filepath.Rel(s.root, dir)
		if err != nil {
			continue
		}
		if err := s.writeJSON(filepath.Join(rel, storage.WSDLHashFile), s.hashDocs(dir, storage.IsWSDLName)); err != nil {
			return err
		}
		if err := s.writeJSON(filepath.Join(rel, storage.OpenAPIHashFile), s.hashDocs(dir, storage.IsOpenAPIName)); err != nil {
			return err
		}
	}
	return nil
}

// scanVersions rebuilds the version list from the directory listing.
func (s *Store) scanVersions() ([]catalogue.Version, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, apperrors.NewStorageError(backendName, "list output directory", err)
	}
	var versions []catalogue.Version
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if version, ok := catalogue.VersionFromFileName(entry.Name()); ok {
			versions = append(versions, version)
		}
	}
	catalogue.SortVersions(versions)
	return versions, nil
}

func (s *Store) readHistory() ([]catalogue.Version, error) {
	data, err := os.ReadFile(filepath.Join(s.root, storage.HistoryFile))
	if err != nil {
		return nil, err
	}
	return storage.DecodeHistory(data)
}

func (s *Store) writeHistory(name string, versions []catalogue.Version) error {
	data, err := storage.EncodeHistory(versions)
	if err != nil {
		return apperrors.NewStorageError(backendName, "encode history", err)
	}
	return s.writeFile(name, data)
}

func (s *Store) readCleanupStatus() (time.Time, bool) {
	data, err := os.ReadFile(filepath.Join(s.root, storage.CleanupStatusFile))
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

func (s *Store) writeJSON(name string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return apperrors.NewStorageError(backendName, "encode "+name, err)
	}
	return s.writeFile(name, data)
}

// writeFile writes through a temp file and renames it into place so index
// readers never observe a partial document.
func (s *Store) writeFile(name string, data []byte) error {
	target := filepath.Join(s.root, filepath.FromSlash(name))
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperrors.NewStorageError(backendName, "write "+name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return apperrors.NewStorageError(backendName, "replace "+name, err)
	}
	return nil
}
