package fsstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xroad-catalogue/collector/internal/catalogue"
	"github.com/xroad-catalogue/collector/internal/logger"
	"github.com/xroad-catalogue/collector/internal/storage"
	"github.com/xroad-catalogue/collector/internal/xroad"
)

func testRetention() storage.Retention {
	return storage.Retention{
		FilteredHours:   24,
		FilteredDays:    30,
		FilteredMonths:  12,
		DaysToKeep:      30,
		CleanupInterval: 7,
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir(), testRetention(), logger.Nop())
	require.NoError(t, err)
	return store
}

func testSnapshot(reportTime time.Time, wsdl string) *catalogue.Snapshot {
	subsystem := xroad.SubsystemID{
		MemberID:      xroad.MemberID{Instance: "DEV", MemberClass: "GOV", MemberCode: "100"},
		SubsystemCode: "SUB",
	}
	return &catalogue.Snapshot{
		ReportTime: reportTime,
		Subsystems: []catalogue.SubsystemReport{
			{
				ID:              subsystem,
				SubsystemStatus: catalogue.StatusOK,
				ServicesStatus:  catalogue.StatusOK,
				Methods: []catalogue.MethodReport{
					{
						ID: xroad.MethodID{
							SubsystemID:    subsystem,
							ServiceCode:    "svc",
							ServiceVersion: "v1",
						},
						Status:   catalogue.StatusOK,
						Document: &catalogue.Document{Content: wsdl, Format: catalogue.DocWSDL},
					},
				},
				Services: []catalogue.ServiceReport{
					{
						ID:     xroad.ServiceID{SubsystemID: subsystem, ServiceCode: "petstore"},
						Status: catalogue.StatusOK,
						Document: &catalogue.Document{
							Content:     "openapi: 3.0.0\npaths: {}\n",
							Format:      catalogue.DocYAML,
							ServiceCode: "petstore",
						},
						Endpoints: []xroad.Endpoint{{Verb: "get", Path: "/pets"}},
					},
				},
			},
		},
	}
}

func readJSONFile(t *testing.T, path string, value any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, value))
}

func TestPersistWritesVersionAndIndices(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	reportTime := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return reportTime }

	snapshot := testSnapshot(reportTime, "<wsdl/>")
	require.NoError(t, store.Persist(context.Background(), snapshot))

	// Artifact paths were resolved into the reports.
	assert.Equal(t, "GOV/100/SUB/0.wsdl", snapshot.Subsystems[0].Methods[0].WSDLPath)
	assert.Equal(t, "GOV/100/SUB/petstore_0.yaml", snapshot.Subsystems[0].Services[0].OpenAPIPath)

	for _, name := range []string{
		"index_20240610120000.json",
		storage.LatestFile,
		storage.HistoryFile,
		storage.FilteredHistoryFile,
		storage.StatusFile,
		storage.CleanupStatusFile,
		"GOV/100/SUB/0.wsdl",
		"GOV/100/SUB/petstore_0.yaml",
		filepath.Join("GOV/100/SUB", storage.WSDLHashFile),
		filepath.Join("GOV/100/SUB", storage.OpenAPIHashFile),
	} {
		_, err := os.Stat(filepath.Join(store.root, filepath.FromSlash(name)))
		assert.NoError(t, err, name)
	}

	var index []map[string]any
	readJSONFile(t, filepath.Join(store.root, storage.LatestFile), &index)
	require.Len(t, index, 1)
	assert.Equal(t, "SUB", index[0]["subsystemCode"])

	var status storage.Status
	readJSONFile(t, filepath.Join(store.root, storage.StatusFile), &status)
	assert.Equal(t, "2024-06-10 12:00:00", status.LastReport)

	history, err := store.ListHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "index_20240610120000.json", history[0].ReportPath)
}

func TestPersistReusesUnchangedArtifacts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	first := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }

	snapshot := testSnapshot(first, "<wsdl/>")
	require.NoError(t, store.Persist(context.Background(), snapshot))

	second := first.Add(time.Hour)
	store.now = func() time.Time { return second }
	next := testSnapshot(second, "<wsdl/>")
	require.NoError(t, store.Persist(context.Background(), next))

	// Identical WSDL content keeps the same artifact.
	assert.Equal(t, "GOV/100/SUB/0.wsdl", next.Subsystems[0].Methods[0].WSDLPath)

	third := second.Add(time.Hour)
	store.now = func() time.Time { return third }
	changed := testSnapshot(third, "<wsdl changed='yes'/>")
	require.NoError(t, store.Persist(context.Background(), changed))

	// Changed content allocates the next sequence number.
	assert.Equal(t, "GOV/100/SUB/1.wsdl", changed.Subsystems[0].Methods[0].WSDLPath)

	history, err := store.ListHistory(context.Background())
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestPersistRebuildsLostHashCache(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	first := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }
	require.NoError(t, store.Persist(context.Background(), testSnapshot(first, "<wsdl/>")))

	// Losing the cache must not produce a duplicate artifact.
	require.NoError(t, os.Remove(filepath.Join(store.root, "GOV/100/SUB", storage.WSDLHashFile)))

	second := first.Add(time.Hour)
	store.now = func() time.Time { return second }
	next := testSnapshot(second, "<wsdl/>")
	require.NoError(t, store.Persist(context.Background(), next))
	assert.Equal(t, "GOV/100/SUB/0.wsdl", next.Subsystems[0].Methods[0].WSDLPath)
}

func TestListHistoryRebuildsFromListing(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(store.root, "index_20240101000000.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.root, "index_20240201000000.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.root, "unrelated.json"), []byte("{}"), 0o644))

	history, err := store.ListHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "index_20240101000000.json", history[0].ReportPath)
	assert.Equal(t, "index_20240201000000.json", history[1].ReportPath)
}

func writeVersionFile(t *testing.T, root, stamp, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index_"+stamp+".json"), []byte(content), 0o644))
}

func TestCleanupRemovesOldVersions(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	// Two versions on one old day, far outside the retention window.
	writeVersionFile(t, store.root, "20240401080000", "[]")
	writeVersionFile(t, store.root, "20240401200000", "[]")
	// A fresh version.
	writeVersionFile(t, store.root, "20240610100000", "[]")

	require.NoError(t, store.Cleanup(context.Background()))

	_, err := os.Stat(filepath.Join(store.root, "index_20240401080000.json"))
	assert.NoError(t, err, "first version of an old day is kept")
	_, err = os.Stat(filepath.Join(store.root, "index_20240401200000.json"))
	assert.True(t, os.IsNotExist(err), "second version of an old day is removed")
	_, err = os.Stat(filepath.Join(store.root, "index_20240610100000.json"))
	assert.NoError(t, err, "fresh version is kept")

	// History was rebuilt from the surviving versions.
	var history []catalogue.Version
	readJSONFile(t, filepath.Join(store.root, storage.HistoryFile), &history)
	assert.Len(t, history, 2)
}

func TestCleanupIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	writeVersionFile(t, store.root, "20240401080000", "[]")
	writeVersionFile(t, store.root, "20240401200000", "[]")
	writeVersionFile(t, store.root, "20240610100000", "[]")

	require.NoError(t, store.Cleanup(context.Background()))

	listDir := func() []string {
		entries, err := os.ReadDir(store.root)
		require.NoError(t, err)
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		return names
	}
	after := listDir()

	// Force a second pass through the interval gate.
	require.NoError(t, os.Remove(filepath.Join(store.root, storage.CleanupStatusFile)))
	require.NoError(t, store.Cleanup(context.Background()))

	second := listDir()
	assert.Equal(t, after, second)
}

func TestCleanupIntervalGate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	writeVersionFile(t, store.root, "20240401080000", "[]")
	writeVersionFile(t, store.root, "20240401200000", "[]")

	marker, err := json.Marshal(storage.CleanupStatus{LastCleanup: "2024-06-08 00:00:00"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.root, storage.CleanupStatusFile), marker, 0o644))

	require.NoError(t, store.Cleanup(context.Background()))

	// Interval not passed: nothing was deleted.
	_, err = os.Stat(filepath.Join(store.root, "index_20240401200000.json"))
	assert.NoError(t, err)
}

func TestCleanupKeepsVersionFilesAndReferencedDocuments(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	reportTime := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return reportTime }

	// First persist runs a due cleanup with real documents referenced.
	require.NoError(t, store.Persist(context.Background(), testSnapshot(reportTime, "<wsdl/>")))

	intact := func() {
		t.Helper()
		for _, name := range []string{
			"index_20240610120000.json",
			storage.LatestFile,
			"GOV/100/SUB/0.wsdl",
			"GOV/100/SUB/petstore_0.yaml",
		} {
			_, err := os.Stat(filepath.Join(store.root, filepath.FromSlash(name)))
			assert.NoError(t, err, name)
		}
		// The sweep never touches the catalogue root.
		_, err := os.Stat(filepath.Join(store.root, storage.WSDLHashFile))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(store.root, storage.OpenAPIHashFile))
		assert.True(t, os.IsNotExist(err))
	}
	intact()

	// A second, forced pass changes nothing either.
	require.NoError(t, os.Remove(filepath.Join(store.root, storage.CleanupStatusFile)))
	require.NoError(t, store.Cleanup(context.Background()))
	intact()
}

func TestPersistEncodedServiceCode(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	reportTime := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return reportTime }

	snapshot := testSnapshot(reportTime, "<wsdl/>")
	snapshot.Subsystems[0].Services[0].ID.ServiceCode = "my svc"
	snapshot.Subsystems[0].Services[0].Document.ServiceCode = "my svc"
	require.NoError(t, store.Persist(context.Background(), snapshot))

	// Published path and stored name are byte-identical.
	published := snapshot.Subsystems[0].Services[0].OpenAPIPath
	assert.Equal(t, "GOV/100/SUB/my%20svc_0.yaml", published)
	_, err := os.Stat(filepath.Join(store.root, filepath.FromSlash(published)))
	require.NoError(t, err)

	// A forced cleanup keeps the referenced artifact.
	require.NoError(t, os.Remove(filepath.Join(store.root, storage.CleanupStatusFile)))
	require.NoError(t, store.Cleanup(context.Background()))
	_, err = os.Stat(filepath.Join(store.root, filepath.FromSlash(published)))
	assert.NoError(t, err)
}

func TestCleanupRemovesUnreferencedDocuments(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	docDir := filepath.Join(store.root, "GOV", "100", "SUB")
	require.NoError(t, os.MkdirAll(docDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "0.wsdl"), []byte("<kept/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docDir, "1.wsdl"), []byte("<orphan/>"), 0o644))

	report := `[
	  {
	    "xRoadInstance": "DEV",
	    "methods": [{"serviceCode": "svc", "wsdl": "GOV/100/SUB/0.wsdl"}],
	    "services": []
	  }
	]`
	writeVersionFile(t, store.root, "20240610100000", report)

	require.NoError(t, store.Cleanup(context.Background()))

	_, err := os.Stat(filepath.Join(docDir, "0.wsdl"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(docDir, "1.wsdl"))
	assert.True(t, os.IsNotExist(err))

	// The hash cache was rebuilt for the changed directory.
	var hashes map[string]string
	readJSONFile(t, filepath.Join(docDir, storage.WSDLHashFile), &hashes)
	assert.Equal(t, map[string]string{"0.wsdl": storage.DocHash("<kept/>")}, hashes)
}
