package deploy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/windseeker5/minipass-env-sub001/internal/deploy"
	"github.com/windseeker5/minipass-env-sub001/internal/registry"
)

// --- Fake Source ---

type fakeSource struct {
	cloneFn func(ctx context.Context, dir string) error
	syncFn  func(ctx context.Context, dir string, keep []string) error

	cloneCalls int
	syncCalls  int
}

func (f *fakeSource) Clone(ctx context.Context, dir string) error {
	f.cloneCalls++
	if f.cloneFn != nil {
		return f.cloneFn(ctx, dir)
	}
	return writeCheckout(dir, "v1")
}

func (f *fakeSource) Sync(ctx context.Context, dir string, keep []string) error {
	f.syncCalls++
	if f.syncFn != nil {
		return f.syncFn(ctx, dir, keep)
	}
	// Emulate fetch+reset: tracked files move to the new revision, the
	// keep paths are untouched.
	return os.WriteFile(filepath.Join(dir, "app.py"), []byte("v2"), 0o644)
}

// writeCheckout lays down a minimal template checkout: a .git marker and
// one tracked file.
func writeCheckout(dir, revision string) error {
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "app.py"), []byte(revision), 0o644)
}

// --- Helpers ---

func testCustomer() *registry.Customer {
	return &registry.Customer{
		Subdomain:         "acme",
		Email:             "owner@acme.test",
		OrganizationName:  "ACME Hockey",
		Plan:              "standard",
		Port:              9101,
		AdminPasswordHash: "$2a$12$fixturehash",
		BillingFrequency:  "monthly",
		PriceRef:          "price_std_monthly_25",
		PaymentAmount:     2500,
		Currency:          "cad",
	}
}

func newMaterializer(t *testing.T, src deploy.Source) (*deploy.Materializer, string) {
	t.Helper()
	root := t.TempDir()
	m := deploy.NewMaterializer(deploy.Config{
		DeployedRoot: root,
		BaseDomain:   "minipass.me",
		SharedAPIKey: "shared-key-123",
		HookTimeout:  5 * time.Second,
	}, src)
	return m, root
}

// --- Materialize ---

func TestMaterialize_FreshUnit(t *testing.T) {
	// Arrange
	src := &fakeSource{}
	m, root := newMaterializer(t, src)

	// Act
	unit, err := m.Materialize(context.Background(), testCustomer())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "acme"), unit)
	assert.Equal(t, 1, src.cloneCalls)
	assert.Equal(t, 0, src.syncCalls)

	// Data dirs exist for the bind mounts.
	assert.DirExists(t, filepath.Join(unit, "app", "instance"))
	assert.DirExists(t, filepath.Join(unit, "app", "static", "uploads"))

	// Compose file carries the port mapping, naming, and proxy host.
	raw, err := os.ReadFile(filepath.Join(unit, "docker-compose.yml"))
	require.NoError(t, err)

	var compose struct {
		Services map[string]struct {
			ContainerName string            `yaml:"container_name"`
			Image         string            `yaml:"image"`
			Ports         []string          `yaml:"ports"`
			Environment   map[string]string `yaml:"environment"`
			Labels        map[string]string `yaml:"labels"`
		} `yaml:"services"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &compose))
	web, ok := compose.Services["web"]
	require.True(t, ok, "compose must define a web service")
	assert.Equal(t, "minipass-acme", web.ContainerName)
	assert.Equal(t, "minipass-acme:latest", web.Image)
	assert.Equal(t, []string{"9101:5000"}, web.Ports)
	assert.Equal(t, "acme.minipass.me", web.Environment["VIRTUAL_HOST"])
	assert.Equal(t, "acme", web.Labels["io.minipass.subdomain"])
}

func TestMaterialize_RendersEnvFile(t *testing.T) {
	// Arrange
	m, _ := newMaterializer(t, &fakeSource{})
	c := testCustomer()

	// Act
	unit, err := m.Materialize(context.Background(), c)

	// Assert
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(unit, "app", ".env"))
	require.NoError(t, err)
	env := string(raw)

	assert.Contains(t, env, "ADMIN_EMAIL=owner@acme.test")
	assert.Contains(t, env, "ADMIN_PASSWORD_HASH=$2a$12$fixturehash")
	assert.Contains(t, env, "APP_URL=https://acme.minipass.me")
	assert.Contains(t, env, "PLAN=standard")
	assert.Contains(t, env, "SHARED_API_KEY=shared-key-123")

	// Billing identifiers stay in the registry, never on disk.
	assert.NotContains(t, env, "price_std_monthly_25")
}

func TestMaterialize_PreservesDataAcrossSync(t *testing.T) {
	// Arrange: a deployed unit with customer data in both preserved paths
	src := &fakeSource{}
	m, _ := newMaterializer(t, src)
	c := testCustomer()

	unit, err := m.Materialize(context.Background(), c)
	require.NoError(t, err)

	dbFile := filepath.Join(unit, "app", "instance", "minipass.db")
	uploadFile := filepath.Join(unit, "app", "static", "uploads", "logo.png")
	require.NoError(t, os.WriteFile(dbFile, []byte("customer-rows"), 0o644))
	require.NoError(t, os.WriteFile(uploadFile, []byte("png-bytes"), 0o644))

	// Act: materialize again over the existing unit
	_, err = m.Materialize(context.Background(), c)

	// Assert: sync ran instead of a fresh clone, data survived, source
	// moved to the new revision
	require.NoError(t, err)
	assert.Equal(t, 1, src.cloneCalls)
	assert.Equal(t, 1, src.syncCalls)

	data, err := os.ReadFile(dbFile)
	require.NoError(t, err)
	assert.Equal(t, "customer-rows", string(data))

	upload, err := os.ReadFile(uploadFile)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(upload))

	tracked, err := os.ReadFile(filepath.Join(unit, "app", "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(tracked))
}

func TestMaterialize_PathConflict(t *testing.T) {
	// Arrange: unit path holds an app dir that is not a git checkout
	m, root := newMaterializer(t, &fakeSource{})
	foreign := filepath.Join(root, "acme", "app")
	require.NoError(t, os.MkdirAll(foreign, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(foreign, "notes.txt"), []byte("not ours"), 0o644))

	// Act
	_, err := m.Materialize(context.Background(), testCustomer())

	// Assert: refused, foreign file untouched
	require.ErrorIs(t, err, deploy.ErrPathConflict)
	assert.FileExists(t, filepath.Join(foreign, "notes.txt"))
}

func TestMaterialize_ResumesPartialUnit(t *testing.T) {
	// Arrange: unit dir exists but the checkout never happened
	src := &fakeSource{}
	m, root := newMaterializer(t, src)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme"), 0o755))

	// Act
	_, err := m.Materialize(context.Background(), testCustomer())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 1, src.cloneCalls)
}

func TestMaterialize_SourceCheckoutFailure(t *testing.T) {
	// Arrange
	src := &fakeSource{
		cloneFn: func(_ context.Context, _ string) error {
			return errors.New("remote unreachable")
		},
	}
	m, _ := newMaterializer(t, src)

	// Act
	_, err := m.Materialize(context.Background(), testCustomer())

	// Assert
	require.ErrorIs(t, err, deploy.ErrSourceCheckout)
	assert.Contains(t, err.Error(), "remote unreachable")
}

// --- RefreshEnv ---

func TestRefreshEnv_RewritesCredentials(t *testing.T) {
	// Arrange
	m, _ := newMaterializer(t, &fakeSource{})
	c := testCustomer()
	unit, err := m.Materialize(context.Background(), c)
	require.NoError(t, err)

	// Act
	c.AdminPasswordHash = "$2a$12$rotatedhash"
	require.NoError(t, m.RefreshEnv(c))

	// Assert
	raw, err := os.ReadFile(filepath.Join(unit, "app", ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ADMIN_PASSWORD_HASH=$2a$12$rotatedhash")
	assert.NotContains(t, string(raw), "fixturehash")
}

func TestRefreshEnv_MissingUnit(t *testing.T) {
	m, _ := newMaterializer(t, &fakeSource{})

	err := m.RefreshEnv(testCustomer())

	require.ErrorIs(t, err, deploy.ErrUnitMissing)
}

// --- Backup / Restore ---

func TestBackupRestore_RoundTrip(t *testing.T) {
	// Arrange: a unit with data in both preserved paths
	m, _ := newMaterializer(t, &fakeSource{})
	c := testCustomer()
	unit, err := m.Materialize(context.Background(), c)
	require.NoError(t, err)

	dbFile := filepath.Join(unit, "app", "instance", "minipass.db")
	uploadFile := filepath.Join(unit, "app", "static", "uploads", "team.jpg")
	require.NoError(t, os.WriteFile(dbFile, []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(uploadFile, []byte("jpeg"), 0o644))

	// Act: back up, clobber the live data, restore
	backupDir, err := m.Backup(unit)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(backupDir, filepath.Join(unit, "backups")),
		"backup must live under the unit's backups dir")

	require.NoError(t, os.WriteFile(dbFile, []byte("clobbered"), 0o644))
	require.NoError(t, os.Remove(uploadFile))

	require.NoError(t, m.Restore(unit, backupDir))

	// Assert
	data, err := os.ReadFile(dbFile)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	upload, err := os.ReadFile(uploadFile)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(upload))
}

func TestBackup_MissingUnit(t *testing.T) {
	m, root := newMaterializer(t, &fakeSource{})

	_, err := m.Backup(filepath.Join(root, "ghost"))

	require.ErrorIs(t, err, deploy.ErrUnitMissing)
}

func TestRestore_MissingBackupDir(t *testing.T) {
	// Arrange
	m, _ := newMaterializer(t, &fakeSource{})
	unit, err := m.Materialize(context.Background(), testCustomer())
	require.NoError(t, err)

	// Act
	err = m.Restore(unit, filepath.Join(unit, "backups", "never-taken"))

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

// --- MigrateData ---

func TestMigrateData_NoHook(t *testing.T) {
	m, _ := newMaterializer(t, &fakeSource{})
	unit, err := m.Materialize(context.Background(), testCustomer())
	require.NoError(t, err)

	assert.NoError(t, m.MigrateData(context.Background(), unit))
}

func TestMigrateData_RunsHook(t *testing.T) {
	// Arrange: template ships a migration hook
	m, _ := newMaterializer(t, &fakeSource{})
	unit, err := m.Materialize(context.Background(), testCustomer())
	require.NoError(t, err)

	scriptsDir := filepath.Join(unit, "app", "scripts")
	require.NoError(t, os.MkdirAll(scriptsDir, 0o755))
	script := "#!/bin/sh\ntouch migrated.flag\n"
	require.NoError(t, os.WriteFile(filepath.Join(scriptsDir, "migrate.sh"), []byte(script), 0o755))

	// Act
	err = m.MigrateData(context.Background(), unit)

	// Assert: hook ran in the app dir
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(unit, "app", "migrated.flag"))
}

func TestMigrateData_HookFailure(t *testing.T) {
	// Arrange
	m, _ := newMaterializer(t, &fakeSource{})
	unit, err := m.Materialize(context.Background(), testCustomer())
	require.NoError(t, err)

	scriptsDir := filepath.Join(unit, "app", "scripts")
	require.NoError(t, os.MkdirAll(scriptsDir, 0o755))
	script := "#!/bin/sh\necho schema version mismatch >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(scriptsDir, "migrate.sh"), []byte(script), 0o755))

	// Act
	err = m.MigrateData(context.Background(), unit)

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version mismatch")
}

// --- RemoveUnit ---

func TestRemoveUnit_DeletesUnitAndBackups(t *testing.T) {
	// Arrange: a unit with data and a backup on disk
	m, _ := newMaterializer(t, &fakeSource{})
	unit, err := m.Materialize(context.Background(), testCustomer())
	require.NoError(t, err)

	dbFile := filepath.Join(unit, "app", "instance", "minipass.db")
	require.NoError(t, os.WriteFile(dbFile, []byte("rows"), 0o644))
	_, err = m.Backup(unit)
	require.NoError(t, err)

	// Act
	require.NoError(t, m.RemoveUnit(unit))

	// Assert
	assert.NoDirExists(t, unit)
}

func TestRemoveUnit_MissingUnitIsNoError(t *testing.T) {
	// A teardown retried after a crash must not trip over the unit
	// already being gone.
	m, root := newMaterializer(t, &fakeSource{})

	assert.NoError(t, m.RemoveUnit(filepath.Join(root, "ghost")))
}
