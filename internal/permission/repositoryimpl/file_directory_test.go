package repositoryimpl

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskdesk/pkg/cerr"
)

const directoryV1 = `
departments:
  - id: warehouse
    name: Warehouse
    managers: [mia]
users:
  - id: mia
    departments: [warehouse]
  - id: dan
    departments: [warehouse]
`

const directoryV2 = directoryV1 + `
  - id: ops-admin
    admin: true
`

func TestFileDirectory_LoadAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(directoryV1), 0o644))

	d, err := NewFileDirectory(path)
	require.NoError(t, err)

	dep, err := d.Department(ctx, "warehouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"mia"}, dep.Managers)

	_, err = d.User(ctx, "ops-admin")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))

	require.NoError(t, os.WriteFile(path, []byte(directoryV2), 0o644))
	require.NoError(t, d.Reload())
	u, err := d.User(ctx, "ops-admin")
	require.NoError(t, err)
	assert.True(t, u.Admin)

	require.NoError(t, os.WriteFile(path, []byte("users: [::"), 0o644))
	assert.Error(t, d.Reload())
	_, err = d.User(ctx, "ops-admin")
	assert.NoError(t, err, "previous snapshot must survive a bad file")
}

func TestFileDirectory_RejectsUnknownDepartment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - id: x\n    departments: [nowhere]\n"), 0o644))
	_, err := NewFileDirectory(path)
	assert.ErrorContains(t, err, "unknown department")
}

func TestFileDirectory_Watch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(directoryV1), 0o644))

	d, err := NewFileDirectory(path)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- d.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(directoryV2), 0o644))
	assert.Eventually(t, func() bool {
		_, err := d.User(ctx, "ops-admin")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
