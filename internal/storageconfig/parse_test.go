package storageconfig_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curtin-go/storage/internal/storageconfig"
)

func TestValidateRejectsBadVersion(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 3
  config: []
`))
	require.Error(t, err)
	var schemaErr *storageconfig.SchemaError
	assert.ErrorAs(t, err, &schemaErr)
}

func TestValidateRejectsDuplicateID(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: disk0
      type: disk
      serial: WD-1
    - id: disk0
      type: disk
      serial: WD-2
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate id")
}

func TestValidateRejectsUnknownType(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: x
      type: bogus
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestValidateDiskRequiresAnIdentifier(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: disk0
      type: disk
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires one of serial, wwn, path")
}

func TestValidatePartitionDeviceMustResolve(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: part0
      type: partition
      device: disk0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not resolve")
}

func TestValidateV2PartitionRequiresOffset(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 2
  config:
    - id: disk0
      type: disk
      serial: WD-1
    - id: part0
      type: partition
      device: disk0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "v2 partition actions must set offset")
}

func TestValidateResizeRequiresPreserve(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: disk0
      type: disk
      serial: WD-1
    - id: part0
      type: partition
      device: disk0
      resize: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resize is only valid with preserve")
}

func TestValidateRaidLevelMustBeRecognized(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: disk0
      type: disk
      serial: WD-1
    - id: disk1
      type: disk
      serial: WD-2
    - id: raid0
      type: raid
      raidlevel: 7
      devices: [disk0, disk1]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raidlevel must be one of")
}

func TestValidateDMCryptRequiresExactlyOneOfKeyOrKeyfile(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: disk0
      type: disk
      serial: WD-1
    - id: crypt0
      type: dm_crypt
      volume: disk0
      key: secret
      keyfile: /run/key
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of key or keyfile")
}

func TestValidateNVMeControllerTCPRequiresAddrAndPort(t *testing.T) {
	_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: nvme0
      type: nvme_controller
      transport: tcp
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires tcp_addr and tcp_port")
}

func TestValidateDASDLabelRules(t *testing.T) {
	cases := []struct {
		label   string
		wantErr string
	}{
		{"SHORT", "exactly 6 characters"},
		{"MIGRAT", "reserved"},
		{"LABCDE", "reserved"},
	}
	for _, c := range cases {
		_, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: dasd0
      type: dasd
      label_dasd: "` + c.label + `"
`))
		require.Error(t, err, c.label)
		assert.Contains(t, err.Error(), c.wantErr, c.label)
	}
}

func TestValidateAcceptsWellFormedDocument(t *testing.T) {
	doc, err := storageconfig.Parse([]byte(`
storage:
  version: 1
  config:
    - id: disk0
      type: disk
      serial: WD-1
      ptable: gpt
    - id: part0
      type: partition
      device: disk0
      size: 1G
    - id: fmt0
      type: format
      volume: part0
      fstype: ext4
    - id: mnt0
      type: mount
      device: fmt0
      path: /
`))
	require.NoError(t, err)
	assert.Equal(t, 4, len(doc.Config))
}
