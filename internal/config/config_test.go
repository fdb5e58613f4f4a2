package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	const doc = `
scheduler:
  max_pdschs_per_slot: 8
  max_puschs_per_slot: 8
  max_pucchs_per_slot: 16
  max_ul_grants_per_slot: 8
  max_pdcch_alloc_attempts_per_slot: 12
  pre_policy_rr_ue_group_size: 2
  dl_harq_retx_timeout: 32
  ul_harq_retx_timeout: 32
  ack_timeout_slots: 240
  enable_csi_rs_pdsch_multiplexing: true
  strategy_cfg:
    kind: time_qos
    alpha: 1.0
    beta: 0.5
    gamma: 0.1
server:
  bind_address: 127.0.0.1
  port: 9100
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), cfg.Scheduler.MaxPDSCHsPerSlot)
	assert.Equal(t, "time_qos", cfg.Scheduler.Strategy.Kind)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestValidate_RejectsUnknownStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.Strategy.Kind = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsZeroCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.MaxPDSCHsPerSlot = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_TimeQoSRequiresAlphaBeta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scheduler.Strategy.Kind = "time_qos"
	assert.Error(t, cfg.Validate())
	cfg.Scheduler.Strategy.Alpha = 1
	cfg.Scheduler.Strategy.Beta = 1
	assert.NoError(t, cfg.Validate())
}
