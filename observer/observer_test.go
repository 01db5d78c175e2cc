package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/npms-io/npms-analyzer/registrydata"
)

func TestDedupNames_RemovesDuplicatesAndSorts(t *testing.T) {
	batch := []registrydata.Change{
		{Name: "lodash", Seq: "1"},
		{Name: "chalk", Seq: "2"},
		{Name: "lodash", Seq: "3"},
	}
	assert.Equal(t, []string{"chalk", "lodash"}, dedupNames(batch))
}

func TestCheckpointKey_NamespacesObserverDocuments(t *testing.T) {
	assert.Equal(t, "obs!lodash", checkpointKey("lodash"))
}

func TestRealtimeConfig_DefaultsIdleFlushAndConcurrency(t *testing.T) {
	r := &Realtime{}
	assert.Equal(t, 2500*time.Millisecond, r.idleFlush())
	assert.Equal(t, 2, r.concurrency())

	r.Config = RealtimeConfig{Concurrency: 10, IdleFlush: time.Second}
	assert.Equal(t, time.Second, r.idleFlush())
	assert.Equal(t, 10, r.concurrency())
}

func TestStaleConfig_DefaultThresholdsMatchSpec(t *testing.T) {
	c := StaleConfig{}
	assert.Equal(t, 12*time.Hour, c.failedThreshold())
	assert.Equal(t, 25*24*time.Hour, c.normalThreshold())
	assert.Equal(t, 5*time.Minute, c.checkInterval())
	assert.Equal(t, 500, c.pageSize())
	assert.Equal(t, 2, c.concurrency())
}

func TestStaleConfig_ExplicitValuesOverrideDefaults(t *testing.T) {
	c := StaleConfig{FailedThreshold: time.Hour, NormalThreshold: 2 * time.Hour, CheckInterval: time.Minute, PageSize: 10, Concurrency: 5}
	assert.Equal(t, time.Hour, c.failedThreshold())
	assert.Equal(t, 2*time.Hour, c.normalThreshold())
	assert.Equal(t, time.Minute, c.checkInterval())
	assert.Equal(t, 10, c.pageSize())
	assert.Equal(t, 5, c.concurrency())
}
