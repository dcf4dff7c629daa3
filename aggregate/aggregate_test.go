package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/transcode-pipeline/dag"
)

func TestAggregateFullSchemaColumn(t *testing.T) {
	rows := []dag.FrameRow{
		{Index: 0, Columns: map[string]float64{"SI_mean": 1}},
		{Index: 1, Columns: map[string]float64{"SI_mean": 3}},
		{Index: 2, Columns: map[string]float64{"SI_mean": 5}},
	}
	d := Aggregate(rows)
	require.InDelta(t, 1, d["SI_mean_min"], 1e-9)
	require.InDelta(t, 5, d["SI_mean_max"], 1e-9)
	require.InDelta(t, 3, d["SI_mean_mean"], 1e-9)
	require.Greater(t, d["SI_mean_std"], 0.0)
}

func TestAggregateRestrictedSchemaColumns(t *testing.T) {
	rows := []dag.FrameRow{
		{Index: 0, Columns: map[string]float64{"FHV13": 2}},
		{Index: 1, Columns: map[string]float64{"FHV13": 4}},
	}
	d := Aggregate(rows)
	require.Contains(t, d, "FHV13_max")
	require.NotContains(t, d, "FHV13_mean")
	require.NotContains(t, d, "FHV13_min")
	require.NotContains(t, d, "FHV13_std")
}

func TestCollectorStreamsWithoutBufferingRows(t *testing.T) {
	c := NewCollector()
	c.Add(FrameColumns{"SI_mean": 1})
	c.Add(FrameColumns{"SI_mean": 3})
	c.Add(FrameColumns{"SI_mean": 5})

	d := c.Descriptor()
	require.InDelta(t, 1, d["SI_mean_min"], 1e-9)
	require.InDelta(t, 5, d["SI_mean_max"], 1e-9)
	require.InDelta(t, 3, d["SI_mean_mean"], 1e-9)
	require.Greater(t, d["SI_mean_std"], 0.0)
}

func TestAggregateIgnoresMissingColumn(t *testing.T) {
	rows := []dag.FrameRow{
		{Index: 0, Columns: map[string]float64{}},
		{Index: 1, Columns: map[string]float64{"TI_mean": 10}},
		{Index: 2, Columns: map[string]float64{"TI_mean": 20}},
	}
	d := Aggregate(rows)
	_, present := d["TI_mean_mean"]
	require.False(t, present, "mean stat is not in TI_mean's declared schema")
	require.InDelta(t, 20, d["TI_mean_max"], 1e-9)
}
