// Copyright 2024 The memidx Authors
// This file is part of memidx.
//
// memidx is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// memidx is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with memidx. If not, see <http://www.gnu.org/licenses/>.

package pstats_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/coredbio/memidx/pagealloc"
	"github.com/coredbio/memidx/pagealloc/pstats"
)

type heapSource struct{ size int }

func (h heapSource) Alloc() ([]byte, error) { return make([]byte, h.size), nil }
func (h heapSource) Free([]byte)            {}

func metricValue(t *testing.T, reg *prometheus.Registry, name string) []float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var values []float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		require.Equal(t, dto.MetricType_GAUGE, fam.GetType())
		for _, m := range fam.GetMetric() {
			values = append(values, m.GetGauge().GetValue())
		}
	}
	return values
}

// TestCollectorReportsLiveAllocatorState exercises pstats.Collector,
// the Prometheus-facing view of pagealloc.Stats, through a real
// prometheus.Registry rather than calling Stats()/Collect() directly,
// so a regression in the metric descriptors (label mismatch, wrong
// type) would be caught the way registering it in a real process
// would catch it.
func TestCollectorReportsLiveAllocatorState(t *testing.T) {
	alloc, err := pagealloc.New(pagealloc.Config{ExtentSize: 1024, BlockSize: 64, Source: heapSource{1024}})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		_, err := alloc.Alloc()
		require.NoError(t, err)
	}
	view, err := alloc.CreateReadView()
	require.NoError(t, err)
	defer alloc.DestroyReadView(view)

	reg := prometheus.NewRegistry()
	reg.MustRegister(pstats.NewCollector(alloc))

	require.Equal(t, []float64{float64(alloc.ExtentCount())}, metricValue(t, reg, "memidx_pagealloc_extent_count"))
	require.Equal(t, []float64{2}, metricValue(t, reg, "memidx_pagealloc_live_versions"))

	blockCounts := metricValue(t, reg, "memidx_pagealloc_block_count")
	require.Len(t, blockCounts, 2) // head + the one read-view
	for _, v := range blockCounts {
		require.Equal(t, float64(50), v)
	}
}
