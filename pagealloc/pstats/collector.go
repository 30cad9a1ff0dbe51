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

// Package pstats exposes a pagealloc.Allocator's Stats as a
// prometheus.Collector, so a host process can register it alongside
// its other metrics without polling Stats() itself.
package pstats

import (
	"math/bits"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coredbio/memidx/pagealloc"
)

// StatsSource is satisfied by *pagealloc.Allocator.
type StatsSource interface {
	Stats() pagealloc.Stats
}

var (
	extentCountDesc = prometheus.NewDesc(
		"memidx_pagealloc_extent_count",
		"Number of live extents across every page-table level and every live version.",
		nil, nil,
	)
	blockCountDesc = prometheus.NewDesc(
		"memidx_pagealloc_block_count",
		"Number of blocks allocated, by version.",
		[]string{"version"}, nil,
	)
	liveVersionsDesc = prometheus.NewDesc(
		"memidx_pagealloc_live_versions",
		"Number of currently live versions, including the head.",
		nil, nil,
	)
)

// Collector adapts a StatsSource into a prometheus.Collector.
type Collector struct {
	source StatsSource
}

// NewCollector wraps source for registration with a prometheus.Registry.
func NewCollector(source StatsSource) *Collector {
	return &Collector{source: source}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- extentCountDesc
	ch <- blockCountDesc
	ch <- liveVersionsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(extentCountDesc, prometheus.GaugeValue, float64(s.ExtentCount))
	ch <- prometheus.MustNewConstMetric(liveVersionsDesc, prometheus.GaugeValue, float64(bits.OnesCount8(s.LiveVersions)))
	for v := 0; v < pagealloc.VersionCount; v++ {
		if s.LiveVersions&(1<<uint(v)) == 0 {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			blockCountDesc, prometheus.GaugeValue, float64(s.BlockCounts[v]),
			versionLabel(v),
		)
	}
}

func versionLabel(v int) string {
	const digits = "01234567"
	return string(digits[v])
}
