// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wallbot",
	Subsystem: "fetch",
	Name:      "requests_total",
	Help:      "Wallpaper fetch attempts by provider and outcome.",
}, []string{"provider", "outcome"})

func observeFetch(provider, outcome string) {
	fetchTotal.WithLabelValues(provider, outcome).Inc()
}
