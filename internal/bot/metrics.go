// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wallbot",
		Subsystem: "bot",
		Name:      "updates_total",
		Help:      "Handled Telegram updates by kind.",
	}, []string{"kind"})

	scheduledPostsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wallbot",
		Subsystem: "bot",
		Name:      "scheduled_posts_total",
		Help:      "Wallpapers posted to channels by schedules.",
	})
)

func observeUpdate(kind string) { updatesTotal.WithLabelValues(kind).Inc() }

func observeScheduledPost() { scheduledPostsTotal.Inc() }
