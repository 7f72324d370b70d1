package asyncbeats

import (
	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/common/version"
)

func initPrometheus() {
	version.Version = builtVersion
	prometheus.MustRegister(versioncollector.NewCollector("asyncbeats"))
}
